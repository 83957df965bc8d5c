// Package client is the HTTP data client for the task API. It attaches the
// caller's bearer token to every request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"github.com/s1natex/todo-fixture-api/internal/tasks"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("task api: %s", e.Status)
}

func IsNotFound(err error) bool     { return hasStatus(err, http.StatusNotFound) }
func IsUnauthorized(err error) bool { return hasStatus(err, http.StatusUnauthorized) }

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Client struct {
	baseURL  string
	http     *http.Client
	maxTries uint
}

type Option func(*Client)

// WithBaseTransport sets the transport underneath the token-injecting one.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport.(*oauth2.Transport).Base = rt
	}
}

// WithMaxTries bounds attempts for reads that fail before reaching the server.
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = max(1, n) }
}

// New returns a client for the API rooted at baseURL (for example
// http://localhost:4000). Tokens come from ts on every request.
func New(baseURL string, ts oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &oauth2.Transport{Source: ts},
		},
		maxTries: 3,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewWithToken is New with a fixed access token.
func NewWithToken(baseURL, accessToken string, opts ...Option) *Client {
	return New(baseURL, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}), opts...)
}

type taskEnvelope struct {
	Task tasks.Task `json:"task"`
}

type listEnvelope struct {
	Tasks []tasks.Task `json:"tasks"`
}

func (c *Client) ListTasks(ctx context.Context) ([]tasks.Task, error) {
	var out listEnvelope
	if err := c.read(ctx, "/tasks", &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id int64) (tasks.Task, error) {
	var out taskEnvelope
	if err := c.read(ctx, taskPath(id), &out); err != nil {
		return tasks.Task{}, err
	}
	return out.Task, nil
}

func (c *Client) AddTask(ctx context.Context, title string) (tasks.Task, error) {
	var out taskEnvelope
	err := c.do(ctx, http.MethodPost, "/tasks", map[string]string{"title": title}, &out)
	return out.Task, err
}

// UpdateTask sends title and completed of t. The server ignores an empty
// title and completed=false.
func (c *Client) UpdateTask(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	var out taskEnvelope
	body := struct {
		Title     string `json:"title"`
		Completed bool   `json:"completed"`
	}{t.Title, t.Completed}
	err := c.do(ctx, http.MethodPut, taskPath(t.ID), body, &out)
	return out.Task, err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

func taskPath(id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}

// read retries GETs that fail in transport. HTTP error statuses are final.
func (c *Client) read(ctx context.Context, path string, out any) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
