package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/s1natex/todo-fixture-api/internal/auth"
	appmw "github.com/s1natex/todo-fixture-api/internal/middleware"
)

// tokens maps bearer tokens to subjects.
type tokens map[string]string

func (tk tokens) Verify(_ context.Context, token string) (string, error) {
	if sub, ok := tk[token]; ok {
		return sub, nil
	}
	return "", auth.ErrInvalidToken
}

func newTestServer() (*chi.Mux, *InMemoryRepo) {
	repo := NewInMemoryRepo()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(appmw.AuthMiddleware(appmw.AuthConfig{
			Verifier: tokens{"alice-token": "alice", "bob-token": "bob"},
			Logger:   logger,
		}))
		RegisterRoutes(r, repo, logger)
	})
	RegisterDebugRoutes(r, repo, logger)
	return r, repo
}

func do(t *testing.T, r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) Task {
	t.Helper()
	var got taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse JSON: %v (body=%s)", err, rec.Body.String())
	}
	return got.Task
}

func TestPostTasks_Success(t *testing.T) {
	r, _ := newTestServer()

	rec := do(t, r, http.MethodPost, "/tasks", "alice-token", `{"title":"learn chi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body=%s", rec.Code, rec.Body.String())
	}

	got := decodeTask(t, rec)
	if got.ID != 0 {
		t.Errorf("expected first ID to be 0, got %d", got.ID)
	}
	if got.Title != "learn chi" {
		t.Errorf("expected Title=learn chi, got %q", got.Title)
	}
	if got.Completed {
		t.Errorf("new tasks should default to Completed=false")
	}
}

func TestPostTasks_EmptyTitleAccepted(t *testing.T) {
	r, _ := newTestServer()

	rec := do(t, r, http.MethodPost, "/tasks", "alice-token", `{"title":"   "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeTask(t, rec); got.Title != "   " {
		t.Errorf("title should be stored verbatim, got %q", got.Title)
	}
}

func TestPostTasks_InvalidJSON(t *testing.T) {
	r, _ := newTestServer()

	rec := do(t, r, http.MethodPost, "/tasks", "alice-token", `{"title":`) // truncated/invalid JSON
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d, body=%s", rec.Code, rec.Body.String())
	}

	var errResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to parse error JSON: %v", err)
	}
	if errResp["error"] != "invalid_json" {
		t.Errorf("expected error 'invalid_json', got %q", errResp["error"])
	}
}

func TestGetTasks_HappyPath(t *testing.T) {
	r, repo := newTestServer()

	if _, err := repo.Create(context.Background(), "alice", "seeded task"); err != nil {
		t.Fatalf("unexpected error seeding repo: %v", err)
	}
	if _, err := repo.Create(context.Background(), "bob", "bob's task"); err != nil {
		t.Fatalf("unexpected error seeding repo: %v", err)
	}

	rec := do(t, r, http.MethodGet, "/tasks", "alice-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body=%s", rec.Code, rec.Body.String())
	}

	var list listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if len(list.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(list.Tasks))
	}
	if list.Tasks[0].Title != "seeded task" {
		t.Errorf("expected first task title 'seeded task', got %q", list.Tasks[0].Title)
	}
}

func TestGetTasks_EmptyListIsArray(t *testing.T) {
	r, _ := newTestServer()

	rec := do(t, r, http.MethodGet, "/tasks", "alice-token", "")
	if got := rec.Body.String(); got != "{\"tasks\":[]}\n" {
		t.Fatalf("expected empty array, got %s", got)
	}
}

func TestTaskLifecycle(t *testing.T) {
	r, _ := newTestServer()

	rec := do(t, r, http.MethodPost, "/tasks", "alice-token", `{"title":"Buy milk"}`)
	created := decodeTask(t, rec)

	rec = do(t, r, http.MethodGet, "/tasks", "alice-token", "")
	want := `{"tasks":[{"id":0,"title":"Buy milk","completed":false}]}` + "\n"
	if rec.Body.String() != want {
		t.Fatalf("list mismatch:\n got %s\nwant %s", rec.Body.String(), want)
	}

	rec = do(t, r, http.MethodPut, "/tasks/0", "alice-token", `{"completed":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d", rec.Code)
	}
	if got := decodeTask(t, rec); got != (Task{ID: created.ID, Title: "Buy milk", Completed: true}) {
		t.Fatalf("unexpected updated task %+v", got)
	}

	rec = do(t, r, http.MethodGet, "/tasks/0", "alice-token", "")
	if rec.Code != http.StatusOK || !decodeTask(t, rec).Completed {
		t.Fatalf("expected completed task on get, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodDelete, "/tasks/0", "alice-token", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body on delete, got %q", rec.Body.String())
	}

	if rec = do(t, r, http.MethodGet, "/tasks/0", "alice-token", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	if rec = do(t, r, http.MethodDelete, "/tasks/0", "alice-token", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestUpdate_FalsyValuesAreIgnored(t *testing.T) {
	r, repo := newTestServer()
	ctx := context.Background()

	task, _ := repo.Create(ctx, "alice", "keep me")
	if _, err := repo.Update(ctx, "alice", task.ID, Patch{Completed: true}); err != nil {
		t.Fatal(err)
	}

	rec := do(t, r, http.MethodPut, "/tasks/0", "alice-token", `{"title":"","completed":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeTask(t, rec)
	if got.Title != "keep me" || !got.Completed {
		t.Fatalf("falsy update must not clear fields, got %+v", got)
	}
}

func TestOtherUsersTasksLookMissing(t *testing.T) {
	r, repo := newTestServer()
	task, _ := repo.Create(context.Background(), "alice", "secret")
	path := "/tasks/0"
	if task.ID != 0 {
		t.Fatalf("unexpected id %d", task.ID)
	}

	for _, tc := range []struct{ method, body string }{
		{http.MethodGet, ""},
		{http.MethodPut, `{"title":"mine now","completed":true}`},
		{http.MethodDelete, ""},
	} {
		rec := do(t, r, tc.method, path, "bob-token", tc.body)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", tc.method, rec.Code)
		}
		missing := do(t, r, tc.method, "/tasks/999", "bob-token", tc.body)
		if rec.Body.String() != missing.Body.String() {
			t.Fatalf("%s: response differs from nonexistent id: %q vs %q", tc.method, rec.Body.String(), missing.Body.String())
		}
	}

	got, err := repo.Get(context.Background(), "alice", 0)
	if err != nil || got.Title != "secret" || got.Completed {
		t.Fatalf("alice's task was modified: %+v %v", got, err)
	}
}

func TestNonNumericIDIsNotFound(t *testing.T) {
	r, _ := newTestServer()

	if rec := do(t, r, http.MethodGet, "/tasks/abc", "alice-token", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUnauthenticatedOnEveryEndpoint(t *testing.T) {
	r, _ := newTestServer()

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/tasks", ""},
		{http.MethodPost, "/tasks", `{"title":"x"}`},
		{http.MethodGet, "/tasks/0", ""},
		{http.MethodPut, "/tasks/0", `{"completed":true}`},
		{http.MethodDelete, "/tasks/0", ""},
	} {
		for _, token := range []string{"", "forged"} {
			if rec := do(t, r, tc.method, tc.path, token, tc.body); rec.Code != http.StatusUnauthorized {
				t.Errorf("%s %s token=%q: expected 401, got %d", tc.method, tc.path, token, rec.Code)
			}
		}
	}
}

func TestRoutesRejectMissingSubject(t *testing.T) {
	// without authentication middleware no subject is ever set
	r := chi.NewRouter()
	RegisterRoutes(r, NewInMemoryRepo(), slog.New(slog.NewJSONHandler(io.Discard, nil)))

	if rec := do(t, r, http.MethodGet, "/tasks", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDebugReset(t *testing.T) {
	r, repo := newTestServer()
	ctx := context.Background()
	_, _ = repo.Create(ctx, "alice", "a")
	_, _ = repo.Create(ctx, "alice", "b")

	if rec := do(t, r, http.MethodPost, "/debug/reset", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec := do(t, r, http.MethodPost, "/tasks", "alice-token", `{"title":"fresh"}`)
	if got := decodeTask(t, rec); got.ID != 0 {
		t.Fatalf("expected counter reset to 0, got %d", got.ID)
	}
}

type brokenStore struct{ Store }

func (brokenStore) List(context.Context, string) ([]Task, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreFailureIs500(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(appmw.AuthMiddleware(appmw.AuthConfig{Verifier: tokens{"t": "alice"}, Logger: logger}))
	RegisterRoutes(r, brokenStore{NewInMemoryRepo()}, logger)

	rec := do(t, r, http.MethodGet, "/tasks", "t", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
