package client

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/s1natex/todo-fixture-api/internal/tasks"
)

// Cache keeps the last task list and drops it after every successful
// mutation, so the next read refetches. Concurrent misses share one request.
type Cache struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	list    []tasks.Task
	fetched time.Time
	gen     uint64

	group singleflight.Group
}

// NewCache wraps c. A ttl of zero keeps entries until invalidated.
func NewCache(c *Client, ttl time.Duration) *Cache {
	return &Cache{client: c, ttl: ttl, now: time.Now}
}

func (c *Cache) Tasks(ctx context.Context) ([]tasks.Task, error) {
	c.mu.Lock()
	if c.list != nil && (c.ttl == 0 || c.now().Sub(c.fetched) < c.ttl) {
		out := slices.Clone(c.list)
		c.mu.Unlock()
		return out, nil
	}
	gen := c.gen
	c.mu.Unlock()

	// The shared fetch must outlive any single caller; the client timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("tasks", func() (any, error) {
		list, err := c.client.ListTasks(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// a mutation since the fetch started makes this result stale
		if c.gen == gen {
			c.list = list
			c.fetched = c.now()
		}
		c.mu.Unlock()
		return list, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]tasks.Task)), nil
	}
}

func (c *Cache) Add(ctx context.Context, title string) (tasks.Task, error) {
	t, err := c.client.AddTask(ctx, title)
	c.invalidateOn(err)
	return t, err
}

func (c *Cache) Update(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	t, err := c.client.UpdateTask(ctx, t)
	c.invalidateOn(err)
	return t, err
}

func (c *Cache) Delete(ctx context.Context, id int64) error {
	err := c.client.DeleteTask(ctx, id)
	c.invalidateOn(err)
	return err
}

// Invalidate forces the next Tasks call to refetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.list = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget("tasks")
}

func (c *Cache) invalidateOn(err error) {
	if err == nil {
		c.Invalidate()
	}
}
