package tasks

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotFound is returned when the task id is not in the caller's own list.
// Tasks owned by other users report the same error.
var ErrNotFound = errors.New("task not found")

// Store holds every user's task list. Every method is scoped to a single
// subject; no method can reach another user's tasks.
type Store interface {
	Create(ctx context.Context, userID, title string) (Task, error)
	List(ctx context.Context, userID string) ([]Task, error)
	Get(ctx context.Context, userID string, id int64) (Task, error)
	Update(ctx context.Context, userID string, id int64, p Patch) (Task, error)
	Delete(ctx context.Context, userID string, id int64) error
	// Reset drops all users and restarts the id counter at 0.
	Reset(ctx context.Context) error
}

// InMemoryRepo guards all users with one lock; contention is expected to be low.
type InMemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*User
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		users: make(map[string]*User),
	}
}

// user returns the caller's record, creating it on first use. Callers hold mu.
func (r *InMemoryRepo) user(id string) *User {
	u, ok := r.users[id]
	if !ok {
		u = &User{ID: id, Tasks: []Task{}}
		r.users[id] = u
	}
	return u
}

func (r *InMemoryRepo) Create(_ context.Context, userID, title string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := Task{
		ID:        r.nextID,
		Title:     title,
		Completed: false,
	}
	r.nextID++

	u := r.user(userID)
	u.Tasks = append(u.Tasks, t)
	return t, nil
}

func (r *InMemoryRepo) List(_ context.Context, userID string) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.user(userID).Tasks), nil
}

func (r *InMemoryRepo) Get(_ context.Context, userID string, id int64) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.user(userID)
	i := indexOf(u.Tasks, id)
	if i < 0 {
		return Task{}, ErrNotFound
	}
	return u.Tasks[i], nil
}

func (r *InMemoryRepo) Update(_ context.Context, userID string, id int64, p Patch) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.user(userID)
	i := indexOf(u.Tasks, id)
	if i < 0 {
		return Task{}, ErrNotFound
	}
	p.apply(&u.Tasks[i])
	return u.Tasks[i], nil
}

func (r *InMemoryRepo) Delete(_ context.Context, userID string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.user(userID)
	i := indexOf(u.Tasks, id)
	if i < 0 {
		return ErrNotFound
	}
	u.Tasks = slices.Delete(u.Tasks, i, i+1)
	return nil
}

func (r *InMemoryRepo) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users = make(map[string]*User)
	r.nextID = 0
	return nil
}

func indexOf(ts []Task, id int64) int {
	return slices.IndexFunc(ts, func(t Task) bool { return t.ID == id })
}
