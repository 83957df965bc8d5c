package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteRepo is a Store backed by database/sql. With the default ":memory:"
// DSN it keeps the same lifetime as InMemoryRepo.
type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// every pooled connection to ":memory:" would otherwise see its own database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA foreign_keys=ON;
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteRepo{db: db}, nil
}

func (r *SQLiteRepo) Close() error { return r.db.Close() }

// ApplyMigrations ensures schema exists
func (r *SQLiteRepo) ApplyMigrations(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS tasks_by_user ON tasks (user_id, id);
CREATE TABLE IF NOT EXISTS id_counter (
	singleton INTEGER PRIMARY KEY CHECK (singleton = 0),
	next_id INTEGER NOT NULL
);
INSERT OR IGNORE INTO id_counter (singleton, next_id) VALUES (0, 0);
	`)
	return err
}

func (r *SQLiteRepo) Create(ctx context.Context, userID, title string) (Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureUser(ctx, tx, userID); err != nil {
		return Task{}, err
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `
		UPDATE id_counter SET next_id = next_id + 1
		WHERE singleton = 0
		RETURNING next_id - 1
	`).Scan(&id); err != nil {
		return Task{}, fmt.Errorf("allocate id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, completed)
		VALUES (?, ?, ?, 0)
	`, id, userID, title); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, err
	}
	return Task{ID: id, Title: title, Completed: false}, nil
}

// List returns tasks ordered by id, which matches insertion order because
// ids are allocated from a single increasing counter.
func (r *SQLiteRepo) List(ctx context.Context, userID string) ([]Task, error) {
	if err := ensureUser(ctx, r.db, userID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, completed
		FROM tasks
		WHERE user_id = ?
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Completed); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) Get(ctx context.Context, userID string, id int64) (Task, error) {
	return getTask(ctx, r.db, userID, id)
}

func (r *SQLiteRepo) Update(ctx context.Context, userID string, id int64, p Patch) (Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := getTask(ctx, tx, userID, id)
	if err != nil {
		return Task{}, err
	}
	p.apply(&t)

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, completed = ?
		WHERE id = ? AND user_id = ?
	`, t.Title, t.Completed, id, userID); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (r *SQLiteRepo) Delete(ctx context.Context, userID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) Reset(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM tasks;
		DELETE FROM users;
		UPDATE id_counter SET next_id = 0;
	`)
	return err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureUser(ctx context.Context, q querier, userID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO users (id) VALUES (?)`, userID)
	return err
}

func getTask(ctx context.Context, q querier, userID string, id int64) (Task, error) {
	var t Task
	err := q.QueryRowContext(ctx, `
		SELECT id, title, completed
		FROM tasks
		WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&t.ID, &t.Title, &t.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

// Helper to build DSN like: file:/absolute/path?_pragma=busy_timeout(5000)
func SQLiteFileDSN(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file:" + filepath.ToSlash(abs) + "?_pragma=busy_timeout(5000)", nil
}
