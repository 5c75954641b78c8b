// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datalens-ai/taskstream/internal/store"
)

// TaskStoreConfig controls the Postgres connection pool used for task rows.
type TaskStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// TaskStore implements store.TaskRepository using Postgres. Expected schema:
//
//	CREATE TABLE tasks (
//	    task_id     TEXT PRIMARY KEY,
//	    task_type   TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    progress    INT NOT NULL DEFAULT 0,
//	    message     TEXT NOT NULL DEFAULT '',
//	    result      JSONB,
//	    error       TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ
//	);
type TaskStore struct {
	pool queryExecCloser
}

// NewTaskStore creates a Postgres-backed TaskStore using the provided config.
func NewTaskStore(ctx context.Context, cfg TaskStoreConfig) (*TaskStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TaskStore{pool: pool}, nil
}

// NewTaskStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTaskStoreWithPool(pool queryExecCloser) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	s.pool.Close()
}

// CreateTask inserts a new task row.
func (s *TaskStore) CreateTask(ctx context.Context, rec store.TaskRecord) error {
	query := `
		INSERT INTO tasks (task_id, task_type, status, progress, message, result, error, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	_, err := s.pool.Exec(ctx, query,
		rec.TaskID,
		rec.Type,
		rec.Status,
		rec.Progress,
		rec.Message,
		rec.Result,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads a single task row or returns store.ErrNotFound.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (store.TaskRecord, error) {
	query := `
		SELECT task_id, task_type, status, progress, message, result, error, created_at, updated_at, finished_at
		FROM tasks
		WHERE task_id = $1;
	`
	rec, err := scanTask(s.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TaskRecord{}, store.ErrNotFound
		}
		return store.TaskRecord{}, fmt.Errorf("select task: %w", err)
	}
	return rec, nil
}

// ListTasks returns task rows newest first with optional status filtering.
func (s *TaskStore) ListTasks(
	ctx context.Context,
	status *store.TaskStatus,
	limit, offset int,
) ([]store.TaskRecord, error) {
	query := `
		SELECT task_id, task_type, status, progress, message, result, error, created_at, updated_at, finished_at
		FROM tasks
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []store.TaskRecord{}
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

// MarkRunning transitions the task to running.
func (s *TaskStore) MarkRunning(ctx context.Context, taskID string, at time.Time) error {
	query := `UPDATE tasks SET status = $1, updated_at = $2 WHERE task_id = $3;`
	return s.exec(ctx, "mark task running", query, store.StatusRunning, at, taskID)
}

// UpdateProgress records the latest percentage and message.
func (s *TaskStore) UpdateProgress(
	ctx context.Context,
	taskID string,
	progress int,
	message string,
	at time.Time,
) error {
	query := `UPDATE tasks SET progress = $1, message = $2, updated_at = $3 WHERE task_id = $4;`
	return s.exec(ctx, "update task progress", query, progress, message, at, taskID)
}

// CompleteTask marks terminal success with the result payload.
func (s *TaskStore) CompleteTask(
	ctx context.Context,
	taskID string,
	result json.RawMessage,
	at time.Time,
) error {
	query := `
		UPDATE tasks
		SET status = $1, progress = 100, result = $2, updated_at = $3, finished_at = $3
		WHERE task_id = $4;
	`
	return s.exec(ctx, "complete task", query, store.StatusCompleted, result, at, taskID)
}

// FailTask marks terminal failure with the error message.
func (s *TaskStore) FailTask(ctx context.Context, taskID string, errMsg string, at time.Time) error {
	query := `
		UPDATE tasks
		SET status = $1, error = $2, updated_at = $3, finished_at = $3
		WHERE task_id = $4;
	`
	return s.exec(ctx, "fail task", query, store.StatusFailed, errMsg, at, taskID)
}

func (s *TaskStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (store.TaskRecord, error) {
	var rec store.TaskRecord
	err := row.Scan(
		&rec.TaskID,
		&rec.Type,
		&rec.Status,
		&rec.Progress,
		&rec.Message,
		&rec.Result,
		&rec.Error,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		return store.TaskRecord{}, err
	}
	return rec, nil
}
