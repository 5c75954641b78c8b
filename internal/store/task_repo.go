// Package store declares interfaces for persisting task state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound signals that the requested task does not exist.
var ErrNotFound = errors.New("task not found")

// TaskStatus mirrors the tasks status column.
type TaskStatus string

// Task statuses persisted in tasks.status.
const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether a status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskRecord models the tasks table for API responses. The final Result is
// the same payload carried by the task's terminal stream event, so a client
// that polls instead of streaming sees consistent data.
type TaskRecord struct {
	// TaskID is the opaque identifier shared with the event stream.
	TaskID string
	// Type is the task type label (e.g. generate_data).
	Type string
	// Status is pending/running/completed/failed.
	Status TaskStatus
	// Progress is the last reported percentage, 0..100.
	Progress int
	// Message is the last human-readable progress message.
	Message string
	// Result holds the terminal result payload once completed.
	Result json.RawMessage
	// Error optionally stores the final failure reason.
	Error *string
	// CreatedAt is when the task was accepted.
	CreatedAt time.Time
	// UpdatedAt tracks the most recent mutation.
	UpdatedAt time.Time
	// FinishedAt is nil until the task reaches a terminal status.
	FinishedAt *time.Time
}

// TaskRepository persists task lifecycle state.
type TaskRepository interface {
	// CreateTask inserts a new task record; the task ID must be unused.
	CreateTask(ctx context.Context, rec TaskRecord) error
	// GetTask loads a single task or returns ErrNotFound.
	GetTask(ctx context.Context, taskID string) (TaskRecord, error)
	// ListTasks returns tasks filtered by optional status plus limit/offset,
	// newest first.
	ListTasks(ctx context.Context, status *TaskStatus, limit, offset int) ([]TaskRecord, error)
	// MarkRunning transitions the task to running.
	MarkRunning(ctx context.Context, taskID string, at time.Time) error
	// UpdateProgress records the latest percentage and message.
	UpdateProgress(ctx context.Context, taskID string, progress int, message string, at time.Time) error
	// CompleteTask marks terminal success with the result payload.
	CompleteTask(ctx context.Context, taskID string, result json.RawMessage, at time.Time) error
	// FailTask marks terminal failure with the error message.
	FailTask(ctx context.Context, taskID string, errMsg string, at time.Time) error
}
