// Package memory provides in-memory persistence for development/testing.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/datalens-ai/taskstream/internal/store"
)

// TaskStore provides an in-memory store.TaskRepository implementation.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]store.TaskRecord
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]store.TaskRecord)}
}

// CreateTask stores a new task record.
func (s *TaskStore) CreateTask(_ context.Context, rec store.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[rec.TaskID]; exists {
		return fmt.Errorf("task %s already exists", rec.TaskID)
	}
	s.tasks[rec.TaskID] = rec
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (store.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return store.TaskRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// ListTasks returns tasks newest first with optional status filtering.
func (s *TaskStore) ListTasks(
	_ context.Context,
	status *store.TaskStatus,
	limit, offset int,
) ([]store.TaskRecord, error) {
	s.mu.RLock()
	all := make([]store.TaskRecord, 0, len(s.tasks))
	for _, rec := range s.tasks {
		if status != nil && rec.Status != *status {
			continue
		}
		all = append(all, rec)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []store.TaskRecord{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// MarkRunning transitions the task to running.
func (s *TaskStore) MarkRunning(_ context.Context, taskID string, at time.Time) error {
	return s.mutate(taskID, func(rec *store.TaskRecord) {
		rec.Status = store.StatusRunning
		rec.UpdatedAt = at
	})
}

// UpdateProgress records the latest percentage and message.
func (s *TaskStore) UpdateProgress(
	_ context.Context,
	taskID string,
	progress int,
	message string,
	at time.Time,
) error {
	return s.mutate(taskID, func(rec *store.TaskRecord) {
		rec.Progress = progress
		rec.Message = message
		rec.UpdatedAt = at
	})
}

// CompleteTask marks terminal success with the result payload.
func (s *TaskStore) CompleteTask(
	_ context.Context,
	taskID string,
	result json.RawMessage,
	at time.Time,
) error {
	return s.mutate(taskID, func(rec *store.TaskRecord) {
		rec.Status = store.StatusCompleted
		rec.Progress = 100
		rec.Result = result
		rec.UpdatedAt = at
		rec.FinishedAt = &at
	})
}

// FailTask marks terminal failure with the error message.
func (s *TaskStore) FailTask(_ context.Context, taskID string, errMsg string, at time.Time) error {
	return s.mutate(taskID, func(rec *store.TaskRecord) {
		rec.Status = store.StatusFailed
		rec.Error = &errMsg
		rec.UpdatedAt = at
		rec.FinishedAt = &at
	})
}

func (s *TaskStore) mutate(taskID string, fn func(*store.TaskRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	fn(&rec)
	s.tasks[taskID] = rec
	return nil
}
