package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/datalens-ai/taskstream/internal/store"
	"github.com/datalens-ai/taskstream/internal/task"
)

// createTaskRequest is the body of POST /v1/tasks.
type createTaskRequest struct {
	TaskType string           `json:"task_type"`
	Params   createTaskParams `json:"params"`
}

type createTaskParams struct {
	NumExamples int    `json:"num_examples"`
	Question    string `json:"question"`
	Table       string `json:"table"`
	Epochs      int    `json:"epochs"`
}

// taskResponse is the wire representation of a task record.
type taskResponse struct {
	TaskID     string          `json:"task_id"`
	TaskType   string          `json:"task_type"`
	Status     string          `json:"status"`
	Progress   int             `json:"progress"`
	Message    string          `json:"message,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	StreamURL  string          `json:"stream_url"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func toTaskResponse(rec store.TaskRecord) taskResponse {
	return taskResponse{
		TaskID:     rec.TaskID,
		TaskType:   rec.Type,
		Status:     string(rec.Status),
		Progress:   rec.Progress,
		Message:    rec.Message,
		Result:     rec.Result,
		Error:      rec.Error,
		StreamURL:  fmt.Sprintf("/v1/tasks/%s/events", rec.TaskID),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		FinishedAt: rec.FinishedAt,
	}
}

// createTask accepts a task request, persists the pending record, and launches
// the driver on its own goroutine. The response returns immediately; progress
// flows over the task's event stream.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	typ, err := task.ParseType(req.TaskType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID := s.idGen.NewID()
	now := time.Now().UTC()
	rec := store.TaskRecord{
		TaskID:    taskID,
		Type:      string(typ),
		Status:    store.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateTask(r.Context(), rec); err != nil {
		s.logger.Error("create task failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	driver := task.NewDriver(taskID, typ,
		task.Params{
			NumExamples: req.Params.NumExamples,
			Question:    req.Params.Question,
			Table:       req.Params.Table,
			Epochs:      req.Params.Epochs,
		},
		task.Limits{
			DefaultExamples: s.cfg.Tasks.DefaultExamples,
			MaxExamples:     s.cfg.Tasks.MaxExamples,
		},
		s.emitter, s.coordinator, s.repo,
		task.DriverConfig{StageDelay: s.cfg.StageDelay(), Grace: s.cfg.Grace()},
		s.logger,
	)
	go driver.Run(s.driverCtx)

	s.logger.Info("task accepted",
		zap.String("task_id", taskID), zap.String("type", string(typ)))

	rec.Status = store.StatusRunning
	writeJSON(w, http.StatusAccepted, toTaskResponse(rec))
}

// getTask returns the persisted state of one task.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	rec, err := s.repo.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(rec))
}

// listTasks returns tasks newest first, optionally filtered by status.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r)
	status, err := parseStatus(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.repo.ListTasks(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	out := make([]taskResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toTaskResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":  out,
		"limit":  limit,
		"offset": offset,
	})
}

func parseLimitOffset(r *http.Request) (limit, offset int) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func parseStatus(r *http.Request) (*store.TaskStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	status := store.TaskStatus(raw)
	switch status {
	case store.StatusPending, store.StatusRunning, store.StatusCompleted, store.StatusFailed:
		return &status, nil
	default:
		return nil, fmt.Errorf("unknown status %q", raw)
	}
}
