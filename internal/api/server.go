// Package api exposes the HTTP interface for the taskstream service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datalens-ai/taskstream/internal/config"
	"github.com/datalens-ai/taskstream/internal/metrics"
	"github.com/datalens-ai/taskstream/internal/store"
	"github.com/datalens-ai/taskstream/internal/stream"
	"github.com/datalens-ai/taskstream/internal/task"
)

const requestTimeout = 15 * time.Second

// Server wires HTTP handlers to the task repository and stream subsystem.
type Server struct {
	router      chi.Router
	repo        store.TaskRepository
	registry    *stream.Registry
	emitter     *stream.Emitter
	coordinator *stream.Coordinator
	idGen       task.IDGenerator
	cfg         config.Config
	logger      *zap.Logger

	// driverCtx is the parent context for task drivers, which outlive the
	// request that created them.
	driverCtx context.Context
}

// NewServer constructs a Server with middleware and routes. driverCtx bounds
// the lifetime of spawned task drivers; pass the process signal context.
func NewServer(
	driverCtx context.Context,
	repo store.TaskRepository,
	registry *stream.Registry,
	emitter *stream.Emitter,
	coordinator *stream.Coordinator,
	idGen task.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if driverCtx == nil {
		driverCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		repo:        repo,
		registry:    registry,
		emitter:     emitter,
		coordinator: coordinator,
		idGen:       idGen,
		cfg:         cfg,
		logger:      logger,
		driverCtx:   driverCtx,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			// The stream route stays open for the task's lifetime, so it
			// must not sit behind the timeout handler.
			r.Get("/{task_id}/events", s.streamTaskEvents)

			r.Group(func(r chi.Router) {
				r.Use(timeoutMiddleware(requestTimeout))
				if cfg.Auth.Enabled {
					r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
				}
				r.Post("/", s.createTask)
				r.Get("/", s.listTasks)
				r.Get("/{task_id}", s.getTask)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

// responseWriter tracks status and keeps Flush/Hijack reachable through the
// middleware chain; the stream handler depends on Flush.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
