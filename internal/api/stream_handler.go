package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/datalens-ai/taskstream/internal/metrics"
	"github.com/datalens-ai/taskstream/internal/stream"
)

// streamTaskEvents serves GET /v1/tasks/{task_id}/events as a Server-Sent
// Events stream. The handler registers a channel for the task, sends the
// connected event, then blocks until the client disconnects or the lifecycle
// coordinator closes the channel after the task's terminal event. Opening a
// stream for an unknown task is allowed: the client receives connected and
// heartbeats until it gives up.
func (s *Server) streamTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch, err := stream.NewSSEChannel(w)
	if err != nil {
		s.logger.Error("streaming unsupported", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.WriteHeader(http.StatusOK)

	s.registry.Register(taskID, ch)
	metrics.IncStreamsOpen()
	defer metrics.DecStreamsOpen()

	// The connected event goes straight to this channel: it confirms this
	// particular subscription, so it must not race a replacement lookup.
	if err := ch.Send(stream.Event{TaskID: taskID, Type: stream.EventConnected}); err != nil {
		s.logger.Debug("connected event write failed",
			zap.String("task_id", taskID), zap.Error(err))
		s.coordinator.Release(taskID, ch)
		return
	}
	metrics.ObserveStreamEvent(string(stream.EventConnected))

	s.logger.Info("stream opened", zap.String("task_id", taskID))

	select {
	case <-r.Context().Done():
		// Consumer went away; remove the registration only if this channel
		// still owns it.
		s.coordinator.Release(taskID, ch)
		s.logger.Info("stream client disconnected", zap.String("task_id", taskID))
	case <-ch.Done():
		// Coordinator closed the channel after the terminal event.
		s.logger.Info("stream completed", zap.String("task_id", taskID))
	}
}
