package stream

import (
	"go.uber.org/zap"

	"github.com/datalens-ai/taskstream/internal/metrics"
)

// Emitter serializes named events onto whichever channel the registry
// currently maps a task to. It is stateless and safe for concurrent use.
type Emitter struct {
	reg    *Registry
	logger *zap.Logger
}

// NewEmitter wires an Emitter to the registry.
func NewEmitter(reg *Registry, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{reg: reg, logger: logger}
}

// Emit sends one event to the task's current channel. An event produced while
// nobody listens is dropped without error: the observer reconstructs final
// state from the terminal event or the status endpoint. A write failure is
// treated the same way; dead-channel detection belongs to the transport path.
func (e *Emitter) Emit(taskID string, eventType EventType, payload map[string]any) {
	ch := e.reg.Lookup(taskID)
	if ch == nil {
		return
	}
	evt := Event{TaskID: taskID, Type: eventType, Payload: payload}
	if err := ch.Send(evt); err != nil {
		metrics.ObserveStreamWriteFailure()
		e.logger.Debug("stream write failed",
			zap.String("task_id", taskID),
			zap.String("event", string(eventType)),
			zap.Error(err))
		return
	}
	metrics.ObserveStreamEvent(string(eventType))
}
