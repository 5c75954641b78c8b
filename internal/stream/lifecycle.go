package stream

import "go.uber.org/zap"

// Coordinator funnels the independent termination paths (producer-declared
// completion or failure, consumer disconnect, transport error) into one
// idempotent teardown: task unregistered, heartbeat cancelled, transport
// closed. Whichever path fires first wins; the others become no-ops.
type Coordinator struct {
	reg    *Registry
	logger *zap.Logger
}

// NewCoordinator wires a Coordinator to the registry.
func NewCoordinator(reg *Registry, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{reg: reg, logger: logger}
}

// FinishTask handles the producer path: the driver has emitted its terminal
// event and, after the grace delay, wants the transport closed. Calling it
// for a task with no registered channel is a no-op.
func (c *Coordinator) FinishTask(taskID string) {
	ch := c.reg.Unregister(taskID)
	if ch == nil {
		return
	}
	ch.Close()
	c.logger.Debug("stream closed after terminal event", zap.String("task_id", taskID))
}

// Release handles the consumer-disconnect and transport-error paths. It
// unregisters only while the registry still maps taskID to ch, so a replaced
// channel's disconnect never tears down its successor. The transport itself
// is already gone; nothing is closed here.
func (c *Coordinator) Release(taskID string, ch Channel) {
	if removed := c.reg.release(taskID, ch); removed != nil {
		c.logger.Debug("stream released on disconnect", zap.String("task_id", taskID))
	}
}
