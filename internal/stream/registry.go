package stream

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/datalens-ai/taskstream/internal/metrics"
)

const defaultHeartbeat = 10 * time.Second

// Registry is the process-wide mapping from task ID to the open channel of
// whichever observer is currently listening. It is the single source of truth
// for "is anyone listening to task T" and the only shared mutable structure
// in the streaming core.
type Registry struct {
	heartbeat time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// subscription pairs a channel with the stop signal of its heartbeat loop.
// The stop channel is closed in the same critical section that mutates the
// map, so a heartbeat can never outlive its registration.
type subscription struct {
	ch   Channel
	stop chan struct{}
}

// NewRegistry constructs a Registry emitting heartbeats at the given period.
func NewRegistry(heartbeat time.Duration, logger *zap.Logger) *Registry {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		heartbeat: heartbeat,
		logger:    logger,
		subs:      make(map[string]*subscription),
	}
}

// Register associates taskID with ch, replacing any prior association. The
// replaced channel is orphaned: its heartbeat stops and it receives no
// further events, but the registry does not close it; the handler that owns
// it still holds the connection.
func (r *Registry) Register(taskID string, ch Channel) {
	sub := &subscription{ch: ch, stop: make(chan struct{})}
	r.mu.Lock()
	if prev, ok := r.subs[taskID]; ok {
		close(prev.stop)
		r.logger.Debug("stream channel replaced", zap.String("task_id", taskID))
	}
	r.subs[taskID] = sub
	r.mu.Unlock()
	go r.heartbeatLoop(taskID, sub)
}

// Lookup returns the channel currently associated with taskID, or nil.
func (r *Registry) Lookup(taskID string) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[taskID]
	if !ok {
		return nil
	}
	return sub.ch
}

// Unregister removes the association if present and cancels its heartbeat in
// the same critical section. Removing an absent taskID is a no-op. The
// removed channel, if any, is returned so the caller can close the transport.
func (r *Registry) Unregister(taskID string) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[taskID]
	if !ok {
		return nil
	}
	delete(r.subs, taskID)
	close(sub.stop)
	return sub.ch
}

// release removes the association only while it still maps to ch, so a
// replaced channel's teardown cannot remove its successor.
func (r *Registry) release(taskID string, ch Channel) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[taskID]
	if !ok || sub.ch != ch {
		return nil
	}
	delete(r.subs, taskID)
	close(sub.stop)
	return sub.ch
}

// Len reports how many tasks currently have a registered channel.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// heartbeatLoop emits a liveness event per tick until the subscription is
// cancelled or replaced. The lookup on each tick is the self-check: a lost
// race costs at most one extra heartbeat on a still-open connection, never a
// write to a torn-down task.
func (r *Registry) heartbeatLoop(taskID string, sub *subscription) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			if r.Lookup(taskID) != sub.ch {
				return
			}
			evt := Event{TaskID: taskID, Type: EventHeartbeat}
			if err := sub.ch.Send(evt); err != nil {
				// Consumer is likely gone; the transport path owns detection.
				r.logger.Debug("heartbeat write failed",
					zap.String("task_id", taskID), zap.Error(err))
				continue
			}
			metrics.ObserveStreamEvent(string(EventHeartbeat))
		}
	}
}
