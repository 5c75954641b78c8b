package stream

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrChannelClosed is returned by Send once a channel has been closed.
var ErrChannelClosed = errors.New("stream channel closed")

// Channel is the live, writable handle for one observer's open stream
// connection. Send must be safe for concurrent use; Close must be idempotent.
type Channel interface {
	Send(evt Event) error
	Close()
}

// SSEChannel writes encoded event frames to an http.ResponseWriter and
// flushes after each one. The handler that owns the connection blocks on
// Done() until the lifecycle coordinator closes the channel.
type SSEChannel struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

// NewSSEChannel wraps a ResponseWriter, failing if it cannot stream.
func NewSSEChannel(w http.ResponseWriter) (*SSEChannel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &SSEChannel{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}, nil
}

// Send encodes and writes one event frame. Writes after Close fail with
// ErrChannelClosed.
func (c *SSEChannel) Send(evt Event) error {
	frame, err := evt.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("write event frame: %w", err)
	}
	c.flusher.Flush()
	return nil
}

// Close marks the channel closed and releases the owning handler. Safe to
// call multiple times.
func (c *SSEChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed when the channel has been shut down.
func (c *SSEChannel) Done() <-chan struct{} {
	return c.done
}
