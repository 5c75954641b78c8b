package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEmitWithoutListenerIsSilent: no listener is not an error.
func TestEmitWithoutListenerIsSilent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Minute, nil)
	emitter := NewEmitter(reg, nil)

	require.NotPanics(t, func() {
		emitter.Emit("ghost", EventProgress, map[string]any{"progress": 10})
	})
}

// TestEmitDeliversToRegisteredChannel checks payload and ordering.
func TestEmitDeliversToRegisteredChannel(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Minute, nil)
	emitter := NewEmitter(reg, nil)
	ch := newStubChannel()
	reg.Register("t1", ch)
	defer reg.Unregister("t1")

	emitter.Emit("t1", EventProgress, map[string]any{"progress": 25, "message": "working"})
	emitter.Emit("t1", EventProgress, map[string]any{"progress": 50, "message": "still working"})

	events := ch.Events()
	require.Len(t, events, 2)
	require.Equal(t, 25, events[0].Payload["progress"])
	require.Equal(t, 50, events[1].Payload["progress"])
}

// TestEmitSwallowsWriteFailure: a dead consumer must not surface to the
// producer.
func TestEmitSwallowsWriteFailure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Minute, nil)
	emitter := NewEmitter(reg, nil)
	ch := newStubChannel()
	ch.FailWrites(errors.New("broken pipe"))
	reg.Register("t1", ch)
	defer reg.Unregister("t1")

	require.NotPanics(t, func() {
		emitter.Emit("t1", EventProgress, nil)
	})
	// The channel stays registered; cleanup is the transport path's job.
	require.NotNil(t, reg.Lookup("t1"))
}

// TestEmitAfterUnregisterIsDropped covers invariant 3: events are never
// delivered to a stale channel.
func TestEmitAfterUnregisterIsDropped(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Minute, nil)
	emitter := NewEmitter(reg, nil)
	ch := newStubChannel()
	reg.Register("t1", ch)
	reg.Unregister("t1")

	emitter.Emit("t1", EventProgress, nil)
	require.Empty(t, ch.Events())
}
