package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType names one event in the wire vocabulary. Task drivers construct
// task-specific types (e.g. "data_generation_completed") from their prefix;
// the constants below are the task-agnostic ones.
type EventType string

// Task-agnostic event types.
const (
	EventConnected EventType = "connected"
	EventHeartbeat EventType = "heartbeat"
	EventProgress  EventType = "progress"
)

// Event is an immutable (taskID, type, payload) triple. Events are transient:
// they are encoded and written at emission time, never stored.
type Event struct {
	// TaskID correlates the event with a background operation.
	TaskID string
	// Type selects the SSE event name.
	Type EventType
	// Payload holds type-specific fields; task_id is injected at encode time.
	Payload map[string]any
}

// Validate performs coarse validation on Event fields.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	return nil
}

// Encode renders the Server-Sent-Events frame for the event:
//
//	event: <type>\n
//	data: <json>\n\n
//
// The JSON payload always carries task_id, overriding any caller-supplied key.
func (e Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload["task_id"] = e.TaskID
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", e.Type, data)
	return buf.Bytes(), nil
}
