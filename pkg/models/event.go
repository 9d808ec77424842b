package models

import "encoding/json"

// EventType identifies a stream event emitted while answering a chat message.
type EventType string

const (
	EventContent    EventType = "content"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// StreamEvent is one frame of the orchestrator's event stream. The transport
// serializes each event as a single SSE data frame without reordering.
type StreamEvent struct {
	Type      EventType       `json:"type"`
	Content   string          `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}
