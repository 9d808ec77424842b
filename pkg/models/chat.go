package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChatSession is a conversation container owned by a single user.
type ChatSession struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ChatMessage is one persisted turn in a session. Tool-role turns are never
// persisted; they are reconstructed from the assistant metadata on replay.
type ChatMessage struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	// Seq breaks created_at ties by insertion order.
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageMetadata carries structured data attached to a message. For
// assistant turns it records the tool calls made while producing the reply.
type MessageMetadata struct {
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord is one executed tool call with its arguments and JSON result.
type ToolCallRecord struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    string          `json:"result"`
}
