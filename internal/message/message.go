// Package message defines the conversation data model shared by the journal,
// the provider boundary, and the runtime.
package message

import "encoding/json"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Resolution states for a tool result message.
const (
	ResolutionOK       = "ok"
	ResolutionError    = "error"
	ResolutionRejected = "rejected"
)

// Message is one entry in a session's conversation. A message is immutable
// once appended to the journal; history changes only through explicit
// truncation (rewind, clear, compaction).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID, ToolName and Resolution are set on tool result messages,
	// tying the result 1:1 to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// System returns a system message.
func System(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// User returns a user message.
func User(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// Assistant returns an assistant text message.
func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolResult returns a tool result message tied to the given call.
func ToolResult(call ToolCall, resolution, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Resolution: resolution,
	}
}
