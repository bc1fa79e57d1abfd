package runtime

import "github.com/kestrelcli/kestrel/internal/approval"

// EventType identifies one event in a turn's event stream.
type EventType string

const (
	// EventAssistantDelta carries assistant text as it arrives.
	EventAssistantDelta EventType = "assistant_delta"
	// EventToolCallStarted announces that a tool call is being dispatched.
	EventToolCallStarted EventType = "tool_call_started"
	// EventApprovalRequested asks the adapter to surface an approval
	// prompt; the turn stays suspended until RespondApproval is called.
	EventApprovalRequested EventType = "approval_requested"
	// EventToolResult carries the outcome of a finished tool call.
	EventToolResult EventType = "tool_result"
	// EventTurnComplete is the final event of a successful turn.
	EventTurnComplete EventType = "turn_complete"
	// EventError is the final event of a failed turn.
	EventError EventType = "error"
)

// Event is one entry in a turn's event stream. The channel returned by
// Submit closes after a terminal event (turn_complete or error).
type Event struct {
	Type EventType `json:"type"`

	// Text is assistant text for assistant_delta and the final reply for
	// turn_complete.
	Text string `json:"text,omitempty"`

	// Tool fields, set for tool_call_started and tool_result.
	Tool     string `json:"tool,omitempty"`
	ToolArgs string `json:"tool_args,omitempty"`
	OK       bool   `json:"ok,omitempty"`
	Output   string `json:"output,omitempty"`
	Brief    string `json:"brief,omitempty"`

	// Approval is set for approval_requested.
	Approval *approval.Request `json:"approval,omitempty"`

	// Err is set for error events.
	Err string `json:"error,omitempty"`
}
