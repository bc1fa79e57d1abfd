package bus

// Turn lifecycle topics published by the runtime.
const (
	TopicTurnStarted   = "turn.started"
	TopicTurnModelCall = "turn.model_call"
	TopicTurnToolCall  = "turn.tool_call"
	TopicTurnApproval  = "turn.approval"
	TopicTurnRewind    = "turn.rewind"
	TopicTurnCompleted = "turn.completed"
	TopicTurnFailed    = "turn.failed"
)

// TurnEvent carries metadata for turn lifecycle events.
type TurnEvent struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	Tool      string `json:"tool,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Error     string `json:"error,omitempty"`
}
