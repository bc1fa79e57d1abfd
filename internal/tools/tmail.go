package tools

import (
	"context"
	"encoding/json"

	"github.com/kestrelcli/kestrel/internal/timemachine"
)

// SendTMail queues a rewind request. A delivered TMail truncates the
// conversation after the current batch checkpoints, so the model never
// observes this tool's result; the result text below is therefore only
// visible when delivery was suppressed.
type SendTMail struct {
	tm *timemachine.TimeMachine
}

func NewSendTMail(tm *timemachine.TimeMachine) *SendTMail {
	return &SendTMail{tm: tm}
}

func (t *SendTMail) Name() string { return "send_tmail" }

func (t *SendTMail) Capability() string { return "rewind" }

func (t *SendTMail) Description() string {
	return "Send a message back to an earlier checkpoint of this conversation. " +
		"After the current batch of tool calls completes, the conversation rewinds to that checkpoint " +
		"and continues with your message injected as user input. " +
		"The rewind is discarded if the user rejects any tool call in the current turn."
}

func (t *SendTMail) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message delivered at the target checkpoint.",
			},
			"checkpoint_id": map[string]any{
				"type":        "integer",
				"description": "The target checkpoint id, starting at 0.",
			},
		},
		"required":             []any{"message", "checkpoint_id"},
		"additionalProperties": false,
	}
}

func (t *SendTMail) Invoke(ctx context.Context, args json.RawMessage) Result {
	var in struct {
		Message      string `json:"message"`
		CheckpointID int    `json:"checkpoint_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Errorf("decode arguments: %v", err)
	}
	if err := t.tm.SendTMail(timemachine.TMail{Message: in.Message, CheckpointID: in.CheckpointID}); err != nil {
		return Errorf("%v", err)
	}
	return Result{
		OK: true,
		Message: "If you see this message, the T-Mail was NOT sent successfully. " +
			"This may be because some other tool that needs approval was rejected.",
	}
}
