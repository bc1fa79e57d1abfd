// Package tools defines the builtin tool set and the registry that
// validates and dispatches model tool calls. Tools never perform their
// side effects without passing the approval gate first.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Result is the outcome of one tool invocation, recorded in the journal as
// a tool result message.
type Result struct {
	OK      bool   `json:"ok"`
	Output  string `json:"output,omitempty"`
	Message string `json:"message,omitempty"`
	// Brief is the short form shown in the interactive transcript; the
	// model still receives the full Output.
	Brief string `json:"-"`
	// Rejected marks a denied approval, which the runtime must treat
	// differently from an ordinary failure.
	Rejected bool `json:"-"`
}

// Rejected is the canonical result of a denied approval. The tool body is
// never entered; the model only learns that the user said no.
func Rejected() Result {
	return Result{OK: false, Rejected: true, Message: "The user rejected this action."}
}

// Errorf builds a failed result from a format string.
func Errorf(format string, args ...any) Result {
	return Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// Tool is one callable tool. Invoke receives the raw argument object after
// schema validation; it returns a Result rather than an error so the model
// always sees a structured outcome. Capability names the policy capability
// the tool requires; an empty string means none.
type Tool interface {
	Name() string
	Description() string
	Capability() string
	Schema() map[string]any
	Invoke(ctx context.Context, args json.RawMessage) Result
}

// Encode renders a result as the JSON content of a tool message.
func (r Result) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"message":"internal: result not serializable"}`
	}
	return string(data)
}
