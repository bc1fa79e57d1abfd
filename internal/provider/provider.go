// Package provider defines the chat model contract and its OpenAI-compatible
// implementation. The runtime owns the agent loop; a provider only performs
// a single chat completion and reports tool calls back, never executing
// anything itself.
package provider

import (
	"context"
	"strings"

	"github.com/kestrelcli/kestrel/internal/message"
)

// Capability names what a model can do beyond plain text.
type Capability string

const (
	CapabilityToolUse  Capability = "tool_use"
	CapabilityThinking Capability = "thinking"
	CapabilityImageIn  Capability = "image_in"
)

// ToolSchema is the declaration of one callable tool as sent to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one chat completion request.
type Request struct {
	System   string
	Messages []message.Message
	Tools    []ToolSchema
	Thinking bool
}

// Usage is the token accounting returned by the endpoint.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is one chat completion result. Message carries either assistant
// text, tool calls, or both.
type Response struct {
	Message      message.Message
	FinishReason string
	Usage        Usage
}

// ChatProvider performs chat completions against one configured model.
type ChatProvider interface {
	ModelName() string
	MaxContextSize() int
	Capabilities() []Capability
	Chat(ctx context.Context, req Request) (Response, error)
}

// DeriveCapabilities infers capabilities from the model name when the
// configuration does not declare them. Tool use is assumed for every chat
// model; thinking and image input are detected from common naming patterns.
func DeriveCapabilities(model string, declared []string) []Capability {
	if len(declared) > 0 {
		out := make([]Capability, 0, len(declared))
		for _, c := range declared {
			out = append(out, Capability(strings.ToLower(strings.TrimSpace(c))))
		}
		return out
	}
	caps := []Capability{CapabilityToolUse}
	lower := strings.ToLower(model)
	for _, marker := range []string{"thinking", "reasoner", "r1"} {
		if strings.Contains(lower, marker) {
			caps = append(caps, CapabilityThinking)
			break
		}
	}
	for _, marker := range []string{"vl", "vision", "multimodal"} {
		if strings.Contains(lower, marker) {
			caps = append(caps, CapabilityImageIn)
			break
		}
	}
	return caps
}

// HasCapability reports whether caps contains c.
func HasCapability(caps []Capability, c Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}
