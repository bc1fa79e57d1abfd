package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelcli/kestrel/internal/message"
)

const userAgent = "KestrelCLI/1.0"

// OpenAICompat talks to any endpoint implementing the OpenAI chat
// completions API (OpenAI, DeepSeek, DashScope compatible mode, Ollama,
// vLLM).
type OpenAICompat struct {
	baseURL        string
	apiKey         string
	model          string
	maxContextSize int
	capabilities   []Capability
	client         *http.Client
	logger         *slog.Logger
}

// OpenAIOptions configures an OpenAICompat provider.
type OpenAIOptions struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxContextSize int
	Capabilities   []string
	Timeout        time.Duration
	Logger         *slog.Logger
}

// NewOpenAICompat builds a provider against opts.BaseURL (with or without a
// trailing slash).
func NewOpenAICompat(opts OpenAIOptions) *OpenAICompat {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAICompat{
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:         opts.APIKey,
		model:          opts.Model,
		maxContextSize: opts.MaxContextSize,
		capabilities:   DeriveCapabilities(opts.Model, opts.Capabilities),
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

func (p *OpenAICompat) ModelName() string          { return p.model }
func (p *OpenAICompat) MaxContextSize() int        { return p.maxContextSize }
func (p *OpenAICompat) Capabilities() []Capability { return p.capabilities }

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	Tools          []wireTool    `json:"tools,omitempty"`
	EnableThinking *bool         `json:"enable_thinking,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat performs one chat completion. Tool calls in the response are decoded
// but never executed here.
func (p *OpenAICompat) Chat(ctx context.Context, req Request) (Response, error) {
	body := chatRequest{Model: p.model}
	if req.System != "" {
		body.Messages = append(body.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, toWire(msg))
	}
	for _, tool := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = tool.Name
		wt.Function.Description = tool.Description
		wt.Function.Parameters = tool.Parameters
		body.Tools = append(body.Tools, wt)
	}
	if HasCapability(p.capabilities, CapabilityThinking) {
		thinking := req.Thinking
		body.EnableThinking = &thinking
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, &Error{Class: ClassifyMessage(err.Error()), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Response{}, &Error{Class: ErrorClassUnknown, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		var decoded chatResponse
		if json.Unmarshal(raw, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return Response{}, newError(resp.StatusCode, msg)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, &Error{Class: ErrorClassServer, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if decoded.Error != nil {
		return Response{}, newError(resp.StatusCode, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return Response{}, &Error{Class: ErrorClassServer, Message: "response has no choices"}
	}

	choice := decoded.Choices[0]
	out, err := fromWire(choice.Message)
	if err != nil {
		return Response{}, &Error{Class: ErrorClassServer, Message: err.Error()}
	}
	p.logger.Debug("chat completion",
		"model", p.model,
		"duration", time.Since(start).String(),
		"prompt_tokens", decoded.Usage.PromptTokens,
		"completion_tokens", decoded.Usage.CompletionTokens,
		"tool_calls", len(out.ToolCalls))

	return Response{
		Message:      out,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
		},
	}, nil
}

func toWire(msg message.Message) wireMessage {
	wm := wireMessage{Role: string(msg.Role), Content: msg.Content}
	if msg.Role == message.RoleTool {
		wm.ToolCallID = msg.ToolCallID
	}
	for _, call := range msg.ToolCalls {
		var wc wireToolCall
		wc.ID = call.ID
		wc.Type = "function"
		wc.Function.Name = call.Name
		wc.Function.Arguments = string(call.Arguments)
		wm.ToolCalls = append(wm.ToolCalls, wc)
	}
	return wm
}

func fromWire(wm wireMessage) (message.Message, error) {
	msg := message.Message{Role: message.RoleAssistant, Content: wm.Content}
	for _, wc := range wm.ToolCalls {
		args := wc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return message.Message{}, fmt.Errorf("tool call %s has malformed arguments", wc.Function.Name)
		}
		msg.ToolCalls = append(msg.ToolCalls, message.ToolCall{
			ID:        wc.ID,
			Name:      wc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return msg, nil
}
