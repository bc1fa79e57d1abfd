// Package acp exposes the runtime over JSON-RPC 2.0 on stdio for editor
// integrations. Requests drive the turn state machine; turn events arrive
// as notifications.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/kestrelcli/kestrel/internal/runtime"
)

const protocolVersion = 1

type request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Result  any              `json:"result,omitempty"`
	Error   *rpcError        `json:"error,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Options configures a Server.
type Options struct {
	Runtime *runtime.Runtime
	Version string
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

// Server speaks JSON-RPC 2.0, one message per line.
type Server struct {
	runtime *runtime.Runtime
	version string
	logger  *slog.Logger
	in      io.Reader

	outMu sync.Mutex
	out   io.Writer

	initialized bool
}

func New(opts Options) *Server {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runtime: opts.Runtime, version: opts.Version, logger: logger, in: in, out: out}
}

func (s *Server) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode rpc message", "error", err)
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

func (s *Server) reply(id *json.RawMessage, result any) {
	if id == nil {
		return
	}
	s.write(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) replyError(id *json.RawMessage, code int, format string, args ...any) {
	if id == nil {
		return
	}
	s.write(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: fmt.Sprintf(format, args...)}})
}

func (s *Server) notify(method string, params any) {
	s.write(notification{JSONRPC: "2.0", Method: method, Params: params})
}

// Run serves until stdin closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var turnWG sync.WaitGroup
	defer turnWG.Wait()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.write(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: err.Error()}})
			continue
		}
		if req.JSONRPC != "2.0" {
			s.replyError(req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\"")
			continue
		}
		s.handle(ctx, &turnWG, req)
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, turnWG *sync.WaitGroup, req request) {
	switch req.Method {
	case "initialize":
		s.initialized = true
		s.reply(req.ID, map[string]any{
			"protocol_version": protocolVersion,
			"name":             "kestrel",
			"version":          s.version,
			"session_id":       s.runtime.SessionID(),
		})

	case "prompt":
		if !s.initialized {
			s.replyError(req.ID, codeInvalidRequest, "initialize first")
			return
		}
		var params struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.replyError(req.ID, codeInvalidParams, "prompt params: %v", err)
			return
		}
		events, err := s.runtime.Submit(ctx, params.Text)
		if err != nil {
			s.replyError(req.ID, codeInternalError, "%v", err)
			return
		}
		id := req.ID
		turnWG.Add(1)
		go func() {
			defer turnWG.Done()
			var final runtime.Event
			for ev := range events {
				switch ev.Type {
				case runtime.EventTurnComplete, runtime.EventError:
					final = ev
				default:
					s.notify("turn/event", ev)
				}
			}
			if final.Type == runtime.EventError {
				s.replyError(id, codeInternalError, "%s", final.Err)
				return
			}
			s.reply(id, map[string]any{"text": final.Text})
		}()

	case "approval/respond":
		var params struct {
			RequestID string `json:"request_id"`
			Approve   bool   `json:"approve"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.replyError(req.ID, codeInvalidParams, "approval params: %v", err)
			return
		}
		if err := s.runtime.RespondApproval(params.RequestID, params.Approve); err != nil {
			s.replyError(req.ID, codeInvalidRequest, "%v", err)
			return
		}
		s.reply(req.ID, map[string]any{"ok": true})

	case "cancel":
		s.runtime.Cancel()
		s.reply(req.ID, map[string]any{"ok": true})

	default:
		s.replyError(req.ID, codeMethodNotFound, "unknown method %q", req.Method)
	}
}
