// Package wire is the machine-facing stdio adapter: newline-delimited JSON
// commands in, runtime events out. It exists for frontends that want the
// full event stream without speaking JSON-RPC.
package wire

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

// Command is one inbound line.
type Command struct {
	Type string `json:"type"` // "prompt", "approval", "cancel"

	// Prompt fields.
	Text string `json:"text,omitempty"`

	// Approval fields.
	RequestID string `json:"request_id,omitempty"`
	Approve   bool   `json:"approve,omitempty"`
}

// Options configures a Server.
type Options struct {
	Runtime *runtime.Runtime
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

// Server pumps commands and events over stdio.
type Server struct {
	runtime *runtime.Runtime
	logger  *slog.Logger
	in      io.Reader

	outMu sync.Mutex
	out   io.Writer
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
	return &Server{runtime: opts.Runtime, logger: logger, in: in, out: out}
}

func (s *Server) emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode outbound event", "error", err)
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

type errorLine struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Run serves until stdin closes or ctx is cancelled. Prompts are processed
// sequentially; approval and cancel commands are handled while a turn runs.
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
		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			s.emit(errorLine{Type: "error", Error: fmt.Sprintf("parse command: %v", err)})
			continue
		}

		switch cmd.Type {
		case "prompt":
			events, err := s.runtime.Submit(ctx, cmd.Text)
			if err != nil {
				s.emit(errorLine{Type: "error", Error: err.Error()})
				continue
			}
			turnWG.Add(1)
			go func() {
				defer turnWG.Done()
				for ev := range events {
					s.emit(ev)
				}
			}()
		case "approval":
			if err := s.runtime.RespondApproval(cmd.RequestID, cmd.Approve); err != nil {
				s.emit(errorLine{Type: "error", Error: err.Error()})
			}
		case "cancel":
			s.runtime.Cancel()
		default:
			s.emit(errorLine{Type: "error", Error: fmt.Sprintf("unknown command type %q", cmd.Type)})
		}
	}
	return scanner.Err()
}
