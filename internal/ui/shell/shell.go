// Package shell is the interactive terminal adapter. It reads prompts and
// slash commands from stdin, feeds the runtime, and renders the turn event
// stream, including approval prompts.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/kestrelcli/kestrel/internal/runtime"
	"github.com/kestrelcli/kestrel/internal/session"
)

// ReloadError asks the caller to rebuild the shell around another session.
type ReloadError struct {
	SessionID string
}

func (e *ReloadError) Error() string {
	return "reload with session " + e.SessionID
}

var errExit = errors.New("exit requested")

// Options configures a Shell.
type Options struct {
	Runtime  *runtime.Runtime
	Sessions *session.Store
	Version  string
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
}

// Shell runs the interactive loop for one session.
type Shell struct {
	runtime  *runtime.Runtime
	sessions *session.Store
	version  string
	logger   *slog.Logger
	in       *bufio.Reader
	out      io.Writer
	tty      bool
	ctx      context.Context
}

// New builds a Shell. In/Out default to stdin/stdout.
func New(opts Options) *Shell {
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
	tty := false
	if f, ok := in.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Shell{
		runtime:  opts.Runtime,
		sessions: opts.Sessions,
		version:  opts.Version,
		logger:   logger,
		in:       bufio.NewReader(in),
		out:      out,
		tty:      tty,
	}
}

// Run reads prompts until EOF or /exit. A *ReloadError return means the
// caller should reopen with the named session and call Run again.
func (s *Shell) Run(ctx context.Context) error {
	s.ctx = ctx
	if s.tty {
		fmt.Fprintf(s.out, "kestrel %s  session %s\nType /help for commands.\n",
			s.version, s.runtime.SessionID())
	}

	for {
		if s.tty {
			fmt.Fprint(s.out, "> ")
		}
		line, err := s.in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			err := s.runMeta(line)
			if errors.Is(err, errExit) {
				return nil
			}
			var reload *ReloadError
			if errors.As(err, &reload) {
				return reload
			}
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			continue
		}

		if err := s.runPrompt(ctx, line); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *Shell) runMeta(line string) error {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := lookupMeta(fields[0])
	if !ok {
		fmt.Fprintf(s.out, "Unknown command /%s. Type /help.\n", fields[0])
		return nil
	}
	return cmd.Run(s, fields[1:])
}

func (s *Shell) runPrompt(ctx context.Context, text string) error {
	events, err := s.runtime.Submit(ctx, text)
	if err != nil {
		return err
	}
	if err := s.sessions.Touch(ctx, s.runtime.SessionID(), text); err != nil {
		s.logger.Warn("session not touched", "error", err)
	}
	for ev := range events {
		switch ev.Type {
		case runtime.EventAssistantDelta:
			fmt.Fprintln(s.out, ev.Text)
		case runtime.EventToolCallStarted:
			fmt.Fprintf(s.out, "[tool] %s %s\n", ev.Tool, ev.ToolArgs)
		case runtime.EventApprovalRequested:
			s.promptApproval(ev)
		case runtime.EventToolResult:
			brief := ev.Brief
			if brief == "" {
				if ev.OK {
					brief = "ok"
				} else {
					brief = "failed"
				}
			}
			fmt.Fprintf(s.out, "[tool] %s: %s\n", ev.Tool, brief)
		case runtime.EventTurnComplete:
			// Final text was already printed as a delta.
		case runtime.EventError:
			fmt.Fprintf(s.out, "turn failed: %s\n", ev.Err)
		}
	}
	return nil
}

// promptApproval reads a y/N answer for a pending request. Anything but an
// explicit yes denies.
func (s *Shell) promptApproval(ev runtime.Event) {
	req := ev.Approval
	fmt.Fprintf(s.out, "\n%s wants to %s:\n  %s\nAllow? [y/N] ", req.Tool, req.Action, req.Description)
	line, err := s.in.ReadString('\n')
	if err != nil {
		line = ""
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	approve := answer == "y" || answer == "yes"
	if err := s.runtime.RespondApproval(req.ID, approve); err != nil {
		s.logger.Warn("approval response not delivered", "error", err)
	}
}
