// Package runtime drives the agent turn loop: prompt in, model calls and
// tool dispatch in the middle, checkpoint and possible rewind at the edges.
// Adapters (shell, printer, wire, acp) consume the event stream; the
// runtime itself never renders anything.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelcli/kestrel/internal/approval"
	"github.com/kestrelcli/kestrel/internal/bus"
	"github.com/kestrelcli/kestrel/internal/journal"
	"github.com/kestrelcli/kestrel/internal/message"
	"github.com/kestrelcli/kestrel/internal/otel"
	"github.com/kestrelcli/kestrel/internal/provider"
	"github.com/kestrelcli/kestrel/internal/timemachine"
	"github.com/kestrelcli/kestrel/internal/tools"
)

// ErrTurnActive reports a Submit while a turn is already running. Turns are
// strictly sequential per session.
var ErrTurnActive = errors.New("a turn is already in progress")

// maxTurnSteps bounds the model-call loop of one turn, including rewinds.
const maxTurnSteps = 64

// Options configures a Runtime.
type Options struct {
	Journal      *journal.Journal
	Gate         *approval.Gate
	TimeMachine  *timemachine.TimeMachine
	Provider     provider.ChatProvider
	Registry     *tools.Registry
	Bus          *bus.Bus
	Logger       *slog.Logger
	Metrics      *otel.Metrics
	Tracer       trace.Tracer
	SystemPrompt string
	Thinking     bool
	// Interactive installs the approval handler that surfaces requests as
	// events. When false the gate auto-denies (unless yolo).
	Interactive bool
	// Compactor controls automatic history compaction; zero values mean
	// defaults.
	Compactor CompactorOptions
}

type turn struct {
	events chan Event
	cancel context.CancelFunc
}

// Runtime owns the turn state machine of one session.
type Runtime struct {
	journal     *journal.Journal
	gate        *approval.Gate
	tm          *timemachine.TimeMachine
	provider    provider.ChatProvider
	registry    *tools.Registry
	bus         *bus.Bus
	logger      *slog.Logger
	metrics     *otel.Metrics
	tracer      trace.Tracer
	system      string
	thinking    bool
	interactive bool
	compactor   *Compactor

	mu     sync.Mutex
	active *turn
}

// New builds a Runtime. The checkpoint count mirror of the TimeMachine is
// initialized from the journal so rewind targets validate correctly after a
// restart.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		journal:     opts.Journal,
		gate:        opts.Gate,
		tm:          opts.TimeMachine,
		provider:    opts.Provider,
		registry:    opts.Registry,
		bus:         opts.Bus,
		logger:      logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		system:      opts.SystemPrompt,
		thinking:    opts.Thinking,
		interactive: opts.Interactive,
	}
	r.compactor = NewCompactor(opts.Journal, opts.Provider, opts.Compactor, logger)
	r.tm.SetNCheckpoints(r.journal.NCheckpoints())
	return r
}

// SessionID returns the owning session's id.
func (r *Runtime) SessionID() string { return r.journal.SessionID() }

// NCheckpoints returns the journal's checkpoint count.
func (r *Runtime) NCheckpoints() int { return r.journal.NCheckpoints() }

// SetYolo toggles auto-approval.
func (r *Runtime) SetYolo(on bool) { r.gate.SetYolo(on) }

// Yolo reports whether auto-approval is on.
func (r *Runtime) Yolo() bool { return r.gate.Yolo() }

// SetThinking toggles extended reasoning for capable models.
func (r *Runtime) SetThinking(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thinking = on
}

// Thinking reports the reasoning toggle.
func (r *Runtime) Thinking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.thinking
}

// ClearContext wipes the journal and resets the checkpoint counter.
func (r *Runtime) ClearContext(ctx context.Context) error {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrTurnActive
	}
	r.mu.Unlock()
	if err := r.journal.Clear(ctx); err != nil {
		return err
	}
	r.tm.SetNCheckpoints(0)
	return nil
}

// CompactContext forces a compaction regardless of the token threshold.
func (r *Runtime) CompactContext(ctx context.Context) error {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrTurnActive
	}
	r.mu.Unlock()
	if err := r.compactor.Compact(ctx); err != nil {
		return err
	}
	r.tm.SetNCheckpoints(r.journal.NCheckpoints())
	return nil
}

// Submit starts a turn for one user prompt. It returns the turn's event
// stream; the channel closes after a terminal event. A second Submit while
// a turn runs fails with ErrTurnActive.
func (r *Runtime) Submit(ctx context.Context, text string) (<-chan Event, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrTurnActive
	}
	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{events: make(chan Event, 64), cancel: cancel}
	r.active = t
	r.mu.Unlock()

	go r.runTurn(turnCtx, t, text)
	return t.events, nil
}

// RespondApproval delivers the operator's decision for a pending approval
// request.
func (r *Runtime) RespondApproval(requestID string, approve bool) error {
	if err := r.gate.Resolve(requestID, approve); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.ApprovalDecisions.Add(context.Background(), 1,
			metric.WithAttributes(attribute.Bool("approved", approve)))
	}
	return nil
}

// Cancel aborts the running turn, if any. Messages already journaled stay;
// no checkpoint is written for the aborted turn.
func (r *Runtime) Cancel() {
	r.mu.Lock()
	t := r.active
	r.mu.Unlock()
	if t != nil {
		t.cancel()
	}
}

func (r *Runtime) finishTurn(t *turn) {
	if r.interactive {
		r.gate.SetHandler(nil)
	}
	t.cancel()
	close(t.events)
	r.mu.Lock()
	if r.active == t {
		r.active = nil
	}
	r.mu.Unlock()
}

func (r *Runtime) publish(topic string, ev bus.TurnEvent) {
	if r.bus == nil {
		return
	}
	ev.SessionID = r.journal.SessionID()
	r.bus.Publish(topic, ev)
}

func (r *Runtime) runTurn(ctx context.Context, t *turn, text string) {
	defer r.finishTurn(t)

	started := time.Now()
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "turn")
		defer span.End()
	}
	r.publish(bus.TopicTurnStarted, bus.TurnEvent{})

	if r.interactive {
		r.gate.SetHandler(func(req approval.Request) {
			t.events <- Event{Type: EventApprovalRequested, Approval: &req}
			r.publish(bus.TopicTurnApproval, bus.TurnEvent{Tool: req.Tool})
		})
	}

	if _, err := r.journal.Append(ctx, message.User(text)); err != nil {
		r.fail(t, fmt.Errorf("journal user message: %w", err))
		return
	}

	// A rejection anywhere in the turn voids every rewind queued later in
	// the same turn; the model must not escape a denial by time travel.
	turnRejected := false

	for step := 0; ; step++ {
		if step >= maxTurnSteps {
			r.fail(t, fmt.Errorf("turn exceeded %d model calls", maxTurnSteps))
			return
		}
		if err := ctx.Err(); err != nil {
			r.fail(t, err)
			return
		}

		if err := r.compactor.CompactIfNeeded(ctx); err != nil {
			// Compaction failure is not fatal; the model call may still fit.
			r.logger.Warn("compaction failed", "error", err)
		} else {
			r.tm.SetNCheckpoints(r.journal.NCheckpoints())
		}

		resp, err := r.chat(ctx)
		if err != nil {
			r.fail(t, err)
			return
		}

		if _, err := r.journal.Append(ctx, resp.Message); err != nil {
			r.fail(t, fmt.Errorf("journal assistant message: %w", err))
			return
		}
		if resp.Message.Content != "" {
			t.events <- Event{Type: EventAssistantDelta, Text: resp.Message.Content}
		}

		if len(resp.Message.ToolCalls) == 0 {
			if err := r.checkpoint(ctx); err != nil {
				r.fail(t, err)
				return
			}
			if turnRejected {
				r.discardPendingTMail()
			} else {
				rewound, err := r.deliverTMail(ctx, t)
				if err != nil {
					r.fail(t, err)
					return
				}
				if rewound {
					continue
				}
			}
			if r.metrics != nil {
				r.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
			}
			r.publish(bus.TopicTurnCompleted, bus.TurnEvent{Turn: step})
			t.events <- Event{Type: EventTurnComplete, Text: resp.Message.Content}
			return
		}

		rejected, err := r.dispatchCalls(ctx, t, resp.Message.ToolCalls)
		if err != nil {
			r.fail(t, err)
			return
		}
		if rejected {
			turnRejected = true
		}
		if err := r.checkpoint(ctx); err != nil {
			r.fail(t, err)
			return
		}
		if turnRejected {
			r.discardPendingTMail()
			continue
		}
		if _, err := r.deliverTMail(ctx, t); err != nil {
			r.fail(t, err)
			return
		}
	}
}

// chat performs one model call over the full journaled history.
func (r *Runtime) chat(ctx context.Context) (provider.Response, error) {
	start := time.Now()
	req := provider.Request{
		System:   r.system,
		Messages: r.journal.Messages(),
		Tools:    r.registry.Schemas(),
		Thinking: r.Thinking(),
	}
	r.publish(bus.TopicTurnModelCall, bus.TurnEvent{})
	resp, err := r.provider.Chat(ctx, req)
	if r.metrics != nil {
		r.metrics.ModelCallDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("model", r.provider.ModelName())))
		if err == nil {
			r.metrics.TokensUsed.Add(ctx, int64(resp.Usage.PromptTokens+resp.Usage.CompletionTokens))
		}
	}
	if err != nil {
		return provider.Response{}, fmt.Errorf("model call: %w", err)
	}
	return resp, nil
}

// dispatchCalls runs the batch strictly in order, journaling one tool
// result per call. It reports whether any call was rejected by the
// operator.
func (r *Runtime) dispatchCalls(ctx context.Context, t *turn, calls []message.ToolCall) (bool, error) {
	rejected := false
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return rejected, err
		}
		t.events <- Event{Type: EventToolCallStarted, Tool: call.Name, ToolArgs: string(call.Arguments)}
		r.publish(bus.TopicTurnToolCall, bus.TurnEvent{Tool: call.Name})

		start := time.Now()
		result := r.registry.Dispatch(ctx, call.Name, call.Arguments)
		if r.metrics != nil {
			r.metrics.ToolCallDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("tool", call.Name)))
			if !result.OK {
				r.metrics.ToolCallErrors.Add(ctx, 1,
					metric.WithAttributes(attribute.String("tool", call.Name)))
			}
		}
		if err := ctx.Err(); err != nil {
			return rejected, err
		}

		resolution := message.ResolutionOK
		if !result.OK {
			resolution = message.ResolutionError
		}
		if result.Rejected {
			resolution = message.ResolutionRejected
			rejected = true
		}
		if _, err := r.journal.Append(ctx, message.ToolResult(call, resolution, result.Encode())); err != nil {
			return rejected, fmt.Errorf("journal tool result: %w", err)
		}
		t.events <- Event{
			Type:   EventToolResult,
			Tool:   call.Name,
			OK:     result.OK,
			Output: result.Output,
			Brief:  result.Brief,
		}
	}
	return rejected, nil
}

func (r *Runtime) checkpoint(ctx context.Context) error {
	if _, err := r.journal.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	r.tm.SetNCheckpoints(r.journal.NCheckpoints())
	return nil
}

// discardPendingTMail drops any queued rewind after a rejection in the
// current turn. The discard is logged; the model only sees the sentinel
// text of its send_tmail result.
func (r *Runtime) discardPendingTMail() {
	if stale := r.tm.FetchPendingTMail(); stale != nil {
		r.logger.Info("discarding t-mail after rejection",
			"checkpoint_id", stale.CheckpointID)
	}
}

// deliverTMail takes a pending rewind request, truncates the journal to the
// target checkpoint and appends the TMail text verbatim as user input. It
// reports whether a rewind happened.
func (r *Runtime) deliverTMail(ctx context.Context, t *turn) (bool, error) {
	tmail := r.tm.FetchPendingTMail()
	if tmail == nil {
		return false, nil
	}
	if err := r.journal.Rewind(ctx, tmail.CheckpointID); err != nil {
		return false, fmt.Errorf("rewind: %w", err)
	}
	r.tm.SetNCheckpoints(r.journal.NCheckpoints())
	if r.metrics != nil {
		r.metrics.Rewinds.Add(ctx, 1)
	}
	r.logger.Info("rewound to checkpoint",
		"checkpoint_id", tmail.CheckpointID,
		"n_checkpoints", r.journal.NCheckpoints())
	r.publish(bus.TopicTurnRewind, bus.TurnEvent{Turn: tmail.CheckpointID})

	if _, err := r.journal.Append(ctx, message.User(tmail.Message)); err != nil {
		return false, fmt.Errorf("journal t-mail message: %w", err)
	}
	return true, nil
}

func (r *Runtime) fail(t *turn, err error) {
	r.logger.Error("turn failed", "error", err)
	r.publish(bus.TopicTurnFailed, bus.TurnEvent{Error: err.Error()})
	t.events <- Event{Type: EventError, Err: err.Error()}
}
