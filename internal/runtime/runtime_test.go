package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelcli/kestrel/internal/approval"
	"github.com/kestrelcli/kestrel/internal/journal"
	"github.com/kestrelcli/kestrel/internal/message"
	"github.com/kestrelcli/kestrel/internal/persistence"
	"github.com/kestrelcli/kestrel/internal/provider"
	"github.com/kestrelcli/kestrel/internal/timemachine"
	"github.com/kestrelcli/kestrel/internal/tools"
)

// scriptedProvider returns queued responses (or errors) in order.
type scriptedProvider struct {
	steps []scriptStep
	calls int
}

type scriptStep struct {
	resp provider.Response
	err  error
}

func textStep(text string) scriptStep {
	return scriptStep{resp: provider.Response{Message: message.Assistant(text)}}
}

func toolStep(calls ...message.ToolCall) scriptStep {
	return scriptStep{resp: provider.Response{Message: message.Message{
		Role:      message.RoleAssistant,
		ToolCalls: calls,
	}}}
}

func errStep(err error) scriptStep { return scriptStep{err: err} }

func (p *scriptedProvider) ModelName() string                   { return "test-model" }
func (p *scriptedProvider) MaxContextSize() int                 { return 1_000_000 }
func (p *scriptedProvider) Capabilities() []provider.Capability { return nil }

func (p *scriptedProvider) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	if p.calls >= len(p.steps) {
		return provider.Response{}, fmt.Errorf("unscripted model call %d", p.calls)
	}
	step := p.steps[p.calls]
	p.calls++
	return step.resp, step.err
}

// gatedTool counts how often its body runs; the body only runs after the
// approval gate says yes.
type gatedTool struct {
	name string
	gate *approval.Gate
	runs atomic.Int64
}

func (t *gatedTool) Name() string        { return t.name }
func (t *gatedTool) Description() string { return "test tool" }
func (t *gatedTool) Capability() string  { return "execute" }
func (t *gatedTool) Schema() map[string]any {
	return map[string]any{"type": "object", "additionalProperties": true}
}

func (t *gatedTool) Invoke(ctx context.Context, args json.RawMessage) tools.Result {
	approved, err := t.gate.Request(ctx, t.name, approval.ActionExecute, "run "+t.name)
	if err != nil {
		return tools.Errorf("approval: %v", err)
	}
	if !approved {
		return tools.Rejected()
	}
	t.runs.Add(1)
	return tools.Result{OK: true, Output: t.name + " ran"}
}

type fixture struct {
	rt      *Runtime
	journal *journal.Journal
	gate    *approval.Gate
	tm      *timemachine.TimeMachine
	tool    *gatedTool
	tool2   *gatedTool
}

func newFixture(t *testing.T, prov provider.ChatProvider, yolo bool) *fixture {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sessionID := uuid.NewString()
	if err := store.CreateSession(context.Background(), sessionID, "/tmp/work"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	jnl, err := journal.Open(context.Background(), store, sessionID)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	gate := approval.New(sessionID, nil, yolo)
	tm := timemachine.New()
	registry := tools.NewRegistry(nil, nil)
	tool := &gatedTool{name: "first_tool", gate: gate}
	tool2 := &gatedTool{name: "second_tool", gate: gate}
	for _, tl := range []tools.Tool{tool, tool2, tools.NewSendTMail(tm)} {
		if err := registry.Register(tl); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}

	rt := New(Options{
		Journal:     jnl,
		Gate:        gate,
		TimeMachine: tm,
		Provider:    prov,
		Registry:    registry,
		Interactive: true,
	})
	return &fixture{rt: rt, journal: jnl, gate: gate, tm: tm, tool: tool, tool2: tool2}
}

// drive consumes a turn's event stream, answering approval requests with
// the given decisions by tool name. It returns all events in order.
func drive(t *testing.T, f *fixture, prompt string, decisions map[string]bool) []Event {
	t.Helper()
	events, err := f.rt.Submit(context.Background(), prompt)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var seen []Event
	for ev := range events {
		seen = append(seen, ev)
		if ev.Type == EventApprovalRequested {
			approve, ok := decisions[ev.Approval.Tool]
			if !ok {
				t.Fatalf("unexpected approval request for %s", ev.Approval.Tool)
			}
			if err := f.rt.RespondApproval(ev.Approval.ID, approve); err != nil {
				t.Fatalf("respond approval: %v", err)
			}
		}
	}
	return seen
}

func lastEvent(t *testing.T, events []Event) Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	return events[len(events)-1]
}

func TestPlainTextTurn(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{textStep("hello back")}}
	f := newFixture(t, prov, false)

	events := drive(t, f, "hello", nil)
	final := lastEvent(t, events)
	if final.Type != EventTurnComplete || final.Text != "hello back" {
		t.Fatalf("final event = %+v, want turn_complete with text", final)
	}
	if got := f.journal.NCheckpoints(); got != 1 {
		t.Fatalf("NCheckpoints = %d, want 1", got)
	}
	msgs := f.journal.Messages()
	if len(msgs) != 2 || msgs[0].Role != message.RoleUser || msgs[1].Role != message.RoleAssistant {
		t.Fatalf("journal messages = %+v", msgs)
	}
}

func TestApprovedToolRuns(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{
		toolStep(message.ToolCall{ID: "c1", Name: "first_tool", Arguments: json.RawMessage(`{}`)}),
		textStep("done"),
	}}
	f := newFixture(t, prov, false)

	events := drive(t, f, "do it", map[string]bool{"first_tool": true})
	if final := lastEvent(t, events); final.Type != EventTurnComplete {
		t.Fatalf("final event = %+v", final)
	}
	if got := f.tool.runs.Load(); got != 1 {
		t.Fatalf("tool body ran %d times, want 1", got)
	}
	// One checkpoint after the tool batch, one after the final text.
	if got := f.journal.NCheckpoints(); got != 2 {
		t.Fatalf("NCheckpoints = %d, want 2", got)
	}
}

func TestRejectionSkipsBodyButContinuesBatch(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{
		toolStep(
			message.ToolCall{ID: "c1", Name: "first_tool", Arguments: json.RawMessage(`{}`)},
			message.ToolCall{ID: "c2", Name: "second_tool", Arguments: json.RawMessage(`{}`)},
		),
		textStep("understood"),
	}}
	f := newFixture(t, prov, false)

	events := drive(t, f, "do both", map[string]bool{"first_tool": false, "second_tool": true})
	if final := lastEvent(t, events); final.Type != EventTurnComplete {
		t.Fatalf("final event = %+v", final)
	}
	if got := f.tool.runs.Load(); got != 0 {
		t.Fatalf("rejected tool body ran %d times", got)
	}
	if got := f.tool2.runs.Load(); got != 1 {
		t.Fatalf("second tool body ran %d times, want 1", got)
	}

	// The journal records the rejection resolution for the model to see.
	var sawRejected bool
	for _, msg := range f.journal.Messages() {
		if msg.Role == message.RoleTool && msg.Resolution == message.ResolutionRejected {
			sawRejected = true
		}
	}
	if !sawRejected {
		t.Fatal("no rejected tool result in the journal")
	}
}

func TestYoloNeverSuspends(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{
		toolStep(message.ToolCall{ID: "c1", Name: "first_tool", Arguments: json.RawMessage(`{}`)}),
		textStep("done"),
	}}
	f := newFixture(t, prov, true)

	events := drive(t, f, "go", nil)
	for _, ev := range events {
		if ev.Type == EventApprovalRequested {
			t.Fatal("approval requested in yolo mode")
		}
	}
	if got := f.tool.runs.Load(); got != 1 {
		t.Fatalf("tool body ran %d times, want 1", got)
	}
}

func TestTMailRewindsAndInjects(t *testing.T) {
	tmailArgs, _ := json.Marshal(map[string]any{"message": "go left instead", "checkpoint_id": 1})
	prov := &scriptedProvider{steps: []scriptStep{
		textStep("first answer"),
		textStep("second answer"),
		toolStep(message.ToolCall{ID: "c1", Name: "send_tmail", Arguments: tmailArgs}),
		textStep("went left"),
	}}
	f := newFixture(t, prov, false)

	// Two completed turns produce checkpoints 0 and 1.
	drive(t, f, "turn one", nil)
	drive(t, f, "turn two", nil)
	if got := f.journal.NCheckpoints(); got != 2 {
		t.Fatalf("NCheckpoints before t-mail = %d, want 2", got)
	}

	events := drive(t, f, "turn three", nil)
	final := lastEvent(t, events)
	if final.Type != EventTurnComplete || final.Text != "went left" {
		t.Fatalf("final event = %+v", final)
	}

	msgs := f.journal.Messages()
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "\n")
	// History after checkpoint 1 is gone; the injected message and the new
	// answer replace it.
	if strings.Contains(joined, "turn three") {
		t.Fatalf("rewound history still contains the third prompt:\n%s", joined)
	}
	// The t-mail text is appended verbatim as a user message, no framing.
	var injected *message.Message
	for i := range msgs {
		if msgs[i].Content == "go left instead" {
			injected = &msgs[i]
		}
	}
	if injected == nil {
		t.Fatalf("injected t-mail message missing:\n%s", joined)
	}
	if injected.Role != message.RoleUser {
		t.Fatalf("injected t-mail role = %s, want user", injected.Role)
	}
	if !strings.Contains(joined, "went left") {
		t.Fatalf("post-rewind answer missing:\n%s", joined)
	}
	// Checkpoints: rewind left 2, the post-rewind answer added one.
	if got := f.journal.NCheckpoints(); got != 3 {
		t.Fatalf("NCheckpoints after t-mail turn = %d, want 3", got)
	}
	if f.tm.FetchPendingTMail() != nil {
		t.Fatal("t-mail still pending after delivery")
	}
}

func TestRejectionSuppressesTMail(t *testing.T) {
	tmailArgs, _ := json.Marshal(map[string]any{"message": "escape", "checkpoint_id": 0})
	prov := &scriptedProvider{steps: []scriptStep{
		textStep("first answer"),
		toolStep(
			message.ToolCall{ID: "c1", Name: "send_tmail", Arguments: tmailArgs},
			message.ToolCall{ID: "c2", Name: "first_tool", Arguments: json.RawMessage(`{}`)},
		),
		textStep("staying put"),
	}}
	f := newFixture(t, prov, false)

	drive(t, f, "turn one", nil)
	events := drive(t, f, "turn two", map[string]bool{"first_tool": false})
	final := lastEvent(t, events)
	if final.Type != EventTurnComplete || final.Text != "staying put" {
		t.Fatalf("final event = %+v", final)
	}

	// The rewind never happened: both turns are still in the journal and
	// the t-mail text was never injected.
	joined := ""
	for _, m := range f.journal.Messages() {
		joined += m.Content + "\n"
	}
	if !strings.Contains(joined, "turn two") {
		t.Fatalf("journal lost the second turn:\n%s", joined)
	}
	if strings.Contains(joined, "escape") {
		t.Fatalf("suppressed t-mail was injected:\n%s", joined)
	}
	if f.tm.FetchPendingTMail() != nil {
		t.Fatal("t-mail still pending after suppression")
	}
}

func TestRejectionSuppressesLaterBatchTMail(t *testing.T) {
	tmailArgs, _ := json.Marshal(map[string]any{"message": "escape", "checkpoint_id": 0})
	prov := &scriptedProvider{steps: []scriptStep{
		textStep("first answer"),
		toolStep(message.ToolCall{ID: "c1", Name: "first_tool", Arguments: json.RawMessage(`{}`)}),
		toolStep(message.ToolCall{ID: "c2", Name: "send_tmail", Arguments: tmailArgs}),
		textStep("staying put"),
	}}
	f := newFixture(t, prov, false)

	drive(t, f, "turn one", nil)
	events := drive(t, f, "turn two", map[string]bool{"first_tool": false})
	final := lastEvent(t, events)
	if final.Type != EventTurnComplete || final.Text != "staying put" {
		t.Fatalf("final event = %+v", final)
	}

	// The denial in the first batch blocks the rewind sent in the second:
	// the journal keeps both turns and the t-mail text never appears.
	joined := ""
	for _, m := range f.journal.Messages() {
		joined += m.Content + "\n"
	}
	if !strings.Contains(joined, "turn two") {
		t.Fatalf("journal lost the second turn:\n%s", joined)
	}
	if strings.Contains(joined, "escape") {
		t.Fatalf("denial was escaped by a later-batch t-mail:\n%s", joined)
	}
	// One checkpoint from turn one, then one per batch and one for the
	// final text; a rewind would have truncated these.
	if got := f.journal.NCheckpoints(); got != 4 {
		t.Fatalf("NCheckpoints = %d, want 4", got)
	}
	if f.tm.FetchPendingTMail() != nil {
		t.Fatal("t-mail still pending after suppression")
	}
}

func TestRetryableFailureLeavesNoTrace(t *testing.T) {
	transient := &provider.Error{Class: provider.ErrorClassServer, Message: "upstream hiccup"}
	scripted := &scriptedProvider{steps: []scriptStep{
		errStep(transient),
		errStep(transient),
		textStep("finally"),
	}}
	retrier := provider.NewRetrier(scripted, 3, nil)
	f := newFixture(t, retrier, false)

	events := drive(t, f, "please", nil)
	final := lastEvent(t, events)
	if final.Type != EventTurnComplete || final.Text != "finally" {
		t.Fatalf("final event = %+v", final)
	}
	// Transient failures must not show up in the durable history.
	msgs := f.journal.Messages()
	if len(msgs) != 2 {
		t.Fatalf("journal has %d messages, want 2 (user + assistant)", len(msgs))
	}
	if scripted.calls != 3 {
		t.Fatalf("provider called %d times, want 3", scripted.calls)
	}
}

func TestFatalProviderErrorFailsTurn(t *testing.T) {
	fatal := &provider.Error{Class: provider.ErrorClassAuth, Message: "bad key"}
	scripted := &scriptedProvider{steps: []scriptStep{errStep(fatal)}}
	retrier := provider.NewRetrier(scripted, 3, nil)
	f := newFixture(t, retrier, false)

	events := drive(t, f, "please", nil)
	final := lastEvent(t, events)
	if final.Type != EventError {
		t.Fatalf("final event = %+v, want error", final)
	}
	if scripted.calls != 1 {
		t.Fatalf("fatal error retried: %d calls", scripted.calls)
	}
	// The user message stays journaled; no checkpoint was written.
	if got := f.journal.NCheckpoints(); got != 0 {
		t.Fatalf("NCheckpoints = %d, want 0", got)
	}
	if got := len(f.journal.Messages()); got != 1 {
		t.Fatalf("journal has %d messages, want 1", got)
	}
}

func TestSubmitWhileActiveFails(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{
		toolStep(message.ToolCall{ID: "c1", Name: "first_tool", Arguments: json.RawMessage(`{}`)}),
		textStep("done"),
	}}
	f := newFixture(t, prov, false)

	events, err := f.rt.Submit(context.Background(), "go")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for ev := range events {
		if ev.Type == EventApprovalRequested {
			if _, err := f.rt.Submit(context.Background(), "again"); err != ErrTurnActive {
				t.Fatalf("second submit = %v, want ErrTurnActive", err)
			}
			if err := f.rt.RespondApproval(ev.Approval.ID, true); err != nil {
				t.Fatalf("respond: %v", err)
			}
		}
	}
}

func TestClearContextResetsCounters(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{textStep("one")}}
	f := newFixture(t, prov, false)
	drive(t, f, "turn", nil)

	if err := f.rt.ClearContext(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := f.rt.NCheckpoints(); got != 0 {
		t.Fatalf("NCheckpoints after clear = %d, want 0", got)
	}
	// A t-mail to the wiped checkpoint 0 must now be invalid.
	err := f.tm.SendTMail(timemachine.TMail{Message: "x", CheckpointID: 0})
	if err == nil {
		t.Fatal("t-mail to cleared checkpoint succeeded")
	}
}
