// Package approval implements the single chokepoint every side-effecting
// tool action must pass through. Each session owns one Gate; at most one
// request is outstanding at a time, so a human operator is never shown two
// ambiguous prompts at once.
package approval

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/kestrelcli/kestrel/internal/audit"
)

// ActionKind classifies what a tool is about to do.
type ActionKind string

const (
	ActionEdit    ActionKind = "edit"
	ActionExecute ActionKind = "execute"
	ActionNetwork ActionKind = "network"
)

// ErrRequestPending reports a second approval request while one is
// outstanding. Tool dispatch is strictly sequential, so this is a
// concurrency violation, not a queueing situation.
var ErrRequestPending = errors.New("an approval request is already pending")

// ErrUnknownRequest reports a resolution for a request that is not the
// pending one.
var ErrUnknownRequest = errors.New("no pending approval request with that id")

// Request is one approval request surfaced to the active adapter.
type Request struct {
	ID          string     `json:"id"`
	Tool        string     `json:"tool"`
	Action      ActionKind `json:"action"`
	Description string     `json:"description"`
}

// Handler surfaces a request to whichever protocol adapter is active. The
// handler must not block; the decision arrives later via Resolve.
type Handler func(Request)

type pending struct {
	req Request
	ch  chan bool
}

// Gate suspends tool calls until the operator (or yolo mode) decides.
type Gate struct {
	sessionID string
	auditLog  *audit.Log

	mu      sync.Mutex
	yolo    bool
	handler Handler
	waiting *pending
}

// New returns a Gate for one session.
func New(sessionID string, auditLog *audit.Log, yolo bool) *Gate {
	return &Gate{sessionID: sessionID, auditLog: auditLog, yolo: yolo}
}

// SetYolo switches auto-approve mode.
func (g *Gate) SetYolo(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yolo = on
}

// Yolo reports whether auto-approve mode is on.
func (g *Gate) Yolo() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.yolo
}

// SetHandler installs the adapter surface for interactive requests. A nil
// handler auto-denies (batch mode without yolo).
func (g *Gate) SetHandler(h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// Request asks for permission to perform the described action. In yolo mode
// it resolves true immediately (still audited) and never suspends.
// Otherwise it surfaces the request through the installed handler and blocks
// until Resolve is called or ctx is cancelled; cancellation resolves the
// request as rejected and returns the context error.
func (g *Gate) Request(ctx context.Context, tool string, action ActionKind, description string) (bool, error) {
	g.mu.Lock()
	if g.yolo {
		g.mu.Unlock()
		g.auditLog.Record(g.sessionID, "approve", tool, string(action), description, "yolo")
		return true, nil
	}
	if g.waiting != nil {
		g.mu.Unlock()
		return false, ErrRequestPending
	}
	handler := g.handler
	if handler == nil {
		g.mu.Unlock()
		g.auditLog.Record(g.sessionID, "deny", tool, string(action), description, "no interactive approver")
		return false, nil
	}
	p := &pending{
		req: Request{ID: uuid.NewString(), Tool: tool, Action: action, Description: description},
		ch:  make(chan bool, 1),
	}
	g.waiting = p
	g.mu.Unlock()

	handler(p.req)

	select {
	case approved := <-p.ch:
		g.clear(p)
		decision := "deny"
		if approved {
			decision = "approve"
		}
		g.auditLog.Record(g.sessionID, decision, tool, string(action), description, "operator")
		return approved, nil
	case <-ctx.Done():
		g.clear(p)
		g.auditLog.Record(g.sessionID, "deny", tool, string(action), description, "turn cancelled")
		return false, ctx.Err()
	}
}

// Resolve delivers the operator's decision for the pending request. The
// decision is final; a resolved request is never retried in place.
func (g *Gate) Resolve(requestID string, approve bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiting == nil || g.waiting.req.ID != requestID {
		return ErrUnknownRequest
	}
	select {
	case g.waiting.ch <- approve:
	default:
	}
	return nil
}

// Pending returns the outstanding request, if any.
func (g *Gate) Pending() *Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiting == nil {
		return nil
	}
	req := g.waiting.req
	return &req
}

func (g *Gate) clear(p *pending) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiting == p {
		g.waiting = nil
	}
}
