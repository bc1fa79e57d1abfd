// Package timemachine holds the per-session rewind mailbox. A tool invoked
// by the model can send a single TMail asking the runtime to rewind the
// conversation to an earlier checkpoint and re-drive it with an injected
// message.
package timemachine

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidCheckpoint reports a TMail targeting a checkpoint that does not
// exist at validation time.
var ErrInvalidCheckpoint = errors.New("no checkpoint with the given id")

// ErrTMailPending reports a second TMail sent while one is already queued.
var ErrTMailPending = errors.New("a t-mail is already pending")

// TMail is a message addressed to an earlier checkpoint.
type TMail struct {
	Message      string `json:"message"`
	CheckpointID int    `json:"checkpoint_id"`
}

// TimeMachine validates and holds at most one pending TMail. Each session
// owns exactly one instance; there is no process-wide state.
type TimeMachine struct {
	mu           sync.Mutex
	pending      *TMail
	nCheckpoints int
}

// New returns an empty TimeMachine.
func New() *TimeMachine {
	return &TimeMachine{}
}

// SendTMail queues a TMail. It fails with ErrInvalidCheckpoint when the
// target is out of range and ErrTMailPending when one is already queued;
// neither failure mutates the pending entry.
func (tm *TimeMachine) SendTMail(t TMail) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.pending != nil {
		return ErrTMailPending
	}
	if t.CheckpointID < 0 || t.CheckpointID >= tm.nCheckpoints {
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidCheckpoint, t.CheckpointID, tm.nCheckpoints)
	}
	queued := t
	tm.pending = &queued
	return nil
}

// SetNCheckpoints updates the checkpoint count used for validation. The
// runtime calls this after every journal checkpoint.
func (tm *TimeMachine) SetNCheckpoints(n int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.nCheckpoints = n
}

// FetchPendingTMail atomically takes and clears the pending entry. It
// returns nil on every call until a new TMail is sent.
func (tm *TimeMachine) FetchPendingTMail() *TMail {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	pending := tm.pending
	tm.pending = nil
	return pending
}
