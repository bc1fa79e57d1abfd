package timemachine

import (
	"errors"
	"testing"
)

func TestSendTMailValidatesRange(t *testing.T) {
	tm := New()
	tm.SetNCheckpoints(3)

	for _, id := range []int{-1, 3, 10} {
		err := tm.SendTMail(TMail{Message: "x", CheckpointID: id})
		if !errors.Is(err, ErrInvalidCheckpoint) {
			t.Fatalf("SendTMail(%d) = %v, want ErrInvalidCheckpoint", id, err)
		}
	}
	if tm.FetchPendingTMail() != nil {
		t.Fatal("failed sends left a pending t-mail")
	}

	if err := tm.SendTMail(TMail{Message: "ok", CheckpointID: 2}); err != nil {
		t.Fatalf("SendTMail(2) = %v", err)
	}
}

func TestSendTMailSinglePending(t *testing.T) {
	tm := New()
	tm.SetNCheckpoints(2)

	if err := tm.SendTMail(TMail{Message: "first", CheckpointID: 0}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	err := tm.SendTMail(TMail{Message: "second", CheckpointID: 1})
	if !errors.Is(err, ErrTMailPending) {
		t.Fatalf("second send = %v, want ErrTMailPending", err)
	}

	// The original entry is untouched.
	pending := tm.FetchPendingTMail()
	if pending == nil || pending.Message != "first" {
		t.Fatalf("pending = %+v, want the first t-mail", pending)
	}
}

func TestPendingCheckedBeforeRange(t *testing.T) {
	tm := New()
	tm.SetNCheckpoints(1)
	if err := tm.SendTMail(TMail{Message: "queued", CheckpointID: 0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Out of range AND pending: the pending error wins.
	err := tm.SendTMail(TMail{Message: "bad", CheckpointID: 99})
	if !errors.Is(err, ErrTMailPending) {
		t.Fatalf("send = %v, want ErrTMailPending", err)
	}
}

func TestFetchClearsPending(t *testing.T) {
	tm := New()
	tm.SetNCheckpoints(1)
	if err := tm.SendTMail(TMail{Message: "once", CheckpointID: 0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := tm.FetchPendingTMail(); got == nil || got.Message != "once" {
		t.Fatalf("first fetch = %+v", got)
	}
	if got := tm.FetchPendingTMail(); got != nil {
		t.Fatalf("second fetch = %+v, want nil", got)
	}
	// A new send is possible after the fetch.
	if err := tm.SendTMail(TMail{Message: "again", CheckpointID: 0}); err != nil {
		t.Fatalf("send after fetch: %v", err)
	}
}
