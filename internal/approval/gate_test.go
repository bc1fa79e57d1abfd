package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestYoloApprovesWithoutHandler(t *testing.T) {
	g := New("sess", nil, true)
	approved, err := g.Request(context.Background(), "write_file", ActionEdit, "write /tmp/x")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !approved {
		t.Fatal("yolo mode denied the request")
	}
}

func TestNilHandlerDenies(t *testing.T) {
	g := New("sess", nil, false)
	approved, err := g.Request(context.Background(), "fetch", ActionNetwork, "fetch url")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if approved {
		t.Fatal("request approved with no handler installed")
	}
}

func TestResolveApproves(t *testing.T) {
	g := New("sess", nil, false)
	requests := make(chan Request, 1)
	g.SetHandler(func(req Request) { requests <- req })

	done := make(chan struct{})
	var approved bool
	var reqErr error
	go func() {
		defer close(done)
		approved, reqErr = g.Request(context.Background(), "write_file", ActionEdit, "write")
	}()

	req := <-requests
	if g.Pending() == nil {
		t.Fatal("no pending request while suspended")
	}
	if err := g.Resolve(req.ID, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	<-done
	if reqErr != nil {
		t.Fatalf("Request: %v", reqErr)
	}
	if !approved {
		t.Fatal("approved decision was not delivered")
	}
	if g.Pending() != nil {
		t.Fatal("request still pending after resolution")
	}
}

func TestResolveUnknownID(t *testing.T) {
	g := New("sess", nil, false)
	if err := g.Resolve("nope", true); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("Resolve = %v, want ErrUnknownRequest", err)
	}

	requests := make(chan Request, 1)
	g.SetHandler(func(req Request) { requests <- req })
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Request(context.Background(), "fetch", ActionNetwork, "fetch")
	}()
	req := <-requests
	if err := g.Resolve("wrong-id", true); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("Resolve wrong id = %v, want ErrUnknownRequest", err)
	}
	if err := g.Resolve(req.ID, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	<-done
}

func TestCancellationDenies(t *testing.T) {
	g := New("sess", nil, false)
	requests := make(chan Request, 1)
	g.SetHandler(func(req Request) { requests <- req })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var approved bool
	var reqErr error
	go func() {
		defer close(done)
		approved, reqErr = g.Request(ctx, "write_file", ActionEdit, "write")
	}()

	<-requests
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return after cancellation")
	}
	if approved {
		t.Fatal("cancelled request was approved")
	}
	if !errors.Is(reqErr, context.Canceled) {
		t.Fatalf("Request error = %v, want context.Canceled", reqErr)
	}
	if g.Pending() != nil {
		t.Fatal("request still pending after cancellation")
	}
}

func TestSecondRequestWhilePending(t *testing.T) {
	g := New("sess", nil, false)
	requests := make(chan Request, 1)
	g.SetHandler(func(req Request) { requests <- req })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Request(context.Background(), "write_file", ActionEdit, "first")
	}()
	req := <-requests

	_, err := g.Request(context.Background(), "fetch", ActionNetwork, "second")
	if !errors.Is(err, ErrRequestPending) {
		t.Fatalf("second Request = %v, want ErrRequestPending", err)
	}

	if err := g.Resolve(req.ID, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	<-done
}
