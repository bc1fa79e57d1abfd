package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retrier wraps a ChatProvider with bounded exponential backoff for
// transient failures. Fatal classes (auth, bad request, context overflow)
// and context cancellation pass through immediately.
type Retrier struct {
	inner      ChatProvider
	maxRetries uint
	logger     *slog.Logger
}

// NewRetrier wraps inner. maxRetries counts retries after the first
// attempt; zero means a sensible default of 3.
func NewRetrier(inner ChatProvider, maxRetries uint, logger *slog.Logger) *Retrier {
	if maxRetries == 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{inner: inner, maxRetries: maxRetries, logger: logger}
}

func (r *Retrier) ModelName() string          { return r.inner.ModelName() }
func (r *Retrier) MaxContextSize() int        { return r.inner.MaxContextSize() }
func (r *Retrier) Capabilities() []Capability { return r.inner.Capabilities() }

// Chat performs a completion, retrying transient failures with jittered
// exponential backoff.
func (r *Retrier) Chat(ctx context.Context, req Request) (Response, error) {
	attempt := 0
	operation := func() (Response, error) {
		attempt++
		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		var perr *Error
		if errors.As(err, &perr) && perr.Retryable() {
			r.logger.Warn("retryable provider failure",
				"model", r.inner.ModelName(),
				"class", string(perr.Class),
				"attempt", attempt)
			return Response{}, err
		}
		return Response{}, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.maxRetries+1))
}
