// Package retry implements C5, the bounded-attempt retry engine with
// exponential backoff and jitter, gated by the error classifier in
// internal/errors.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/metrics"
)

// Options configures one withRetry invocation.
type Options struct {
	// Retries is the number of retries allowed beyond the first attempt;
	// attempt <= Retries decides whether another try happens.
	Retries int
	// BaseDelay and MaxDelay bound the exponential backoff: delay =
	// min(MaxDelay, BaseDelay * 2^(attempt-1)), jittered by ±20% (§4.5).
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Classify maps an error to a retry classification. Defaults to
	// apperrors.GetRetryClass when nil.
	Classify func(error) apperrors.RetryClass
}

// Result is what With returns on success.
type Result[T any] struct {
	Value         T
	LastBackoffMs int64
}

// Exhausted is raised when the retry budget runs out or the classifier
// reports a deterministic failure on the first attempt; both paths carry
// the same shape per spec §4.5.
type Exhausted struct {
	LastError     error
	Attempts      int
	LastBackoffMs int64
}

func (e *Exhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s): %v", e.Attempts, e.LastError)
}

func (e *Exhausted) Unwrap() error {
	return e.LastError
}

// With invokes fn(attempt) starting at attempt=1, retrying on transient /
// rate_limit / timeout / dependency / unknown classifications up to
// opts.Retries additional times, with exponential backoff and jitter.
// A deterministic (fatal) classification short-circuits immediately with
// no further attempts. operation names the series incremented in
// ralph_retries_total.
func With[T any](ctx context.Context, operation string, opts Options, fn func(attempt int) (T, error)) (Result[T], error) {
	classify := opts.Classify
	if classify == nil {
		classify = apperrors.GetRetryClass
	}

	attempt := 0
	var lastBackoffMs int64
	var lastErr error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.BaseDelay
	b.MaxInterval = opts.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2

	operationFn := func() (T, error) {
		attempt++
		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !classify(err).Retriable() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	value, err := backoff.Retry(ctx, operationFn,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(opts.Retries+1)),
		backoff.WithNotify(func(_ error, d time.Duration) {
			lastBackoffMs = d.Milliseconds()
			metrics.RecordRetry(operation)
		}),
	)

	if err != nil {
		final := lastErr
		if final == nil {
			final = err
		}
		return Result[T]{}, &Exhausted{LastError: final, Attempts: attempt, LastBackoffMs: lastBackoffMs}
	}

	return Result[T]{Value: value, LastBackoffMs: lastBackoffMs}, nil
}
