// Package retry decides whether and when an operation should be tried
// again without ever sleeping. Callers schedule the next attempt after
// the computed backoff with whatever timer mechanism fits them.
package retry

import (
	"context"
	"time"
)

// Status classifies the decision for one attempt.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusRetryNeeded Status = "retry_needed"
	StatusExhausted   Status = "exhausted"
	StatusError       Status = "error"
)

// Info describes a pending retry: how long to wait and where the
// attempt budget stands.
type Info struct {
	Backoff     time.Duration
	Attempt     int
	MaxAttempts int
	Err         error
}

// Remaining reports whether the budget allows another attempt.
func (i Info) Remaining() bool {
	return i.Attempt < i.MaxAttempts
}

// Result is the outcome of exactly one attempt. Exactly one of Value,
// Info, and Err is populated, selected by Status.
type Result struct {
	Status Status
	Value  interface{}
	Info   *Info
	Err    error
}

// Succeeded reports whether the attempt completed.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// NeedsRetry reports whether the caller should schedule another attempt.
func (r Result) NeedsRetry() bool {
	return r.Status == StatusRetryNeeded
}

// Operation is one attempt of retry-aware work.
type Operation func(ctx context.Context) (interface{}, error)

// TryOnce executes op exactly once and classifies the result. It never
// loops and never blocks on a timer:
//   - success when op returns without error;
//   - retry_needed with backoff info for a transient failure with
//     budget remaining;
//   - exhausted once the attempt budget is spent;
//   - error for failures the policy classifies as non-retriable,
//     regardless of remaining attempts.
func TryOnce(ctx context.Context, policy Policy, attempt int, op Operation) Result {
	if attempt < 1 {
		attempt = 1
	}

	value, err := op(ctx)
	if err == nil {
		return Result{Status: StatusSuccess, Value: value}
	}

	if !policy.Retryable(err) {
		return Result{Status: StatusError, Err: err}
	}

	maxAttempts := policy.MaxAttempts()
	if attempt >= maxAttempts {
		return Result{Status: StatusExhausted, Err: err}
	}

	return Result{
		Status: StatusRetryNeeded,
		Info: &Info{
			Backoff:     policy.Backoff(attempt),
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Err:         err,
		},
	}
}
