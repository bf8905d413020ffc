package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// Policy decides how many attempts an operation gets, how long to back
// off between them, and which failures are worth retrying at all.
type Policy interface {
	MaxAttempts() int
	Backoff(attempt int) time.Duration
	Retryable(err error) bool
}

// Exponential is an exponential-backoff policy with jitter.
type Exponential struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter adds up to +/- Jitter*backoff of randomness to avoid
	// thundering herds. 0.1 means up to 10%.
	Jitter float64
	// Classify overrides the default retryable-error detection.
	Classify func(err error) bool
}

// DefaultPolicy returns a sensible default retry policy.
func DefaultPolicy() Exponential {
	return Exponential{
		Attempts:   3,
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// MaxAttempts returns the total attempt budget, including the first.
func (p Exponential) MaxAttempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

// Backoff computes the delay before the next attempt. It never sleeps;
// the caller owns scheduling.
func (p Exponential) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	backoff := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	if p.Max > 0 && backoff > float64(p.Max) {
		backoff = float64(p.Max)
	}

	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
	}

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// Retryable reports whether the failure is transient.
func (p Exponential) Retryable(err error) bool {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return IsTransient(err)
}

// IsTransient is the default retryable-error classifier: timeouts and
// temporary network failures may succeed on retry, cancellation never
// does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	return false
}
