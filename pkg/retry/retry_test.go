package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")

func transientPolicy(attempts int) Exponential {
	return Exponential{
		Attempts:   attempts,
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Classify: func(err error) bool {
			return errors.Is(err, errTransient)
		},
	}
}

func TestTryOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("should return success with the operation's value", func(t *testing.T) {
		result := TryOnce(ctx, transientPolicy(3), 1, func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		})

		assert.True(t, result.Succeeded())
		assert.Equal(t, "ok", result.Value)
		assert.Nil(t, result.Info)
		assert.NoError(t, result.Err)
	})

	t.Run("should request a retry with backoff info on a transient failure", func(t *testing.T) {
		result := TryOnce(ctx, transientPolicy(3), 1, func(ctx context.Context) (interface{}, error) {
			return nil, errTransient
		})

		require.True(t, result.NeedsRetry())
		require.NotNil(t, result.Info)
		assert.Equal(t, 1, result.Info.Attempt)
		assert.Equal(t, 3, result.Info.MaxAttempts)
		assert.True(t, result.Info.Remaining())
		assert.Greater(t, result.Info.Backoff, time.Duration(0))
		assert.ErrorIs(t, result.Info.Err, errTransient)
		assert.Nil(t, result.Value)
	})

	t.Run("should return error for a non-retriable failure at attempt one", func(t *testing.T) {
		authErr := errors.New("invalid api key")

		result := TryOnce(ctx, transientPolicy(3), 1, func(ctx context.Context) (interface{}, error) {
			return nil, authErr
		})

		assert.Equal(t, StatusError, result.Status)
		assert.ErrorIs(t, result.Err, authErr)
		assert.Nil(t, result.Info)
	})

	t.Run("should exhaust on the final attempt", func(t *testing.T) {
		result := TryOnce(ctx, transientPolicy(3), 3, func(ctx context.Context) (interface{}, error) {
			return nil, errTransient
		})

		assert.Equal(t, StatusExhausted, result.Status)
		assert.ErrorIs(t, result.Err, errTransient)
	})

	t.Run("should exhaust past the final attempt", func(t *testing.T) {
		result := TryOnce(ctx, transientPolicy(3), 7, func(ctx context.Context) (interface{}, error) {
			return nil, errTransient
		})

		assert.Equal(t, StatusExhausted, result.Status)
	})

	t.Run("should execute the operation exactly once", func(t *testing.T) {
		calls := 0

		TryOnce(ctx, transientPolicy(3), 1, func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, errTransient
		})

		assert.Equal(t, 1, calls)
	})

	t.Run("should not block while deciding", func(t *testing.T) {
		start := time.Now()

		TryOnce(ctx, transientPolicy(5), 1, func(ctx context.Context) (interface{}, error) {
			return nil, errTransient
		})

		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})
}

func TestExponentialBackoff(t *testing.T) {
	policy := Exponential{
		Attempts:   5,
		Initial:    time.Second,
		Max:        10 * time.Second,
		Multiplier: 2.0,
	}

	t.Run("should grow exponentially without jitter", func(t *testing.T) {
		assert.Equal(t, time.Second, policy.Backoff(1))
		assert.Equal(t, 2*time.Second, policy.Backoff(2))
		assert.Equal(t, 4*time.Second, policy.Backoff(3))
	})

	t.Run("should cap at the maximum backoff", func(t *testing.T) {
		assert.Equal(t, 10*time.Second, policy.Backoff(10))
	})

	t.Run("should keep jittered backoff within bounds", func(t *testing.T) {
		jittered := Exponential{
			Attempts:   5,
			Initial:    time.Second,
			Max:        time.Minute,
			Multiplier: 2.0,
			Jitter:     0.1,
		}

		for i := 0; i < 50; i++ {
			b := jittered.Backoff(2)
			assert.GreaterOrEqual(t, b, 1800*time.Millisecond)
			assert.LessOrEqual(t, b, 2200*time.Millisecond)
		}
	})

	t.Run("should clamp a non-positive attempt budget to one", func(t *testing.T) {
		assert.Equal(t, 1, Exponential{}.MaxAttempts())
	})
}

func TestIsTransient(t *testing.T) {
	t.Run("should not retry cancellation", func(t *testing.T) {
		assert.False(t, IsTransient(context.Canceled))
	})

	t.Run("should retry deadline exceeded", func(t *testing.T) {
		assert.True(t, IsTransient(context.DeadlineExceeded))
	})

	t.Run("should not retry nil", func(t *testing.T) {
		assert.False(t, IsTransient(nil))
	})

	t.Run("should not retry arbitrary errors", func(t *testing.T) {
		assert.False(t, IsTransient(errors.New("schema mismatch")))
	})
}
