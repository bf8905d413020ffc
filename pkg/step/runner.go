// Package step executes single units of agent work at the loop
// boundary: it classifies their results, mirrors them into the active
// observability scope, and persists them to the run log.
package step

import (
	"context"
	"errors"
	"time"

	"github.com/harun/stepcore/internal/observability"
	"github.com/harun/stepcore/pkg/control"
	"github.com/harun/stepcore/pkg/outcome"
	"github.com/harun/stepcore/pkg/plan"
	"github.com/harun/stepcore/pkg/retry"
	"github.com/harun/stepcore/pkg/runlog"
	"github.com/harun/stepcore/pkg/scope"
	"github.com/rs/zerolog"
)

// ErrMaxSteps signals that a unit hit its step budget; the resulting
// outcome is retriable.
var ErrMaxSteps = errors.New("step: maximum steps reached")

// ErrPartial signals resumable-but-incomplete work.
var ErrPartial = errors.New("step: work incomplete")

// Config holds runner configuration. Everything but the logger is
// optional.
type Config struct {
	Policy retry.Policy   // defaults to retry.DefaultPolicy()
	Runlog *runlog.Store  // persisted outcome events when set
	Plan   *plan.Tracker  // plan freshness tracking when set
	Logger zerolog.Logger
}

// Runner executes units of work and owns the bookkeeping around them.
type Runner struct {
	policy retry.Policy
	log    *runlog.Store
	plan   *plan.Tracker
	logger zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg Config) *Runner {
	observability.EnsureRegistered()

	policy := cfg.Policy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}

	return &Runner{
		policy: policy,
		log:    cfg.Runlog,
		plan:   cfg.Plan,
		logger: cfg.Logger,
	}
}

// RunStep executes one unit of work and wraps its result into an
// immutable execution record. The context's deadline error maps to the
// timeout state and the package sentinels map to their retriable
// states; everything else errored maps to the error state.
func (r *Runner) RunStep(ctx context.Context, stepNum int, name string, fn control.UnitFunc) outcome.Execution {
	start := time.Now()
	value, err := fn(ctx)
	duration := time.Since(start)

	exec := classify(value, err, duration).WithMetadata(map[string]interface{}{
		"step": stepNum,
		"unit": name,
	})

	if s := scope.FromContext(ctx); s != nil {
		s.RecordStep(stepNum)

		if r.log != nil {
			if _, err := r.log.Append(ctx, s.TraceID(), exec); err != nil {
				r.logger.Error().Err(err).Str("unit", name).Msg("Failed to append outcome event")
			}
		}
	}

	if r.plan != nil {
		r.plan.RecordStep()
		if exec.Failed() {
			r.plan.Invalidate("step failed")
		}
	}

	observability.RecordStepOutcome(string(exec.State()), duration)

	evt := r.logger.Info()
	if exec.Failed() {
		evt = r.logger.Warn()
	}
	evt.
		Int("step", stepNum).
		Str("unit", name).
		Str("state", string(exec.State())).
		Dur("duration", duration).
		Msg("Step completed")

	return exec
}

// Attempt runs one retry-aware attempt of op and records the decision.
// The caller owns scheduling the next attempt after the backoff in the
// returned result; nothing here sleeps.
func (r *Runner) Attempt(ctx context.Context, attempt int, op retry.Operation) retry.Result {
	result := retry.TryOnce(ctx, r.policy, attempt, op)

	observability.RecordRetryDecision(string(result.Status))

	if result.NeedsRetry() {
		r.logger.Info().
			Int("attempt", result.Info.Attempt).
			Int("max_attempts", result.Info.MaxAttempts).
			Dur("backoff", result.Info.Backoff).
			Msg("Retry needed")
	}

	return result
}

// RunSubAgent runs fn inside a child observability scope and records
// its summary before the scope closes, so the merge carries the
// summary upward to the parent.
func (r *Runner) RunSubAgent(ctx context.Context, agentName string, fn control.UnitFunc) outcome.Execution {
	var exec outcome.Execution

	_ = scope.Run(ctx, "agent."+agentName, func(ctx context.Context, s *scope.Scope) error {
		start := time.Now()
		value, err := fn(ctx)
		duration := time.Since(start)

		exec = classify(value, err, duration).WithMetadata(map[string]interface{}{
			"agent": agentName,
		})

		s.RecordSubAgentRun(scope.SubAgentRun{
			AgentName: agentName,
			Tokens:    s.Tokens(),
			Steps:     s.Steps(),
			Duration:  duration,
			Outcome:   exec.State(),
		})

		return nil
	})

	return exec
}

func classify(value interface{}, err error, duration time.Duration) outcome.Execution {
	switch {
	case err == nil:
		if exec, ok := value.(outcome.Execution); ok {
			return exec
		}
		return outcome.Success(value, duration)
	case errors.Is(err, context.DeadlineExceeded):
		return outcome.Timeout(duration)
	case errors.Is(err, ErrMaxSteps):
		return outcome.MaxSteps(duration)
	case errors.Is(err, ErrPartial):
		return outcome.Partial(duration)
	default:
		return outcome.Failure(err, duration)
	}
}
