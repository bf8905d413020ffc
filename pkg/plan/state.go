// Package plan tracks when a long-running agent must regenerate its
// execution plan.
package plan

import (
	"sync"

	"github.com/harun/stepcore/internal/observability"
)

// Status is the plan's freshness state.
type Status string

const (
	// StatusNone means no plan has been generated yet.
	StatusNone Status = "none"
	// StatusCurrent means the plan is fresh enough to follow.
	StatusCurrent Status = "current"
	// StatusStale means the plan must be regenerated before the next step.
	StatusStale Status = "stale"
)

// DefaultRegenInterval is how many steps a plan stays fresh by default.
const DefaultRegenInterval = 10

// Tracker is the plan freshness state machine consumed by the step
// loop: none -> current -> stale -> current -> ...
type Tracker struct {
	mu sync.Mutex

	status          Status
	regenInterval   int
	stepsSinceRegen int
	lastReason      string
}

// NewTracker creates a tracker that marks the plan stale after
// regenInterval steps. A non-positive interval uses the default.
func NewTracker(regenInterval int) *Tracker {
	if regenInterval <= 0 {
		regenInterval = DefaultRegenInterval
	}

	return &Tracker{
		status:        StatusNone,
		regenInterval: regenInterval,
	}
}

// Status returns the current freshness state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// NeedsRegen reports whether the loop must regenerate the plan before
// executing its next step.
func (t *Tracker) NeedsRegen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status != StatusCurrent
}

// PlanGenerated marks a freshly generated plan as current and resets
// the step counter.
func (t *Tracker) PlanGenerated() {
	t.mu.Lock()
	defer t.mu.Unlock()

	trigger := "initial"
	if t.status == StatusStale {
		trigger = t.lastReason
		if trigger == "" {
			trigger = "interval"
		}
	}

	t.status = StatusCurrent
	t.stepsSinceRegen = 0
	t.lastReason = ""

	observability.RecordPlanRegeneration(trigger)
}

// RecordStep notes one executed step; the plan goes stale once the
// regeneration interval is spent.
func (t *Tracker) RecordStep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusCurrent {
		return
	}

	t.stepsSinceRegen++
	if t.stepsSinceRegen >= t.regenInterval {
		t.status = StatusStale
		t.lastReason = "interval"
	}
}

// Invalidate forces the plan stale, e.g. after a failed step or a
// changed goal.
func (t *Tracker) Invalidate(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == StatusNone {
		return
	}

	t.status = StatusStale
	t.lastReason = reason
}

// StepsSinceRegen returns how many steps ran under the current plan.
func (t *Tracker) StepsSinceRegen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stepsSinceRegen
}

// LastReason returns why the plan most recently went stale.
func (t *Tracker) LastReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastReason
}
