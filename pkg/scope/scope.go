// Package scope aggregates token, step, and tool metrics for one node
// of the nested-agent call tree and folds them into the parent node
// when the scope ends.
package scope

import (
	"sync"
	"time"

	"github.com/harun/stepcore/internal/observability"
	"github.com/harun/stepcore/pkg/outcome"
)

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// SubAgentRun summarizes one nested agent invocation.
type SubAgentRun struct {
	AgentName string        `json:"agent_name"`
	Tokens    TokenUsage    `json:"tokens"`
	Steps     int           `json:"steps"`
	Duration  time.Duration `json:"duration"`
	Outcome   outcome.State `json:"outcome"`
}

// Evaluation records one evaluation result observed during a run.
type Evaluation struct {
	Name    string                 `json:"name"`
	Score   float64                `json:"score"`
	Passed  bool                   `json:"passed"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Snapshot is a point-in-time copy of a scope's accumulated metrics.
type Snapshot struct {
	TraceID       string
	ParentTraceID string
	Depth         int
	Tokens        TokenUsage
	Steps         int
	ToolCalls     map[string]int
	SubAgentRuns  []SubAgentRun
	Evaluations   []Evaluation
	StartedAt     time.Time
}

// Scope is the lock-guarded metrics aggregate for one call-tree node.
// A scope may be mutated concurrently by sub-agent invocations running
// in parallel under it; every mutation and read takes its own lock, so
// contention stays local to the scope and its children during merge.
type Scope struct {
	mu sync.Mutex

	traceID       string
	parentTraceID string
	depth         int
	parent        *Scope
	startedAt     time.Time
	ended         bool

	tokens       TokenUsage
	steps        int
	toolCalls    map[string]int
	subAgentRuns []SubAgentRun
	evaluations  []Evaluation
}

// TraceID returns the scope's trace identifier.
func (s *Scope) TraceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traceID
}

// ParentTraceID returns the enclosing scope's trace identifier, or "".
func (s *Scope) ParentTraceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parentTraceID
}

// Depth returns the scope's position in the call tree, 0 for a root.
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// AddTokens accumulates token usage.
func (s *Scope) AddTokens(usage TokenUsage) {
	s.mu.Lock()
	s.tokens.Add(usage)
	s.mu.Unlock()

	observability.AddTokens(usage.Total())
}

// RecordStep keeps the maximum step number seen rather than counting,
// since nested scopes report their own step numbers independently.
func (s *Scope) RecordStep(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.steps {
		s.steps = n
	}
}

// RecordToolCall counts one invocation of the named tool.
func (s *Scope) RecordToolCall(name string) {
	s.mu.Lock()
	if s.toolCalls == nil {
		s.toolCalls = make(map[string]int)
	}
	s.toolCalls[name]++
	s.mu.Unlock()

	observability.RecordToolCall(name)
}

// RecordSubAgentRun appends a nested agent run summary.
func (s *Scope) RecordSubAgentRun(run SubAgentRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subAgentRuns = append(s.subAgentRuns, run)
}

// RecordEvaluation appends an evaluation result.
func (s *Scope) RecordEvaluation(eval Evaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, eval)
}

// Tokens returns the accumulated token usage.
func (s *Scope) Tokens() TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Steps returns the highest step number recorded, plus merged children.
func (s *Scope) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// ToolCalls returns a copy of the per-tool invocation counts.
func (s *Scope) ToolCalls() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounts(s.toolCalls)
}

// SubAgentRuns returns a copy of the recorded sub-agent run summaries.
func (s *Scope) SubAgentRuns() []SubAgentRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]SubAgentRun, len(s.subAgentRuns))
	copy(runs, s.subAgentRuns)
	return runs
}

// Evaluations returns a copy of the recorded evaluation results.
func (s *Scope) Evaluations() []Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()

	evals := make([]Evaluation, len(s.evaluations))
	copy(evals, s.evaluations)
	return evals
}

// Snapshot returns a consistent copy of everything the scope holds.
func (s *Scope) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scope) snapshotLocked() Snapshot {
	runs := make([]SubAgentRun, len(s.subAgentRuns))
	copy(runs, s.subAgentRuns)

	evals := make([]Evaluation, len(s.evaluations))
	copy(evals, s.evaluations)

	return Snapshot{
		TraceID:       s.traceID,
		ParentTraceID: s.parentTraceID,
		Depth:         s.depth,
		Tokens:        s.tokens,
		Steps:         s.steps,
		ToolCalls:     copyCounts(s.toolCalls),
		SubAgentRuns:  runs,
		Evaluations:   evals,
		StartedAt:     s.startedAt,
	}
}

// absorb merges a finished child's snapshot into this scope: scalar
// counters add, per-tool counts add per key, lists concatenate.
func (s *Scope) absorb(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens.Add(snap.Tokens)
	s.steps += snap.Steps

	if len(snap.ToolCalls) > 0 && s.toolCalls == nil {
		s.toolCalls = make(map[string]int, len(snap.ToolCalls))
	}
	for name, count := range snap.ToolCalls {
		s.toolCalls[name] += count
	}

	s.subAgentRuns = append(s.subAgentRuns, snap.SubAgentRuns...)
	s.evaluations = append(s.evaluations, snap.Evaluations...)
}

func copyCounts(counts map[string]int) map[string]int {
	if counts == nil {
		return nil
	}

	copied := make(map[string]int, len(counts))
	for k, v := range counts {
		copied[k] = v
	}
	return copied
}
