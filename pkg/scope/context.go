package scope

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harun/stepcore/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "stepcore/scope"

type ctxKey struct{}

// Params configures a new scope.
type Params struct {
	// Name labels the otel span for this scope.
	Name string
	// TraceID overrides the generated trace id.
	TraceID string
}

// FromContext returns the active scope, or nil outside any scope.
func FromContext(ctx context.Context) *Scope {
	if s, ok := ctx.Value(ctxKey{}).(*Scope); ok {
		return s
	}
	return nil
}

// Begin enters a new scope. The currently active scope (if any) becomes
// the parent; the returned context carries the new scope as active, and
// the caller's own context still carries the parent, so the active
// scope reverts naturally when the child context is dropped. The
// returned end function merges the scope's accumulated metrics into the
// parent and must be called exactly once, however the scope exits.
func Begin(ctx context.Context, p Params) (context.Context, *Scope, func()) {
	parent := FromContext(ctx)

	traceID := p.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	s := &Scope{
		traceID:   traceID,
		startedAt: time.Now(),
		parent:    parent,
	}
	if parent != nil {
		s.parentTraceID = parent.TraceID()
		s.depth = parent.Depth() + 1
	}

	name := p.Name
	if name == "" {
		name = "agent.scope"
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("scope.trace_id", traceID),
		attribute.Int("scope.depth", s.depth),
	))

	ctx = context.WithValue(ctx, ctxKey{}, s)

	return ctx, s, func() { s.end(span) }
}

// Run executes fn inside a fresh scope and guarantees merge-on-exit on
// both normal and error return.
func Run(ctx context.Context, name string, fn func(ctx context.Context, s *Scope) error) error {
	ctx, s, end := Begin(ctx, Params{Name: name})
	defer end()

	return fn(ctx, s)
}

// end merges the scope into its parent and closes its span. It is
// idempotent; only the first call merges.
func (s *Scope) end(span trace.Span) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	snap := s.snapshotLocked()
	parent := s.parent
	s.mu.Unlock()

	if span != nil {
		span.SetAttributes(
			attribute.Int("scope.tokens", snap.Tokens.Total()),
			attribute.Int("scope.steps", snap.Steps),
			attribute.Int("scope.sub_agent_runs", len(snap.SubAgentRuns)),
		)
		span.End()
	}

	if parent != nil {
		parent.absorb(snap)
		observability.RecordScopeMerge(snap.Depth)
	}
}
