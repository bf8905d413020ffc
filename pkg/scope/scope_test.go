package scope

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/stepcore/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeLifecycle(t *testing.T) {
	t.Run("should create a root scope at depth zero", func(t *testing.T) {
		ctx, s, end := Begin(context.Background(), Params{Name: "root"})
		defer end()

		assert.Equal(t, 0, s.Depth())
		assert.NotEmpty(t, s.TraceID())
		assert.Empty(t, s.ParentTraceID())
		assert.Same(t, s, FromContext(ctx))
	})

	t.Run("should honor a caller-supplied trace id", func(t *testing.T) {
		_, s, end := Begin(context.Background(), Params{TraceID: "trace-42"})
		defer end()

		assert.Equal(t, "trace-42", s.TraceID())
	})

	t.Run("should chain child scopes under the parent", func(t *testing.T) {
		ctx, parent, endParent := Begin(context.Background(), Params{})
		defer endParent()

		_, child, endChild := Begin(ctx, Params{})
		defer endChild()

		assert.Equal(t, 1, child.Depth())
		assert.Equal(t, parent.TraceID(), child.ParentTraceID())
	})

	t.Run("should return nil outside any scope", func(t *testing.T) {
		assert.Nil(t, FromContext(context.Background()))
	})
}

func TestScopeRecording(t *testing.T) {
	t.Run("should accumulate token usage", func(t *testing.T) {
		_, s, end := Begin(context.Background(), Params{})
		defer end()

		s.AddTokens(TokenUsage{InputTokens: 100, OutputTokens: 20})
		s.AddTokens(TokenUsage{InputTokens: 50, OutputTokens: 5})

		assert.Equal(t, 150, s.Tokens().InputTokens)
		assert.Equal(t, 25, s.Tokens().OutputTokens)
		assert.Equal(t, 175, s.Tokens().Total())
	})

	t.Run("should keep the maximum step number rather than summing", func(t *testing.T) {
		_, s, end := Begin(context.Background(), Params{})
		defer end()

		s.RecordStep(5)
		s.RecordStep(3)

		assert.Equal(t, 5, s.Steps())
	})

	t.Run("should count tool calls per tool", func(t *testing.T) {
		_, s, end := Begin(context.Background(), Params{})
		defer end()

		s.RecordToolCall("search")
		s.RecordToolCall("search")
		s.RecordToolCall("fetch")

		calls := s.ToolCalls()
		assert.Equal(t, 2, calls["search"])
		assert.Equal(t, 1, calls["fetch"])
	})

	t.Run("should copy tool calls on read", func(t *testing.T) {
		_, s, end := Begin(context.Background(), Params{})
		defer end()

		s.RecordToolCall("search")

		calls := s.ToolCalls()
		calls["search"] = 99

		assert.Equal(t, 1, s.ToolCalls()["search"])
	})

	t.Run("should append sub-agent runs and evaluations", func(t *testing.T) {
		_, s, end := Begin(context.Background(), Params{})
		defer end()

		s.RecordSubAgentRun(SubAgentRun{
			AgentName: "researcher",
			Tokens:    TokenUsage{InputTokens: 10},
			Steps:     4,
			Duration:  time.Second,
			Outcome:   outcome.StateSuccess,
		})
		s.RecordEvaluation(Evaluation{Name: "relevance", Score: 0.9, Passed: true})

		require.Len(t, s.SubAgentRuns(), 1)
		assert.Equal(t, "researcher", s.SubAgentRuns()[0].AgentName)
		require.Len(t, s.Evaluations(), 1)
		assert.True(t, s.Evaluations()[0].Passed)
	})
}

func TestMergeOnExit(t *testing.T) {
	t.Run("should merge child counters into the parent exactly", func(t *testing.T) {
		ctx, parent, endParent := Begin(context.Background(), Params{})
		defer endParent()

		_, child, endChild := Begin(ctx, Params{})
		child.AddTokens(TokenUsage{InputTokens: 10})
		child.RecordToolCall("search")
		endChild()

		assert.Equal(t, 10, parent.Tokens().Total())
		assert.Equal(t, 1, parent.ToolCalls()["search"])
	})

	t.Run("should add child steps to parent steps on merge", func(t *testing.T) {
		ctx, parent, endParent := Begin(context.Background(), Params{})
		defer endParent()
		parent.RecordStep(2)

		_, child, endChild := Begin(ctx, Params{})
		child.RecordStep(5)
		endChild()

		assert.Equal(t, 7, parent.Steps())
	})

	t.Run("should concatenate list-valued metrics on merge", func(t *testing.T) {
		ctx, parent, endParent := Begin(context.Background(), Params{})
		defer endParent()
		parent.RecordSubAgentRun(SubAgentRun{AgentName: "a"})

		_, child, endChild := Begin(ctx, Params{})
		child.RecordSubAgentRun(SubAgentRun{AgentName: "b"})
		child.RecordEvaluation(Evaluation{Name: "faithfulness"})
		endChild()

		require.Len(t, parent.SubAgentRuns(), 2)
		assert.Equal(t, "b", parent.SubAgentRuns()[1].AgentName)
		assert.Len(t, parent.Evaluations(), 1)
	})

	t.Run("should merge only once even if end runs twice", func(t *testing.T) {
		ctx, parent, endParent := Begin(context.Background(), Params{})
		defer endParent()

		_, child, endChild := Begin(ctx, Params{})
		child.AddTokens(TokenUsage{InputTokens: 10})
		endChild()
		endChild()

		assert.Equal(t, 10, parent.Tokens().Total())
	})

	t.Run("should merge on error exit from Run", func(t *testing.T) {
		ctx, parent, endParent := Begin(context.Background(), Params{})
		defer endParent()

		err := Run(ctx, "child", func(ctx context.Context, s *Scope) error {
			s.AddTokens(TokenUsage{InputTokens: 7})
			return assert.AnError
		})

		assert.Error(t, err)
		assert.Equal(t, 7, parent.Tokens().Total())
	})

	t.Run("should not lose updates when children merge concurrently", func(t *testing.T) {
		const children = 16
		const tokensEach = 100

		ctx, parent, endParent := Begin(context.Background(), Params{})
		defer endParent()

		var wg sync.WaitGroup
		for i := 0; i < children; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				_, child, endChild := Begin(ctx, Params{})
				child.AddTokens(TokenUsage{InputTokens: tokensEach})
				child.RecordToolCall("search")
				endChild()
			}()
		}
		wg.Wait()

		assert.Equal(t, children*tokensEach, parent.Tokens().Total())
		assert.Equal(t, children, parent.ToolCalls()["search"])
	})
}
