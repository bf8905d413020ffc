package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynchronousMode(t *testing.T) {
	ctx := context.Background()

	t.Run("should substitute the default value for user input", func(t *testing.T) {
		value, err := AskInput(ctx, UserInputParams{Prompt: "format?", DefaultValue: "json"})
		require.NoError(t, err)
		assert.Equal(t, "json", value)
	})

	t.Run("should resolve to nil when user input has no default", func(t *testing.T) {
		value, err := AskInput(ctx, UserInputParams{Prompt: "format?"})
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("should approve reversible confirmations", func(t *testing.T) {
		approved, err := Confirm(ctx, ConfirmationParams{Action: "rename", Reversible: true})
		require.NoError(t, err)
		assert.True(t, approved)
	})

	t.Run("should raise for irreversible confirmations", func(t *testing.T) {
		_, err := Confirm(ctx, ConfirmationParams{Action: "drop table", Reversible: false})
		assert.ErrorIs(t, err, ErrConfirmationRequired)
	})

	t.Run("should skip sub-agent queries", func(t *testing.T) {
		value, err := QueryAgent(ctx, SubAgentQueryParams{AgentName: "researcher", Query: "q"})
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("should report missing capability", func(t *testing.T) {
		assert.False(t, Capable(ctx))
		assert.Nil(t, FromContext(ctx))
	})
}

func TestExchangeRoundTrip(t *testing.T) {
	t.Run("should deliver the driver's value to the suspension point", func(t *testing.T) {
		ex := NewExchange()
		ctx := context.Background()

		resultCh := make(chan interface{}, 1)
		errCh := make(chan error, 1)

		go func() {
			value, err := AskInput(ex.Attach(ctx), UserInputParams{Prompt: "pick one"})
			resultCh <- value
			errCh <- err
		}()

		req := <-ex.Requests()
		assert.Equal(t, KindUserInput, req.Kind())
		require.NoError(t, ex.Resume(ctx, Respond(req.ID(), "b")))

		assert.Equal(t, "b", <-resultCh)
		assert.NoError(t, <-errCh)
	})

	t.Run("should fall back to the default on a nil-valued resume", func(t *testing.T) {
		ex := NewExchange()
		ctx := context.Background()

		resultCh := make(chan interface{}, 1)

		go func() {
			value, _ := AskInput(ex.Attach(ctx), UserInputParams{Prompt: "p", DefaultValue: "x"})
			resultCh <- value
		}()

		req := <-ex.Requests()
		require.NoError(t, ex.Resume(ctx, Respond(req.ID(), nil)))

		assert.Equal(t, "x", <-resultCh)
	})

	t.Run("should resolve a denied confirmation to false without error", func(t *testing.T) {
		ex := NewExchange()
		ctx := context.Background()

		approvedCh := make(chan bool, 1)
		errCh := make(chan error, 1)

		go func() {
			approved, err := Confirm(ex.Attach(ctx), ConfirmationParams{Action: "delete", Reversible: false})
			approvedCh <- approved
			errCh <- err
		}()

		req := <-ex.Requests()
		require.NoError(t, ex.Resume(ctx, Deny(req.ID())))

		assert.False(t, <-approvedCh)
		assert.NoError(t, <-errCh)
	})

	t.Run("should reject a response for a different request", func(t *testing.T) {
		ex := NewExchange()
		ctx := context.Background()

		errCh := make(chan error, 1)

		go func() {
			_, err := Ask(ex.Attach(ctx), NewUserInput(UserInputParams{Prompt: "p"}))
			errCh <- err
		}()

		<-ex.Requests()
		require.NoError(t, ex.Resume(ctx, Respond("some-other-id", "v")))

		err := <-errCh
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("should abandon a suspended unit via context cancellation", func(t *testing.T) {
		ex := NewExchange()
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)

		go func() {
			_, err := Ask(ex.Attach(ctx), NewUserInput(UserInputParams{Prompt: "p"}))
			errCh <- err
		}()

		<-ex.Requests()
		cancel()

		assert.ErrorIs(t, <-errCh, context.Canceled)
	})
}

func TestDrive(t *testing.T) {
	t.Run("should run a unit of work to completion servicing its requests", func(t *testing.T) {
		ex := NewExchange()

		unit := func(ctx context.Context) (interface{}, error) {
			format, err := AskInput(ctx, UserInputParams{Prompt: "format?", DefaultValue: "text"})
			if err != nil {
				return nil, err
			}

			approved, err := Confirm(ctx, ConfirmationParams{Action: "publish", Reversible: false})
			if err != nil {
				return nil, err
			}
			if !approved {
				return "aborted", nil
			}

			return "published as " + format.(string), nil
		}

		result, err := ex.Drive(context.Background(), unit, func(req Request) Response {
			switch req.Kind() {
			case KindUserInput:
				return Respond(req.ID(), "markdown")
			case KindConfirmation:
				return Respond(req.ID(), true)
			default:
				return Deny(req.ID())
			}
		})

		require.NoError(t, err)
		assert.Equal(t, "published as markdown", result)
	})

	t.Run("should return the unit's result when it never suspends", func(t *testing.T) {
		ex := NewExchange()

		result, err := ex.Drive(context.Background(), func(ctx context.Context) (interface{}, error) {
			return 7, nil
		}, func(req Request) Response {
			t.Fatal("handler should not be called")
			return Response{}
		})

		require.NoError(t, err)
		assert.Equal(t, 7, result)
	})

	t.Run("should stop when the context is cancelled mid-flight", func(t *testing.T) {
		ex := NewExchange()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := ex.Drive(ctx, func(ctx context.Context) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, func(req Request) Response {
			return Deny(req.ID())
		})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
