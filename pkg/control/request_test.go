package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestConstruction(t *testing.T) {
	t.Run("should assign unique ids and creation timestamps", func(t *testing.T) {
		a := NewUserInput(UserInputParams{Prompt: "format?"})
		b := NewUserInput(UserInputParams{Prompt: "format?"})

		assert.NotEmpty(t, a.ID())
		assert.NotEmpty(t, b.ID())
		assert.NotEqual(t, a.ID(), b.ID())
		assert.WithinDuration(t, time.Now(), a.CreatedAt(), time.Second)
	})

	t.Run("should default user input to default behavior", func(t *testing.T) {
		req := NewUserInput(UserInputParams{Prompt: "p"})
		assert.Equal(t, SyncDefault, req.SyncBehavior())
		assert.Equal(t, KindUserInput, req.Kind())
	})

	t.Run("should default sub-agent query to skip behavior", func(t *testing.T) {
		req := NewSubAgentQuery(SubAgentQueryParams{AgentName: "researcher", Query: "q"})
		assert.Equal(t, SyncSkip, req.SyncBehavior())
		assert.Equal(t, KindSubAgentQuery, req.Kind())
	})

	t.Run("should auto-approve reversible confirmations", func(t *testing.T) {
		req := NewConfirmation(ConfirmationParams{Action: "rename", Reversible: true})
		assert.Equal(t, SyncApprove, req.SyncBehavior())
	})

	t.Run("should raise for irreversible confirmations", func(t *testing.T) {
		req := NewConfirmation(ConfirmationParams{Action: "delete", Reversible: false})
		assert.Equal(t, SyncRaise, req.SyncBehavior())
	})

	t.Run("should honor an explicit sync behavior override", func(t *testing.T) {
		req := NewConfirmation(ConfirmationParams{
			Action:       "delete",
			Reversible:   false,
			SyncBehavior: SyncApprove,
		})
		assert.Equal(t, SyncApprove, req.SyncBehavior())
	})
}

func TestResponseResolution(t *testing.T) {
	t.Run("should fall back to default when input response carries no value", func(t *testing.T) {
		req := NewUserInput(UserInputParams{Prompt: "p", DefaultValue: "json"})
		resp := Respond(req.ID(), nil)

		assert.Equal(t, "json", ResolveInput(req, &resp))
	})

	t.Run("should prefer the response value over the default", func(t *testing.T) {
		req := NewUserInput(UserInputParams{Prompt: "p", DefaultValue: "json"})
		resp := Respond(req.ID(), "yaml")

		assert.Equal(t, "yaml", ResolveInput(req, &resp))
	})

	t.Run("should resolve a nil confirmation response to denied", func(t *testing.T) {
		assert.False(t, ResolveConfirmation(nil))
	})

	t.Run("should resolve an unapproved response to denied", func(t *testing.T) {
		resp := Deny("req-1")
		assert.False(t, ResolveConfirmation(&resp))
	})

	t.Run("should resolve an approved response to granted", func(t *testing.T) {
		resp := Respond("req-1", nil)
		assert.True(t, ResolveConfirmation(&resp))
	})
}
