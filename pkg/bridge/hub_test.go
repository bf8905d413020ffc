package bridge

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/stepcore/pkg/control"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestHub(t *testing.T, secret string) (*Hub, *websocket.Conn) {
	t.Helper()

	hub, err := NewHub(Config{
		Port:         8900,
		SharedSecret: secret,
		Logger:       zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(hub.WSHandler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	return hub, conn
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) AckMessage {
	t.Helper()

	require.NoError(t, conn.WriteJSON(HelloMessage{Type: TypeHello, Token: token}))

	var ack AckMessage
	require.NoError(t, conn.ReadJSON(&ack))
	return ack
}

func TestHubAuth(t *testing.T) {
	t.Run("should accept a hello with the right token", func(t *testing.T) {
		_, conn := setupTestHub(t, "secret")

		ack := authenticate(t, conn, "secret")

		assert.True(t, ack.Success)
	})

	t.Run("should reject a hello with the wrong token", func(t *testing.T) {
		_, conn := setupTestHub(t, "secret")

		ack := authenticate(t, conn, "wrong")

		assert.False(t, ack.Success)
		assert.Equal(t, "invalid token", ack.Message)
	})

	t.Run("should require no hello without a shared secret", func(t *testing.T) {
		hub, _ := setupTestHub(t, "")

		require.Eventually(t, func() bool {
			return len(hub.clients.GetAuthenticated()) == 1
		}, time.Second, 10*time.Millisecond)
	})
}

func TestHubForward(t *testing.T) {
	t.Run("should resume a suspended input request with the client's answer", func(t *testing.T) {
		hub, conn := setupTestHub(t, "secret")
		require.True(t, authenticate(t, conn, "secret").Success)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		e := control.NewExchange()
		go func() { _ = hub.Forward(ctx, e) }()

		resultCh := make(chan interface{}, 1)
		go func() {
			defer e.Close()
			value, err := control.AskInput(e.Attach(ctx), control.UserInputParams{Prompt: "name?"})
			require.NoError(t, err)
			resultCh <- value
		}()

		var msg RequestMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, TypeControlRequest, msg.Type)
		assert.Equal(t, string(control.KindUserInput), msg.Kind)
		assert.Equal(t, "name?", msg.Data["prompt"])

		require.NoError(t, conn.WriteJSON(ResponseMessage{
			Type:      TypeControlResponse,
			RequestID: msg.RequestID,
			Value:     "alice",
			Approved:  true,
		}))

		select {
		case value := <-resultCh:
			assert.Equal(t, "alice", value)
		case <-ctx.Done():
			t.Fatal("unit of work never resumed")
		}
	})

	t.Run("should deliver a denied confirmation as a normal decision", func(t *testing.T) {
		hub, conn := setupTestHub(t, "secret")
		require.True(t, authenticate(t, conn, "secret").Success)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		e := control.NewExchange()
		go func() { _ = hub.Forward(ctx, e) }()

		resultCh := make(chan bool, 1)
		go func() {
			defer e.Close()
			approved, err := control.Confirm(e.Attach(ctx), control.ConfirmationParams{
				Action:     "delete_everything",
				Reversible: false,
			})
			require.NoError(t, err)
			resultCh <- approved
		}()

		var msg RequestMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, string(control.KindConfirmation), msg.Kind)
		assert.Equal(t, false, msg.Data["reversible"])

		require.NoError(t, conn.WriteJSON(ResponseMessage{
			Type:      TypeControlResponse,
			RequestID: msg.RequestID,
			Approved:  false,
		}))

		select {
		case approved := <-resultCh:
			assert.False(t, approved)
		case <-ctx.Done():
			t.Fatal("unit of work never resumed")
		}
	})

	t.Run("should drop stale responses and keep waiting for the outstanding one", func(t *testing.T) {
		hub, conn := setupTestHub(t, "secret")
		require.True(t, authenticate(t, conn, "secret").Success)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		e := control.NewExchange()
		go func() { _ = hub.Forward(ctx, e) }()

		resultCh := make(chan interface{}, 1)
		go func() {
			defer e.Close()
			value, err := control.AskInput(e.Attach(ctx), control.UserInputParams{Prompt: "q"})
			require.NoError(t, err)
			resultCh <- value
		}()

		var msg RequestMessage
		require.NoError(t, conn.ReadJSON(&msg))

		// A response for a request that is not outstanding is ignored.
		require.NoError(t, conn.WriteJSON(ResponseMessage{
			Type:      TypeControlResponse,
			RequestID: "stale-id",
			Value:     "ignored",
			Approved:  true,
		}))
		require.NoError(t, conn.WriteJSON(ResponseMessage{
			Type:      TypeControlResponse,
			RequestID: msg.RequestID,
			Value:     "fresh",
			Approved:  true,
		}))

		select {
		case value := <-resultCh:
			assert.Equal(t, "fresh", value)
		case <-ctx.Done():
			t.Fatal("unit of work never resumed")
		}
	})
}

func TestHubLifecycle(t *testing.T) {
	t.Run("should reject connections while shutting down", func(t *testing.T) {
		hub, err := NewHub(Config{
			Port:   8901,
			Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
		})
		require.NoError(t, err)

		srv := httptest.NewServer(hub.WSHandler())
		t.Cleanup(srv.Close)

		require.NoError(t, hub.Stop())

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		assert.Error(t, err)
		if resp != nil {
			assert.Equal(t, 503, resp.StatusCode)
		}
	})

	t.Run("should reject an invalid port", func(t *testing.T) {
		_, err := NewHub(Config{Port: 0})
		assert.Error(t, err)
	})
}
