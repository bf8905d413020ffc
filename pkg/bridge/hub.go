// Package bridge exposes the control-request protocol over WebSocket:
// yielded requests are forwarded to connected clients and their answers
// are fed back into the exchange that suspended on them.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/stepcore/internal/observability"
	"github.com/harun/stepcore/pkg/control"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Config holds hub configuration.
type Config struct {
	Port int
	// SharedSecret, when set, requires a matching hello token before a
	// client receives forwarded requests.
	SharedSecret string
	Logger       zerolog.Logger
}

// Hub is the WebSocket server that drives exchanges remotely.
type Hub struct {
	port         int
	sharedSecret string
	server       *http.Server
	upgrader     websocket.Upgrader
	clients      *Registry
	responses    chan control.Response
	logger       zerolog.Logger
	seq          uint64

	shutdownMu     sync.RWMutex
	isShuttingDown bool
}

// NewHub creates a hub.
func NewHub(cfg Config) (*Hub, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	observability.EnsureRegistered()

	return &Hub{
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		clients:      NewRegistry(),
		responses:    make(chan control.Response, 16),
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Start begins serving WebSocket connections, the metrics endpoint, and
// a health check. It does not block.
func (h *Hub) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	h.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.port),
		Handler: mux,
	}

	h.logger.Info().Int("port", h.port).Msg("Starting control bridge")

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error().Err(err).Msg("Control bridge server error")
		}
	}()

	return nil
}

// Stop gracefully stops the hub.
func (h *Hub) Stop() error {
	h.shutdownMu.Lock()
	h.isShuttingDown = true
	h.shutdownMu.Unlock()

	h.logger.Info().Msg("Shutting down control bridge")

	for _, client := range h.clients.GetAll() {
		client.Conn.Close()
	}

	if h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown control bridge: %w", err)
	}

	h.logger.Info().Msg("Control bridge stopped")
	return nil
}

// WSHandler exposes the WebSocket endpoint handler directly.
func (h *Hub) WSHandler() http.Handler {
	return http.HandlerFunc(h.handleWebSocket)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return h.clients.Count()
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.shutdownMu.RLock()
	if h.isShuttingDown {
		h.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.shutdownMu.RUnlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:            clientID,
		Conn:          conn,
		Authenticated: h.sharedSecret == "",
		ConnectedAt:   time.Now(),
	}

	h.clients.Add(client)

	h.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Bridge client connected")

	go h.handleClient(client)
}

func (h *Hub) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		h.clients.Remove(client.ID)
		h.logger.Info().Str("clientId", client.ID).Msg("Bridge client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			h.logger.Warn().Err(err).Str("clientId", client.ID).Msg("Invalid bridge message")
			continue
		}

		switch envelope.Type {
		case TypeHello:
			h.handleHello(client, message)
		case TypeControlResponse:
			h.handleResponse(client, message)
		default:
			h.logger.Warn().
				Str("clientId", client.ID).
				Str("type", envelope.Type).
				Msg("Unknown bridge message type")
		}
	}
}

func (h *Hub) handleHello(client *Client, message []byte) {
	var hello HelloMessage
	if err := json.Unmarshal(message, &hello); err != nil {
		return
	}

	if h.sharedSecret != "" && hello.Token != h.sharedSecret {
		_ = client.WriteJSON(AckMessage{Type: TypeAck, Success: false, Message: "invalid token"})
		client.Conn.Close()
		return
	}

	client.Authenticated = true
	_ = client.WriteJSON(AckMessage{Type: TypeAck, Success: true})
}

func (h *Hub) handleResponse(client *Client, message []byte) {
	if !client.Authenticated {
		h.logger.Warn().Str("clientId", client.ID).Msg("Response from unauthenticated client dropped")
		return
	}

	var resp ResponseMessage
	if err := json.Unmarshal(message, &resp); err != nil {
		h.logger.Warn().Err(err).Str("clientId", client.ID).Msg("Invalid control response")
		return
	}

	select {
	case h.responses <- control.Response{RequestID: resp.RequestID, Value: resp.Value, Approved: resp.Approved}:
	default:
		h.logger.Warn().
			Str("requestId", resp.RequestID).
			Msg("Response buffer full, dropping control response")
	}
}

// Forward drives the exchange remotely: every yielded request is
// broadcast to connected clients, and the first matching client answer
// resumes the suspended unit. It returns when the exchange closes or
// the context ends.
func (h *Hub) Forward(ctx context.Context, e *control.Exchange) error {
	for {
		select {
		case req, ok := <-e.Requests():
			if !ok {
				return nil
			}
			if err := h.forwardOne(ctx, e, req); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) forwardOne(ctx context.Context, e *control.Exchange, req control.Request) error {
	observability.RecordControlRequest(string(req.Kind()), true)

	msg := RequestMessage{
		Type:      TypeControlRequest,
		RequestID: req.ID(),
		Kind:      string(req.Kind()),
		Data:      requestData(req),
		Seq:       int64(atomic.AddUint64(&h.seq, 1)),
		Timestamp: time.Now().UnixMilli(),
	}

	h.broadcast(msg)

	for {
		select {
		case resp := <-h.responses:
			// Answers for requests that are no longer outstanding are
			// stale; drop them and keep waiting.
			if resp.RequestID != req.ID() {
				h.logger.Debug().
					Str("requestId", resp.RequestID).
					Str("outstanding", req.ID()).
					Msg("Dropping stale control response")
				continue
			}

			if req.Kind() == control.KindConfirmation && !resp.Approved {
				observability.RecordConfirmationDenied()
			}

			return e.Resume(ctx, resp)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) broadcast(msg RequestMessage) {
	clients := h.clients.GetAuthenticated()

	if len(clients) == 0 {
		h.logger.Debug().
			Str("requestId", msg.RequestID).
			Str("kind", msg.Kind).
			Msg("No authenticated clients to forward to")
		return
	}

	for _, client := range clients {
		if err := client.WriteJSON(msg); err != nil {
			h.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", msg.RequestID).
				Msg("Failed to forward control request")
		}
	}
}

// requestData flattens a request's variant-specific fields for the wire.
func requestData(req control.Request) map[string]interface{} {
	data := map[string]interface{}{
		"created_at": req.CreatedAt().UnixMilli(),
	}

	switch r := req.(type) {
	case *control.UserInput:
		data["prompt"] = r.Prompt
		data["context"] = r.Context
		data["options"] = r.Options
		data["timeout_ms"] = r.Timeout.Milliseconds()
		data["default_value"] = r.DefaultValue
	case *control.SubAgentQuery:
		data["agent_name"] = r.AgentName
		data["query"] = r.Query
		data["context"] = r.Context
		data["options"] = r.Options
	case *control.Confirmation:
		data["action"] = r.Action
		data["description"] = r.Description
		data["consequences"] = r.Consequences
		data["reversible"] = r.Reversible
	}

	return data
}
