package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RequestMessage is a control request forwarded to connected clients.
type RequestMessage struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id"`
	Kind      string                 `json:"kind"`
	Data      map[string]interface{} `json:"data"`
	Seq       int64                  `json:"seq"`
	Timestamp int64                  `json:"timestamp"`
}

// ResponseMessage is a client's answer to a forwarded request.
type ResponseMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Value     interface{} `json:"value,omitempty"`
	Approved  bool        `json:"approved"`
}

// HelloMessage authenticates a client after connecting.
type HelloMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AckMessage reports the result of a hello.
type AckMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Message type discriminators on the wire.
const (
	TypeHello           = "hello"
	TypeAck             = "ack"
	TypeControlRequest  = "control_request"
	TypeControlResponse = "control_response"
)

// Client is one connected WebSocket client.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Authenticated bool
	ConnectedAt   time.Time

	writeMu sync.Mutex
}

// WriteJSON serializes writes so the forward loop and acks never
// interleave frames on the same connection.
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}
