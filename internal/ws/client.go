package ws

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay/internal/protocol"
)

// Client wraps one websocket transport together with the identity it was
// authenticated as. All writes go through Send; gorilla/websocket allows a
// single concurrent writer and the broadcast and heartbeat loops write from
// goroutines other than the session's.
type Client struct {
	ConnID      string
	UserID      int64
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ConnID:      newConnID(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Send encodes the envelope and writes it as one text frame.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying transport. Safe to call more than once.
func (c *Client) Close() error {
	return c.conn.Close()
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
