package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-relay/internal/observability"
	"chat-relay/internal/protocol"
)

// Hub is the live registry of authenticated sessions: user id to client plus
// the last-heartbeat timestamp per user. All mutation funnels through one
// mutex; iteration works on snapshots so broadcasts never hold the lock
// across a transport write.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*Client
	beats   map[int64]time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]*Client),
		beats:   make(map[int64]time.Time),
	}
}

// Register adds a client under its user id, replacing any prior entry for the
// same id. The replaced transport is not closed here; its own session notices
// the dead connection eventually.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.UserID] = c
	h.beats[c.UserID] = time.Now()
}

// Unregister removes the entry for userID, but only while it still points at
// c. A session that was replaced by a newer login must not tear down its
// successor during cleanup. Reports whether an entry was removed.
func (h *Hub) Unregister(userID int64, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[userID]; ok && current == c {
		delete(h.clients, userID)
		delete(h.beats, userID)
		return true
	}
	return false
}

// Touch refreshes the heartbeat timestamp for a registered user.
func (h *Hub) Touch(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID]; ok {
		h.beats[userID] = time.Now()
	}
}

// Snapshot returns the current set of registered clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Len reports the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Expire removes every entry whose last heartbeat is older than timeout and
// returns the evicted clients for the caller to close.
func (h *Hub) Expire(now time.Time, timeout time.Duration) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	var evicted []*Client
	for userID, last := range h.beats {
		if now.Sub(last) > timeout {
			if c, ok := h.clients[userID]; ok {
				evicted = append(evicted, c)
			}
			delete(h.clients, userID)
			delete(h.beats, userID)
		}
	}
	return evicted
}

// Broadcast fans the envelope out to every registered client, the sender's
// own connection included. A failed write closes and evicts that one entry
// and never aborts delivery to the rest.
func (h *Hub) Broadcast(env protocol.Envelope) {
	for _, c := range h.Snapshot() {
		if err := c.Send(env); err != nil {
			log.Printf("broadcast write failed user_id=%d conn_id=%s: %v", c.UserID, c.ConnID, err)
			c.Close()
			if h.Unregister(c.UserID, c) {
				observability.DecWSActive()
			}
			observability.IncBroadcastFailure()
			h.publishDropEvent(c, err)
			continue
		}
		observability.IncBroadcastDelivery()
	}
}

func (h *Hub) publishDropEvent(c *Client, err error) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "broadcast_drop",
			"conn_id":     c.ConnID,
			"duration_ms": time.Since(c.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   c.UserID,
			"device_id": c.DeviceID,
			"ip":        c.IP,
		},
	}

	headers := observability.BuildHeaders(c.RequestID, c.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "broadcast_drop",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("broadcast_drop")
}
