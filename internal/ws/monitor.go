package ws

import (
	"context"
	"log"
	"time"

	"chat-relay/internal/observability"
	"chat-relay/internal/protocol"
)

// Monitor owns the two background liveness loops: a sweep that evicts clients
// whose heartbeat went stale, and a push that broadcasts server heartbeats.
type Monitor struct {
	hub           *Hub
	pushInterval  time.Duration
	sweepInterval time.Duration
	timeout       time.Duration
}

// NewMonitor constructs a Monitor with the given intervals.
func NewMonitor(hub *Hub, pushInterval, sweepInterval, timeout time.Duration) *Monitor {
	return &Monitor{
		hub:           hub,
		pushInterval:  pushInterval,
		sweepInterval: sweepInterval,
		timeout:       timeout,
	}
}

// Run starts both loops. They stop when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	go m.sweepLoop(ctx)
	go m.pushLoop(ctx)
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.SweepOnce(now)
		}
	}
}

// SweepOnce evicts every client idle longer than the timeout. Evicted
// transports are closed so their session goroutines unwind instead of reading
// from a connection nobody will deliver to anymore.
func (m *Monitor) SweepOnce(now time.Time) {
	for _, c := range m.hub.Expire(now, m.timeout) {
		log.Printf("heartbeat timeout, evicting user_id=%d conn_id=%s", c.UserID, c.ConnID)
		c.Close()
		observability.IncHeartbeatEviction("stale")
		observability.DecWSActive()
	}
}

func (m *Monitor) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(m.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PushOnce()
		}
	}
}

// PushOnce sends a server heartbeat to every registered client. A write
// failure evicts that entry immediately rather than waiting for the sweep.
func (m *Monitor) PushOnce() {
	env := protocol.Envelope{
		Flag:      protocol.FlagServerHeartbeat,
		Message:   protocol.HeartbeatMarker,
		Timestamp: time.Now().UTC(),
	}
	for _, c := range m.hub.Snapshot() {
		if err := c.Send(env); err != nil {
			log.Printf("heartbeat push failed user_id=%d conn_id=%s: %v", c.UserID, c.ConnID, err)
			c.Close()
			if m.hub.Unregister(c.UserID, c) {
				observability.DecWSActive()
			}
			observability.IncHeartbeatEviction("push_failure")
		}
	}
}
