package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/protocol"
)

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	c, _ := registeredClient(t, hub, 1, "alice")

	assert.Equal(t, 1, hub.Len())
	assert.True(t, hub.Unregister(1, c))
	assert.Equal(t, 0, hub.Len())
	assert.False(t, hub.Unregister(1, c))
}

func TestHubLoginReplacesPriorEntry(t *testing.T) {
	hub := NewHub()
	old, _ := registeredClient(t, hub, 1, "alice")
	replacement, _ := registeredClient(t, hub, 1, "alice")

	require.Equal(t, 1, hub.Len())

	// The replaced session's cleanup must not tear down its successor.
	assert.False(t, hub.Unregister(1, old))
	require.Equal(t, 1, hub.Len())

	snapshot := hub.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Same(t, replacement, snapshot[0])
}

func TestHubTouchRefreshesHeartbeat(t *testing.T) {
	hub := NewHub()
	registeredClient(t, hub, 1, "alice")

	hub.mu.Lock()
	hub.beats[1] = time.Now().Add(-50 * time.Second)
	hub.mu.Unlock()

	hub.Touch(1)

	evicted := hub.Expire(time.Now(), 40*time.Second)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, hub.Len())
}

func TestHubTouchIgnoresUnknownUser(t *testing.T) {
	hub := NewHub()
	hub.Touch(42)
	assert.Equal(t, 0, hub.Len())
}

func TestHubExpireEvictsStaleEntries(t *testing.T) {
	hub := NewHub()
	stale, _ := registeredClient(t, hub, 1, "alice")
	registeredClient(t, hub, 2, "bob")

	now := time.Now()
	hub.mu.Lock()
	hub.beats[1] = now.Add(-61 * time.Second)
	hub.mu.Unlock()

	evicted := hub.Expire(now, 60*time.Second)
	require.Len(t, evicted, 1)
	assert.Same(t, stale, evicted[0])
	assert.Equal(t, 1, hub.Len())
}

func TestHubBroadcastReachesEveryClient(t *testing.T) {
	hub := NewHub()
	_, recvA := registeredClient(t, hub, 1, "alice")
	_, recvB := registeredClient(t, hub, 2, "bob")

	env := protocol.Envelope{
		Flag:      protocol.FlagText,
		ID:        1,
		Name:      "alice",
		Message:   "hi",
		Timestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	hub.Broadcast(env)

	gotA := readEnvelope(t, recvA)
	gotB := readEnvelope(t, recvB)
	assert.Equal(t, env, gotA)
	assert.Equal(t, env, gotB)
}

func TestHubBroadcastEvictsFailedConnection(t *testing.T) {
	hub := NewHub()
	broken, _ := registeredClient(t, hub, 1, "alice")
	_, recvB := registeredClient(t, hub, 2, "bob")

	// Close the server side so the write to user 1 fails.
	require.NoError(t, broken.Close())

	env := protocol.Envelope{Flag: protocol.FlagText, ID: 2, Name: "bob", Message: "still here", Timestamp: time.Now().UTC()}
	hub.Broadcast(env)

	// Failure on one connection never aborts delivery to the rest.
	got := readEnvelope(t, recvB)
	assert.Equal(t, "still here", got.Message)
	assert.Equal(t, 1, hub.Len())
}
