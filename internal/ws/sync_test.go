package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/protocol"
)

func TestReplaySkipsFirstEverConnect(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	syncer := NewSyncer(messages)

	hub := NewHub()
	c, recv := registeredClient(t, hub, 1, "alice")

	require.NoError(t, syncer.Replay(context.Background(), c, protocol.SyncNever))

	expectSilence(t, recv, 200*time.Millisecond)
	messages.AssertNotCalled(t, "ListMessagesSince", mock.Anything, mock.Anything)
}

func TestReplaySendsBacklogThenCompletion(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	syncer := NewSyncer(messages)

	hub := NewHub()
	c, recv := registeredClient(t, hub, 1, "alice")

	watermark := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	backlog := []models.Message{
		{ID: 1, SenderID: 2, SenderName: "bob", Body: "first", Timestamp: watermark, Type: 0},
		{ID: 2, SenderID: 3, SenderName: "carol", Body: "media/chat_3_x.jpg", Timestamp: watermark.Add(time.Minute), Type: 8},
	}
	messages.On("ListMessagesSince", mock.Anything, mock.MatchedBy(func(ts time.Time) bool {
		return ts.Equal(watermark)
	})).Return(backlog, nil).Once()

	start := time.Now()
	require.NoError(t, syncer.Replay(context.Background(), c, "2025-03-14T09:00:00Z"))

	first := readEnvelope(t, recv)
	assert.Equal(t, protocol.FlagText, first.Flag)
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, "first", first.Message)

	second := readEnvelope(t, recv)
	assert.Equal(t, protocol.FlagImage, second.Flag)
	assert.Equal(t, "media/chat_3_x.jpg", second.Message)

	done := readEnvelope(t, recv)
	assert.Equal(t, protocol.FlagSyncComplete, done.Flag)
	assert.Equal(t, protocol.SyncCompleteMarker, done.Message)
	// The completion watermark is "now", not the last replayed row, so the
	// client never loses the query-to-completion gap.
	assert.False(t, done.Timestamp.Before(start.UTC().Truncate(time.Second)))

	messages.AssertExpectations(t)
}

func TestReplayIsIdempotentForFixedWatermark(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	syncer := NewSyncer(messages)

	hub := NewHub()
	c, recv := registeredClient(t, hub, 1, "alice")

	watermark := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	backlog := []models.Message{
		{ID: 1, SenderID: 2, SenderName: "bob", Body: "a", Timestamp: watermark, Type: 0},
		{ID: 2, SenderID: 2, SenderName: "bob", Body: "b", Timestamp: watermark.Add(time.Second), Type: 0},
	}
	messages.On("ListMessagesSince", mock.Anything, mock.Anything).Return(backlog, nil).Twice()

	readBatch := func() []protocol.Envelope {
		var out []protocol.Envelope
		for {
			env := readEnvelope(t, recv)
			out = append(out, env)
			if env.Flag == protocol.FlagSyncComplete {
				return out
			}
		}
	}

	require.NoError(t, syncer.Replay(context.Background(), c, "2025-03-14T09:00:00Z"))
	first := readBatch()
	require.NoError(t, syncer.Replay(context.Background(), c, "2025-03-14T09:00:00Z"))
	second := readBatch()

	require.Len(t, first, 3)
	require.Len(t, second, 3)
	for i := range first {
		if first[i].Flag == protocol.FlagSyncComplete {
			continue // completion is stamped at replay time
		}
		assert.Equal(t, first[i], second[i])
	}
	messages.AssertExpectations(t)
}

func TestReplayRejectsBadWatermark(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	syncer := NewSyncer(messages)

	hub := NewHub()
	c, _ := registeredClient(t, hub, 1, "alice")

	err := syncer.Replay(context.Background(), c, "garbage")
	require.Error(t, err)
	messages.AssertNotCalled(t, "ListMessagesSince", mock.Anything, mock.Anything)
}
