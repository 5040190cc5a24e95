package ws

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/protocol"
	"chat-relay/internal/repositories"
)

// Syncer replays persisted history to a reconnecting client. Delivery is
// at-least-once: the watermark bound is inclusive, so a message the client
// already saw may be sent again.
type Syncer struct {
	messages repositories.MessageRepository
}

// NewSyncer constructs a Syncer.
func NewSyncer(messages repositories.MessageRepository) *Syncer {
	return &Syncer{messages: messages}
}

// Replay sends every message with timestamp >= watermark in ascending order,
// each under its original flag, then a flag=7 completion envelope stamped
// with the current time. Clients advance their watermark to that completion
// timestamp, not to the last replayed row, so the query-to-completion gap is
// never lost. A watermark of "-1" means first-ever connect: nothing is sent.
func (s *Syncer) Replay(ctx context.Context, c *Client, watermark string) error {
	if watermark == protocol.SyncNever {
		return nil
	}

	since, err := protocol.ParseWatermark(watermark)
	if err != nil {
		return err
	}

	msgs, err := s.messages.ListMessagesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, m := range msgs {
		env := protocol.Envelope{
			Flag:      protocol.Flag(m.Type),
			ID:        m.SenderID,
			Name:      m.SenderName,
			Message:   m.Body,
			Timestamp: m.Timestamp,
		}
		if err := c.Send(env); err != nil {
			return fmt.Errorf("send replay item: %w", err)
		}
	}

	return c.Send(protocol.Envelope{
		Flag:      protocol.FlagSyncComplete,
		Message:   protocol.SyncCompleteMarker,
		Timestamp: time.Now().UTC(),
	})
}
