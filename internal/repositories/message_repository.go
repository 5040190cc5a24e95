package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

// MessageRepository abstracts durable message history.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessagesSince(ctx context.Context, since time.Time) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns it with the assigned id.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (sender_id, sender_username, message, timestamp, type)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id, sender_id, sender_username, message, timestamp, type`,
		msg.SenderID, msg.SenderName, msg.Body, msg.Timestamp, msg.Type).
		Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Body, &msg.Timestamp, &msg.Type)
	return msg, err
}

// ListMessagesSince returns messages with timestamp >= since, ascending.
// The inclusive lower bound is what makes offline replay gapless.
func (r *MessageRepo) ListMessagesSince(ctx context.Context, since time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, sender_id, sender_username, message, timestamp, type
         FROM messages
         WHERE timestamp >= $1
         ORDER BY timestamp ASC`, since)
	return msgs, err
}
