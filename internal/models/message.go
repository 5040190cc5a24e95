package models

import "time"

// Message is a persisted chat message. Type mirrors the envelope flag it was
// received with, so offline replay can reproduce the original wire form.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	SenderID   int64     `db:"sender_id" json:"sender_id"`
	SenderName string    `db:"sender_username" json:"sender_username"`
	Body       string    `db:"message" json:"message"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	Type       int       `db:"type" json:"type"`
}
