package queue

import (
	"context"
	"time"
)

// NotificationMessage is an outbox message on its way to the system that triggered the run
type NotificationMessage struct {
	MessageID int64     `json:"message_id"`
	RunID     int64     `json:"run_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Client defines the interface for notification broker operations
type Client interface {
	Publish(ctx context.Context, message NotificationMessage) error
	// Subscribe blocks, calling handler for every message until ctx is done. A handler
	// error leaves the message for the broker's failure handling.
	Subscribe(ctx context.Context, handler func(NotificationMessage) error) error
	Close() error
}
