// Package queue delivers embedding requests to background consumers.
package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrQueueFull is returned by Send when a bounded queue cannot accept more messages.
var ErrQueueFull = errors.New("queue is full")

// ErrQueueClosed is returned once a queue has been closed.
var ErrQueueClosed = errors.New("queue is closed")

// Message asks for one asset to be embedded.
type Message struct {
	AssetID string `json:"assetId"`
	// EnqueuedAt is the first enqueue time in epoch milliseconds.
	EnqueuedAt int64 `json:"enqueuedAt"`
	// RetryCount is the number of failed deliveries so far.
	RetryCount int `json:"retryCount"`
}

// NewMessage returns a first-attempt message for assetID.
func NewMessage(assetID string) Message {
	return Message{
		AssetID:    assetID,
		EnqueuedAt: time.Now().UnixMilli(),
	}
}

// Delivery is a received message awaiting an explicit outcome.
// Exactly one of Ack, Retry or Release must be called.
type Delivery interface {
	Message() Message
	// Ack removes the message from the queue.
	Ack(ctx context.Context) error
	// Retry redelivers the message after delay with RetryCount incremented.
	Retry(ctx context.Context, delay time.Duration) error
	// Release returns the message for immediate redelivery without counting
	// an attempt. Used when processing was interrupted rather than failed.
	Release(ctx context.Context) error
}

// Queue is an at-least-once message queue.
type Queue interface {
	Send(ctx context.Context, msg Message) error
	// Receive blocks until at least one message is available or ctx is done,
	// then returns up to max deliveries.
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Close() error
}
