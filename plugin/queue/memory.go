package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryQueue is a bounded in-process queue backed by a channel.
// Delayed retries are scheduled with timers and dropped when the queue closes.
type MemoryQueue struct {
	ch chan Message

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// NewMemoryQueue creates a queue buffering up to capacity messages.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryQueue{
		ch:     make(chan Message, capacity),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Send(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- msg:
		return nil
	default:
		slog.Warn("embedding queue full, message dropped", slog.String("assetId", msg.AssetID))
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}

	var first Message
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		first = msg
	}

	deliveries := []Delivery{&memoryDelivery{queue: q, msg: first}}
	for len(deliveries) < max {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				return deliveries, nil
			}
			deliveries = append(deliveries, &memoryDelivery{queue: q, msg: msg})
		default:
			return deliveries, nil
		}
	}
	return deliveries, nil
}

// Len returns the number of messages ready for delivery.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	close(q.ch)
	return nil
}

func (q *MemoryQueue) scheduleRetry(msg Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		delete(q.timers, timer)
		q.mu.Unlock()

		if err := q.Send(context.Background(), msg); err != nil {
			slog.Error("failed to redeliver message", slog.String("assetId", msg.AssetID), slog.String("error", err.Error()))
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   Message
}

func (d *memoryDelivery) Message() Message {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	return nil
}

func (d *memoryDelivery) Retry(_ context.Context, delay time.Duration) error {
	msg := d.msg
	msg.RetryCount++
	return d.queue.scheduleRetry(msg, delay)
}

func (d *memoryDelivery) Release(ctx context.Context) error {
	return d.queue.Send(ctx, d.msg)
}

var _ Queue = (*MemoryQueue)(nil)
