package transport

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/davidchanminpark/time-my-life/internal/peersync"
	"github.com/davidchanminpark/time-my-life/internal/store"
)

// DefaultQueueCapacity is the queue size used when none is configured.
const DefaultQueueCapacity = 500

// QueueStore is the persistence behind a Queue. *store.DB implements it.
type QueueStore interface {
	EnqueueSyncMessage(ctx context.Context, m *store.QueuedMessage, capacity int) (int, error)
	PeekSyncQueue(ctx context.Context, limit int) ([]*store.QueuedMessage, error)
	DeleteSyncMessage(ctx context.Context, seq int64) error
	SyncQueueLen(ctx context.Context) (int, error)
}

// Queue is the bounded durable outbound queue. When full, the oldest
// messages are evicted to make room.
type Queue struct {
	store    QueueStore
	capacity int
	logger   *log.Logger
}

// NewQueue creates a queue holding at most capacity messages.
func NewQueue(st QueueStore, capacity int, logger *log.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{store: st, capacity: capacity, logger: logger}
}

// Capacity returns the maximum number of queued messages.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Enqueue stores m, evicting the oldest messages if the queue is full.
func (q *Queue) Enqueue(ctx context.Context, m *peersync.Message) error {
	body, err := m.Encode()
	if err != nil {
		return err
	}

	evicted, err := q.store.EnqueueSyncMessage(ctx, &store.QueuedMessage{
		EntityKind: string(m.EntityKind),
		EntityID:   m.EntityID,
		Action:     string(m.Action),
		Body:       body,
	}, q.capacity)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", m, err)
	}

	if evicted > 0 {
		evictedCounter.Add(float64(evicted))
		q.logger.Printf("Warning: sync queue full (capacity %d), evicted %d oldest message(s)", q.capacity, evicted)
	}
	q.updateDepth(ctx)
	return nil
}

// Peek returns up to limit messages, oldest first.
func (q *Queue) Peek(ctx context.Context, limit int) ([]*store.QueuedMessage, error) {
	return q.store.PeekSyncQueue(ctx, limit)
}

// Ack removes a delivered message.
func (q *Queue) Ack(ctx context.Context, seq int64) error {
	if err := q.store.DeleteSyncMessage(ctx, seq); err != nil {
		return err
	}
	q.updateDepth(ctx)
	return nil
}

// Len returns the number of queued messages.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.SyncQueueLen(ctx)
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.store.SyncQueueLen(ctx); err == nil {
		queueDepthGauge.Set(float64(n))
	}
}
