package store

import (
	"context"
	"fmt"
	"time"
)

// QueuedMessage is an encoded outbound sync message held in the durable queue.
type QueuedMessage struct {
	Seq        int64
	EntityKind string
	EntityID   string
	Action     string
	Body       []byte
	EnqueuedAt time.Time
}

// EnqueueSyncMessage appends m to the outbound queue. When the queue then
// holds more than capacity rows the oldest rows are dropped; the number of
// dropped rows is returned. A capacity <= 0 means unbounded.
func (db *DB) EnqueueSyncMessage(ctx context.Context, m *QueuedMessage, capacity int) (int, error) {
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_kind, entity_id, action, body, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.EntityKind, m.EntityID, m.Action, string(m.Body), m.EnqueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue sync message: %w", err)
	}
	if m.Seq, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("failed to read queue sequence: %w", err)
	}

	var evicted int64
	if capacity > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM sync_queue WHERE seq NOT IN (
				SELECT seq FROM sync_queue ORDER BY seq DESC LIMIT ?
			)
		`, capacity)
		if err != nil {
			return 0, fmt.Errorf("failed to trim sync queue: %w", err)
		}
		if evicted, err = res.RowsAffected(); err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(evicted), nil
}

// PeekSyncQueue returns up to limit queued messages, oldest first, without
// removing them.
func (db *DB) PeekSyncQueue(ctx context.Context, limit int) ([]*QueuedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, entity_kind, entity_id, action, body, enqueued_at
		FROM sync_queue ORDER BY seq ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	defer rows.Close()

	var msgs []*QueuedMessage
	for rows.Next() {
		var m QueuedMessage
		var body, enqueuedAt string
		if err := rows.Scan(&m.Seq, &m.EntityKind, &m.EntityID, &m.Action, &body, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queued message: %w", err)
		}
		m.Body = []byte(body)
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			m.EnqueuedAt = t
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return msgs, nil
}

// DeleteSyncMessage removes a delivered message from the queue.
func (db *DB) DeleteSyncMessage(ctx context.Context, seq int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to delete queued message %d: %w", seq, err)
	}
	return nil
}

// SyncQueueLen returns the number of pending outbound messages.
func (db *DB) SyncQueueLen(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return n, nil
}
