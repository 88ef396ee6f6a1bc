package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/schema"
)

// GetLedgerEntry returns the entry for (activityID, day).
// Returns ErrNotFound if no time has been recorded.
func (db *DB) GetLedgerEntry(ctx context.Context, activityID, day string) (*schema.LedgerEntry, error) {
	var ns int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT duration_ns FROM ledger_entries WHERE activity_id = ? AND day = ?`,
		activityID, day,
	).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger entry %s: %w", schema.LedgerID(activityID, day), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &schema.LedgerEntry{ActivityID: activityID, Day: day, Duration: time.Duration(ns)}, nil
}

// AddLedgerDuration atomically adds d to the entry for (activityID, day),
// creating it when missing. It returns the resulting entry and whether the
// row was created by this call.
func (db *DB) AddLedgerDuration(ctx context.Context, activityID, day string, d time.Duration) (*schema.LedgerEntry, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE activity_id = ? AND day = ?`,
		activityID, day,
	).Scan(&existing)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up ledger entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (activity_id, day, duration_ns) VALUES (?, ?, ?)
		ON CONFLICT(activity_id, day) DO UPDATE SET duration_ns = duration_ns + excluded.duration_ns
	`, activityID, day, int64(d))
	if err != nil {
		return nil, false, fmt.Errorf("failed to add ledger duration: %w", err)
	}

	var total int64
	err = tx.QueryRowContext(ctx,
		`SELECT duration_ns FROM ledger_entries WHERE activity_id = ? AND day = ?`,
		activityID, day,
	).Scan(&total)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read ledger total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	entry := &schema.LedgerEntry{ActivityID: activityID, Day: day, Duration: time.Duration(total)}
	return entry, existing == 0, nil
}

// PutLedgerEntry stores the entry, replacing any existing duration.
// Returns true when a new row was created.
func (db *DB) PutLedgerEntry(ctx context.Context, e *schema.LedgerEntry) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE activity_id = ? AND day = ?`,
		e.ActivityID, e.Day,
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to look up ledger entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (activity_id, day, duration_ns) VALUES (?, ?, ?)
		ON CONFLICT(activity_id, day) DO UPDATE SET duration_ns = excluded.duration_ns
	`, e.ActivityID, e.Day, int64(e.Duration))
	if err != nil {
		return false, fmt.Errorf("failed to put ledger entry %s: %w", e.ID(), err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return existing == 0, nil
}

// ListLedgerEntries returns the entries of one activity, newest day first.
func (db *DB) ListLedgerEntries(ctx context.Context, activityID string) ([]*schema.LedgerEntry, error) {
	return db.queryLedger(ctx,
		`SELECT activity_id, day, duration_ns FROM ledger_entries WHERE activity_id = ? ORDER BY day DESC`,
		activityID,
	)
}

// ListAllLedgerEntries returns every ledger entry ordered by activity then day.
func (db *DB) ListAllLedgerEntries(ctx context.Context) ([]*schema.LedgerEntry, error) {
	return db.queryLedger(ctx,
		`SELECT activity_id, day, duration_ns FROM ledger_entries ORDER BY activity_id ASC, day ASC`,
	)
}

// ListLedgerEntriesForDay returns the entries recorded on day across all activities.
func (db *DB) ListLedgerEntriesForDay(ctx context.Context, day string) ([]*schema.LedgerEntry, error) {
	return db.queryLedger(ctx,
		`SELECT activity_id, day, duration_ns FROM ledger_entries WHERE day = ? ORDER BY duration_ns DESC`,
		day,
	)
}

// SumLedger returns the total duration of an activity between two days, inclusive.
// Days compare lexically, which matches chronological order for YYYY-MM-DD.
func (db *DB) SumLedger(ctx context.Context, activityID, fromDay, toDay string) (time.Duration, error) {
	var total int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(duration_ns), 0) FROM ledger_entries
		WHERE activity_id = ? AND day >= ? AND day <= ?
	`, activityID, fromDay, toDay).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return time.Duration(total), nil
}

// DeleteLedgerEntry removes the entry for (activityID, day).
// Returns false if it did not exist.
func (db *DB) DeleteLedgerEntry(ctx context.Context, activityID, day string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE activity_id = ? AND day = ?`,
		activityID, day,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (db *DB) queryLedger(ctx context.Context, query string, args ...any) ([]*schema.LedgerEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*schema.LedgerEntry
	for rows.Next() {
		var e schema.LedgerEntry
		var ns int64
		if err := rows.Scan(&e.ActivityID, &e.Day, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Duration = time.Duration(ns)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}
