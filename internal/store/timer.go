package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/davidchanminpark/time-my-life/internal/schema"
)

// LoadActiveTimer returns the device's active-timer record, creating an idle
// one on first use. If more than one row exists (a crashed writer can leave a
// second insert behind) the first row wins and the rest are deleted; the
// number of collapsed rows is returned so callers can log it.
//
// The common case of exactly one row is a plain read; a write transaction is
// only opened when a row must be created or collapsed.
func (db *DB) LoadActiveTimer(ctx context.Context) (*schema.ActiveTimerRecord, int, error) {
	rec, _, extra, err := scanActiveTimer(ctx, db.conn)
	if err != nil {
		return nil, 0, err
	}
	if rec != nil && len(extra) == 0 {
		return rec, 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-read under the write lock; another process may have fixed it.
	rec, keep, extra, err := scanActiveTimer(ctx, tx)
	if err != nil {
		return nil, 0, err
	}

	if rec == nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO active_timer (running) VALUES (0)`); err != nil {
			return nil, 0, fmt.Errorf("failed to create active timer: %w", err)
		}
		rec = &schema.ActiveTimerRecord{}
	}

	if len(extra) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_timer WHERE row_id <> ?`, keep); err != nil {
			return nil, 0, fmt.Errorf("failed to collapse active timer rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rec, len(extra), nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// scanActiveTimer reads every active-timer row. It returns the first row's
// record and id, and the ids of any rows after it. rec is nil when the table
// is empty.
func scanActiveTimer(ctx context.Context, q queryer) (*schema.ActiveTimerRecord, int64, []int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT row_id, activity_id, start_time, start_day, running FROM active_timer ORDER BY row_id ASC`)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to query active timer: %w", err)
	}
	defer rows.Close()

	var rec *schema.ActiveTimerRecord
	var keep int64
	var extra []int64
	for rows.Next() {
		var rowID int64
		var activityID, startTime, startDay sql.NullString
		var running bool
		if err := rows.Scan(&rowID, &activityID, &startTime, &startDay, &running); err != nil {
			return nil, 0, nil, fmt.Errorf("failed to scan active timer: %w", err)
		}
		if rec != nil {
			extra = append(extra, rowID)
			continue
		}
		keep = rowID
		rec = &schema.ActiveTimerRecord{
			ActivityID: activityID.String,
			StartTime:  nullStringToTime(startTime),
			StartDay:   startDay.String,
			Running:    running,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, nil, fmt.Errorf("error iterating active timer rows: %w", err)
	}
	return rec, keep, extra, nil
}

// SaveActiveTimer overwrites the device's active-timer record.
func (db *DB) SaveActiveTimer(ctx context.Context, rec *schema.ActiveTimerRecord) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRowContext(ctx, `SELECT row_id FROM active_timer ORDER BY row_id ASC LIMIT 1`).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, `INSERT INTO active_timer (running) VALUES (0)`)
		if err != nil {
			return fmt.Errorf("failed to create active timer: %w", err)
		}
		if rowID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read active timer id: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up active timer: %w", err)
	}

	activityID := sql.NullString{String: rec.ActivityID, Valid: rec.ActivityID != ""}
	startDay := sql.NullString{String: rec.StartDay, Valid: rec.StartDay != ""}
	_, err = tx.ExecContext(ctx, `
		UPDATE active_timer SET activity_id = ?, start_time = ?, start_day = ?, running = ?
		WHERE row_id = ?
	`, activityID, timeToNullString(rec.StartTime), startDay, rec.Running, rowID)
	if err != nil {
		return fmt.Errorf("failed to save active timer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
