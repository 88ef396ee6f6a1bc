package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/schema"
)

const activityColumns = `id, name, color, category, schedule, created_at`

// InsertActivity adds a new activity. It fails if the id already exists.
func (db *DB) InsertActivity(ctx context.Context, a *schema.Activity) error {
	scheduleJSON, err := json.Marshal(a.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	query := `INSERT INTO activities (` + activityColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.conn.ExecContext(ctx, query,
		a.ID,
		a.Name,
		a.Color,
		a.Category,
		string(scheduleJSON),
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity %s: %w", a.ID, err)
	}
	return nil
}

// UpsertActivity inserts an activity or overwrites the mutable fields of an
// existing one (name, color, category, schedule). created_at is kept.
// Returns true when a new row was created.
func (db *DB) UpsertActivity(ctx context.Context, a *schema.Activity) (bool, error) {
	scheduleJSON, err := json.Marshal(a.Schedule)
	if err != nil {
		return false, fmt.Errorf("failed to marshal schedule: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities WHERE id = ?`, a.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up activity %s: %w", a.ID, err)
	}

	query := `
	INSERT INTO activities (` + activityColumns + `) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		color = excluded.color,
		category = excluded.category,
		schedule = excluded.schedule
	`
	_, err = tx.ExecContext(ctx, query,
		a.ID,
		a.Name,
		a.Color,
		a.Category,
		string(scheduleJSON),
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert activity %s: %w", a.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return exists == 0, nil
}

// GetActivity retrieves a single activity by ID.
// Returns ErrNotFound if the activity does not exist.
func (db *DB) GetActivity(ctx context.Context, id string) (*schema.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE id = ?`
	row := db.conn.QueryRowContext(ctx, query, id)

	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListActivities returns all activities ordered by creation time.
func (db *DB) ListActivities(ctx context.Context) ([]*schema.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities ORDER BY created_at ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*schema.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return activities, nil
}

// CountActivities returns the number of stored activities.
func (db *DB) CountActivities(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return count, nil
}

// DeleteActivity removes an activity together with its ledger entries and goals.
// Returns false if the activity did not exist (idempotent).
func (db *DB) DeleteActivity(ctx context.Context, id string) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE activity_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete ledger entries of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE activity_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete goals of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete activity %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*schema.Activity, error) {
	var a schema.Activity
	var scheduleJSON, createdAt string

	if err := row.Scan(&a.ID, &a.Name, &a.Color, &a.Category, &scheduleJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		a.CreatedAt = t
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &a.Schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule of %s: %w", a.ID, err)
	}
	return &a, nil
}
