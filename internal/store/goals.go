package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/schema"
)

// UpsertGoal inserts a goal or replaces its period and target.
// Returns true when a new row was created.
func (db *DB) UpsertGoal(ctx context.Context, g *schema.Goal) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM goals WHERE id = ?`, g.ID).Scan(&existing); err != nil {
		return false, fmt.Errorf("failed to look up goal %s: %w", g.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO goals (id, activity_id, period, target_ns, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			activity_id = excluded.activity_id,
			period = excluded.period,
			target_ns = excluded.target_ns
	`, g.ID, g.ActivityID, string(g.Period), int64(g.Target), g.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to upsert goal %s: %w", g.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return existing == 0, nil
}

// GetGoal retrieves a goal by ID.
// Returns ErrNotFound if the goal does not exist.
func (db *DB) GetGoal(ctx context.Context, id string) (*schema.Goal, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, activity_id, period, target_ns, created_at FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return g, err
}

// ListGoals returns all goals, or the goals of one activity when activityID
// is non-empty.
func (db *DB) ListGoals(ctx context.Context, activityID string) ([]*schema.Goal, error) {
	query := `SELECT id, activity_id, period, target_ns, created_at FROM goals`
	var args []any
	if activityID != "" {
		query += ` WHERE activity_id = ?`
		args = append(args, activityID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var goals []*schema.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}
	return goals, nil
}

// DeleteGoal removes a goal. Returns false if it did not exist.
func (db *DB) DeleteGoal(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete goal %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func scanGoal(row rowScanner) (*schema.Goal, error) {
	var g schema.Goal
	var period, createdAt string
	var target int64
	if err := row.Scan(&g.ID, &g.ActivityID, &period, &target, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan goal: %w", err)
	}
	g.Period = schema.GoalPeriod(period)
	g.Target = time.Duration(target)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		g.CreatedAt = t
	}
	return &g, nil
}
