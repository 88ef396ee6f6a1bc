package replica

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/store"
)

// GoalInput holds the user-editable fields of a goal.
type GoalInput struct {
	ActivityID string
	Period     schema.GoalPeriod
	Target     time.Duration
}

// Progress is a goal measured against the ledger.
type Progress struct {
	Goal    *schema.Goal
	From    time.Time
	To      time.Time
	Tracked time.Duration
}

// Fraction returns tracked time over target, capped at 1.
func (p *Progress) Fraction() float64 {
	if p.Goal.Target <= 0 {
		return 0
	}
	f := float64(p.Tracked) / float64(p.Goal.Target)
	if f > 1 {
		return 1
	}
	return f
}

// Met reports whether the target has been reached.
func (p *Progress) Met() bool {
	return p.Tracked >= p.Goal.Target
}

// CreateGoal adds a goal for an existing activity.
func (s *Store) CreateGoal(ctx context.Context, in GoalInput) (*schema.Goal, error) {
	if _, err := s.GetActivity(ctx, in.ActivityID); err != nil {
		return nil, err
	}

	g := &schema.Goal{
		ID:         uuid.NewString(),
		ActivityID: in.ActivityID,
		Period:     in.Period,
		Target:     in.Target,
		CreatedAt:  s.now().UTC(),
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.backend.UpsertGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to save goal: %w", err)
	}

	s.logger.Printf("Created goal: %s (%s %s for %s)", g.ID, g.Period, g.Target, g.ActivityID)
	s.emit(schema.Change{Action: schema.ActionCreate, Kind: schema.KindGoal, ID: g.ID, Entity: g})
	return g, nil
}

// UpdateGoal changes the period and target of a goal.
func (s *Store) UpdateGoal(ctx context.Context, id string, period schema.GoalPeriod, target time.Duration) (*schema.Goal, error) {
	g, err := s.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Period = period
	g.Target = target
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.backend.UpsertGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to save goal: %w", err)
	}

	s.emit(schema.Change{Action: schema.ActionUpdate, Kind: schema.KindGoal, ID: g.ID, Entity: g})
	return g, nil
}

// DeleteGoal removes a goal.
func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	deleted, err := s.backend.DeleteGoal(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	if !deleted {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	s.emit(schema.Change{Action: schema.ActionDelete, Kind: schema.KindGoal, ID: id})
	return nil
}

// GetGoal looks up a goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*schema.Goal, error) {
	g, err := s.backend.GetGoal(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	return g, nil
}

// ListGoals returns all goals, or those of one activity.
func (s *Store) ListGoals(ctx context.Context, activityID string) ([]*schema.Goal, error) {
	goals, err := s.backend.ListGoals(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	return goals, nil
}

// GoalProgress measures a goal over the period containing at.
func (s *Store) GoalProgress(ctx context.Context, totals Totaler, g *schema.Goal, at time.Time, loc *time.Location) (*Progress, error) {
	from, to := g.Window(at, loc)
	tracked, err := totals.TotalOverRange(ctx, g.ActivityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute goal progress: %w", err)
	}
	return &Progress{Goal: g, From: from, To: to, Tracked: tracked}, nil
}

// ApplyGoal stores a goal received from the peer, overwriting any local copy.
func (s *Store) ApplyGoal(ctx context.Context, g *schema.Goal) (bool, error) {
	if err := g.Validate(); err != nil {
		return false, err
	}
	created, err := s.backend.UpsertGoal(ctx, g)
	if err != nil {
		return false, fmt.Errorf("failed to apply goal: %w", err)
	}
	return created, nil
}

// ApplyGoalDelete removes a goal deleted on the peer.
func (s *Store) ApplyGoalDelete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.backend.DeleteGoal(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to apply goal delete: %w", err)
	}
	return deleted, nil
}
