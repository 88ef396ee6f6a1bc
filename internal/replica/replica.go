// Package replica is the device's local collection of activities and goals.
//
// Local operations validate input, write through to the store, and then
// report the committed change to the registered observer (normally the sync
// coordinator). The Apply* operations are the inbound sync path: they write
// the same records but never notify the observer, so a change received from
// the peer is not echoed back to it.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/store"
)

var (
	// ErrNotFound is returned when an id matches no record.
	ErrNotFound = errors.New("not found")

	// ErrActivityLimit is returned when creating an activity would exceed
	// schema.MaxActivities.
	ErrActivityLimit = fmt.Errorf("%w: at most %d activities allowed", schema.ErrValidation, schema.MaxActivities)
)

// Backend is the persistence the replica needs. *store.DB implements it.
type Backend interface {
	InsertActivity(ctx context.Context, a *schema.Activity) error
	UpsertActivity(ctx context.Context, a *schema.Activity) (bool, error)
	GetActivity(ctx context.Context, id string) (*schema.Activity, error)
	ListActivities(ctx context.Context) ([]*schema.Activity, error)
	CountActivities(ctx context.Context) (int, error)
	DeleteActivity(ctx context.Context, id string) (bool, error)

	UpsertGoal(ctx context.Context, g *schema.Goal) (bool, error)
	GetGoal(ctx context.Context, id string) (*schema.Goal, error)
	ListGoals(ctx context.Context, activityID string) ([]*schema.Goal, error)
	DeleteGoal(ctx context.Context, id string) (bool, error)
}

// Totaler sums ledger time. *ledger.Ledger implements it.
type Totaler interface {
	TotalOverRange(ctx context.Context, activityID string, from, to time.Time) (time.Duration, error)
}

// Store manages the local replica.
type Store struct {
	backend  Backend
	observer schema.ChangeObserver
	logger   *log.Logger
	now      func() time.Time
}

// New creates a replica store over backend.
// If logger is nil, a default logger writing to stderr is used.
func New(backend Backend, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[replica] ", log.LstdFlags)
	}
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// SetObserver registers the receiver of committed local changes.
func (s *Store) SetObserver(o schema.ChangeObserver) {
	s.observer = o
}

func (s *Store) emit(c schema.Change) {
	if s.observer != nil {
		s.observer.Observe(c)
	}
}

// ActivityInput holds the user-editable fields of an activity.
type ActivityInput struct {
	Name     string
	Color    string
	Category string
	Schedule []int
}

func (in ActivityInput) apply(a *schema.Activity) {
	a.Name = strings.TrimSpace(in.Name)
	a.Color = strings.TrimSpace(in.Color)
	a.Category = strings.TrimSpace(in.Category)
	a.Schedule = schema.NormalizeDays(in.Schedule)
}

// CreateActivity validates and inserts a new activity with a fresh id.
func (s *Store) CreateActivity(ctx context.Context, in ActivityInput) (*schema.Activity, error) {
	a := &schema.Activity{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	in.apply(a)
	if err := a.Validate(); err != nil {
		return nil, err
	}

	count, err := s.backend.CountActivities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to save activity: %w", err)
	}
	if count >= schema.MaxActivities {
		return nil, ErrActivityLimit
	}

	if err := s.backend.InsertActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save activity: %w", err)
	}

	s.logger.Printf("Created activity: %s (%s)", a.ID, a.Name)
	s.emit(schema.Change{Action: schema.ActionCreate, Kind: schema.KindActivity, ID: a.ID, Entity: a})
	return a, nil
}

// UpdateActivity replaces the mutable fields of an existing activity.
func (s *Store) UpdateActivity(ctx context.Context, id string, in ActivityInput) (*schema.Activity, error) {
	a, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(a)
	if err := a.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.backend.UpsertActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save activity: %w", err)
	}

	s.logger.Printf("Updated activity: %s (%s)", a.ID, a.Name)
	s.emit(schema.Change{Action: schema.ActionUpdate, Kind: schema.KindActivity, ID: a.ID, Entity: a})
	return a, nil
}

// DeleteActivity removes an activity with its ledger entries and goals.
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	deleted, err := s.backend.DeleteActivity(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	if !deleted {
		return fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}

	s.logger.Printf("Deleted activity: %s", id)
	s.emit(schema.Change{Action: schema.ActionDelete, Kind: schema.KindActivity, ID: id})
	return nil
}

// GetActivity looks up an activity by id.
func (s *Store) GetActivity(ctx context.Context, id string) (*schema.Activity, error) {
	a, err := s.backend.GetActivity(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// FindActivity resolves an id, an unambiguous id prefix, or an exact
// (case-insensitive) name to an activity.
func (s *Store) FindActivity(ctx context.Context, ref string) (*schema.Activity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: activity reference is required", schema.ErrValidation)
	}

	activities, err := s.ListActivities(ctx)
	if err != nil {
		return nil, err
	}

	var matches []*schema.Activity
	for _, a := range activities {
		if a.ID == ref {
			return a, nil
		}
		if strings.EqualFold(a.Name, ref) || strings.HasPrefix(a.ID, ref) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("activity %q: %w", ref, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("activity %q is ambiguous (%d matches)", ref, len(matches))
	}
}

// ListActivities returns all activities in creation order.
func (s *Store) ListActivities(ctx context.Context) ([]*schema.Activity, error) {
	activities, err := s.backend.ListActivities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// ScheduledOn returns the activities scheduled on the weekday of day.
func (s *Store) ScheduledOn(ctx context.Context, day time.Time) ([]*schema.Activity, error) {
	activities, err := s.ListActivities(ctx)
	if err != nil {
		return nil, err
	}
	var scheduled []*schema.Activity
	for _, a := range activities {
		if a.ScheduledOn(day.Weekday()) {
			scheduled = append(scheduled, a)
		}
	}
	return scheduled, nil
}

// ApplyActivity stores an activity received from the peer. An existing
// record has all mutable fields overwritten; a missing one is inserted.
// Returns true when the activity was created.
func (s *Store) ApplyActivity(ctx context.Context, a *schema.Activity) (bool, error) {
	a.NormalizeSchedule()
	if err := a.Validate(); err != nil {
		return false, err
	}
	created, err := s.backend.UpsertActivity(ctx, a)
	if err != nil {
		return false, fmt.Errorf("failed to apply activity: %w", err)
	}
	return created, nil
}

// ApplyActivityDelete removes an activity deleted on the peer, cascading to
// its ledger entries and goals. Returns false if it was not present.
func (s *Store) ApplyActivityDelete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.backend.DeleteActivity(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to apply activity delete: %w", err)
	}
	return deleted, nil
}
