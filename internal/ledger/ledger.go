// Package ledger records accumulated time per activity per calendar day.
//
// Every completed timer session ends up here through Accumulate, which is the
// only place where sessions on the same day are combined. Days are normalized
// to midnight in the ledger's calendar location, so a session is filed under
// the same day on both devices as long as they share that location.
//
// Inbound sync uses Overwrite instead of Accumulate: the peer's snapshot
// replaces the local duration.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/store"
)

// Backend is the persistence the ledger needs. *store.DB implements it.
type Backend interface {
	GetLedgerEntry(ctx context.Context, activityID, day string) (*schema.LedgerEntry, error)
	AddLedgerDuration(ctx context.Context, activityID, day string, d time.Duration) (*schema.LedgerEntry, bool, error)
	PutLedgerEntry(ctx context.Context, e *schema.LedgerEntry) (bool, error)
	ListLedgerEntries(ctx context.Context, activityID string) ([]*schema.LedgerEntry, error)
	SumLedger(ctx context.Context, activityID, fromDay, toDay string) (time.Duration, error)
	DeleteLedgerEntry(ctx context.Context, activityID, day string) (bool, error)
}

// Ledger is the per-activity, per-day duration store.
type Ledger struct {
	backend  Backend
	loc      *time.Location
	observer schema.ChangeObserver
}

// New creates a ledger over backend using loc as its calendar.
// A nil loc means time.Local.
func New(backend Backend, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{backend: backend, loc: loc}
}

// SetObserver registers the receiver of local ledger changes.
func (l *Ledger) SetObserver(o schema.ChangeObserver) {
	l.observer = o
}

// Location returns the calendar used for day normalization.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

// Normalize returns midnight of t's day in the ledger calendar.
func (l *Ledger) Normalize(t time.Time) time.Time {
	return schema.StartOfDay(t, l.loc)
}

// Day returns the ledger key of t.
func (l *Ledger) Day(t time.Time) string {
	return schema.FormatDay(t, l.loc)
}

// Accumulate adds d to the entry for (activityID, day), creating the entry
// when it does not exist. Negative durations are clamped to zero.
func (l *Ledger) Accumulate(ctx context.Context, activityID string, day time.Time, d time.Duration) (*schema.LedgerEntry, error) {
	if activityID == "" {
		return nil, fmt.Errorf("%w: activity_id is required", schema.ErrValidation)
	}
	if d < 0 {
		d = 0
	}

	key := l.Day(day)
	entry, created, err := l.backend.AddLedgerDuration(ctx, activityID, key, d)
	if err != nil {
		return nil, fmt.Errorf("failed to accumulate %s: %w", schema.LedgerID(activityID, key), err)
	}

	action := schema.ActionUpdate
	if created {
		action = schema.ActionCreate
	}
	l.emit(schema.Change{Action: action, Kind: schema.KindLedgerEntry, ID: entry.ID(), Entity: entry})
	return entry, nil
}

// Read returns the entry for (activityID, day), or a zero-duration entry when
// nothing has been recorded.
func (l *Ledger) Read(ctx context.Context, activityID string, day time.Time) (*schema.LedgerEntry, error) {
	key := l.Day(day)
	entry, err := l.backend.GetLedgerEntry(ctx, activityID, key)
	if errors.Is(err, store.ErrNotFound) {
		return &schema.LedgerEntry{ActivityID: activityID, Day: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entry, nil
}

// ReadAll returns every entry of an activity, most recent day first.
func (l *Ledger) ReadAll(ctx context.Context, activityID string) ([]*schema.LedgerEntry, error) {
	entries, err := l.backend.ListLedgerEntries(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, nil
}

// TotalOverRange sums the entries of an activity whose day lies within
// [from, to], both inclusive. Arguments out of order are swapped.
func (l *Ledger) TotalOverRange(ctx context.Context, activityID string, from, to time.Time) (time.Duration, error) {
	fromDay, toDay := l.Day(from), l.Day(to)
	if fromDay > toDay {
		fromDay, toDay = toDay, fromDay
	}
	total, err := l.backend.SumLedger(ctx, activityID, fromDay, toDay)
	if err != nil {
		return 0, fmt.Errorf("failed to total ledger: %w", err)
	}
	return total, nil
}

// Overwrite stores e as-is, replacing any local duration. It does not notify
// the observer. Returns true when the entry was created.
func (l *Ledger) Overwrite(ctx context.Context, e *schema.LedgerEntry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	created, err := l.backend.PutLedgerEntry(ctx, e)
	if err != nil {
		return false, fmt.Errorf("failed to overwrite ledger entry: %w", err)
	}
	return created, nil
}

// Delete removes the entry for (activityID, day) if present.
func (l *Ledger) Delete(ctx context.Context, activityID, day string) (bool, error) {
	deleted, err := l.backend.DeleteLedgerEntry(ctx, activityID, day)
	if err != nil {
		return false, fmt.Errorf("failed to delete ledger entry: %w", err)
	}
	return deleted, nil
}

// DeleteByID removes the entry addressed by its sync id.
func (l *Ledger) DeleteByID(ctx context.Context, id string) (bool, error) {
	activityID, day, err := schema.ParseLedgerID(id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", schema.ErrValidation, err)
	}
	return l.Delete(ctx, activityID, day)
}

func (l *Ledger) emit(c schema.Change) {
	if l.observer != nil {
		l.observer.Observe(c)
	}
}
