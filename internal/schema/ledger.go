package schema

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the storage and wire format of a ledger day.
const DayLayout = "2006-01-02"

// LedgerEntry is the accumulated duration for one activity on one day.
type LedgerEntry struct {
	ActivityID string        `json:"activity_id"`
	Day        string        `json:"day"`
	Duration   time.Duration `json:"duration_ns"`
}

// ID returns the sync identifier of the entry: {activity_id}/{day}
func (e *LedgerEntry) ID() string {
	return LedgerID(e.ActivityID, e.Day)
}

// Validate checks if the LedgerEntry has valid field values.
func (e *LedgerEntry) Validate() error {
	if e.ActivityID == "" {
		return fmt.Errorf("%w: activity_id is required", ErrValidation)
	}
	if _, err := time.Parse(DayLayout, e.Day); err != nil {
		return fmt.Errorf("%w: day must use %s (got %q)", ErrValidation, DayLayout, e.Day)
	}
	if e.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative (got %s)", ErrValidation, e.Duration)
	}
	return nil
}

// LedgerID builds the sync identifier for an (activity, day) pair.
func LedgerID(activityID, day string) string {
	return activityID + "/" + day
}

// ParseLedgerID splits a sync identifier back into activity id and day.
func ParseLedgerID(id string) (string, string, error) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("invalid ledger id: expected {activity}/{day}, got %q", id)
	}
	activityID, day := id[:i], id[i+1:]
	if _, err := time.Parse(DayLayout, day); err != nil {
		return "", "", fmt.Errorf("invalid ledger id day %q: %w", day, err)
	}
	return activityID, day, nil
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// FormatDay returns the ledger day key of t in loc.
func FormatDay(t time.Time, loc *time.Location) string {
	return StartOfDay(t, loc).Format(DayLayout)
}

// ParseDay parses a ledger day key as midnight in loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DayLayout, day, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse day %q: %w", day, err)
	}
	return t, nil
}
