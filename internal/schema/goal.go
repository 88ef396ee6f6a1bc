package schema

import (
	"fmt"
	"time"
)

// GoalPeriod is the window a goal target applies to.
type GoalPeriod string

const (
	PeriodDaily  GoalPeriod = "daily"
	PeriodWeekly GoalPeriod = "weekly"
)

// IsValid reports whether p is a known period.
func (p GoalPeriod) IsValid() bool {
	return p == PeriodDaily || p == PeriodWeekly
}

// Goal is a time target for an activity over a period.
type Goal struct {
	ID         string        `json:"id"`
	ActivityID string        `json:"activity_id"`
	Period     GoalPeriod    `json:"period"`
	Target     time.Duration `json:"target_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Validate checks if the Goal has valid field values.
func (g *Goal) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if g.ActivityID == "" {
		return fmt.Errorf("%w: activity_id is required", ErrValidation)
	}
	if !g.Period.IsValid() {
		return fmt.Errorf("%w: period must be %q or %q (got %q)", ErrValidation, PeriodDaily, PeriodWeekly, g.Period)
	}
	if g.Target <= 0 {
		return fmt.Errorf("%w: target must be positive (got %s)", ErrValidation, g.Target)
	}
	if g.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrValidation)
	}
	return nil
}

// Window returns the inclusive first and last day of the period containing at.
// Weeks start on Sunday.
func (g *Goal) Window(at time.Time, loc *time.Location) (time.Time, time.Time) {
	day := StartOfDay(at, loc)
	if g.Period == PeriodWeekly {
		first := day.AddDate(0, 0, -int(day.Weekday()))
		return first, first.AddDate(0, 0, 6)
	}
	return day, day
}
