package schema

import (
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

const (
	// MaxNameLength is the longest allowed activity name, in characters.
	MaxNameLength = 30

	// MaxCategoryLength is the longest allowed category label, in characters.
	MaxCategoryLength = 20

	// MaxActivities is the number of activities a replica may hold.
	MaxActivities = 30
)

// ErrValidation is wrapped by every validation failure in this package.
var ErrValidation = errors.New("validation failed")

// Activity is a user-defined activity that time is tracked against.
type Activity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Category string `json:"category,omitempty"`

	// Schedule holds the weekdays the activity is planned on, 1 (Sunday) to 7 (Saturday).
	Schedule []int `json:"schedule"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the Activity has valid field values.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if n := utf8.RuneCountInString(a.Name); n > MaxNameLength {
		return fmt.Errorf("%w: name must be %d characters or less (got %d)", ErrValidation, MaxNameLength, n)
	}
	if n := utf8.RuneCountInString(a.Category); n > MaxCategoryLength {
		return fmt.Errorf("%w: category must be %d characters or less (got %d)", ErrValidation, MaxCategoryLength, n)
	}
	if len(a.Schedule) == 0 {
		return fmt.Errorf("%w: at least one scheduled day is required", ErrValidation)
	}
	for _, d := range a.Schedule {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: scheduled day must be between 1 and 7 (got %d)", ErrValidation, d)
		}
	}
	if a.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrValidation)
	}
	return nil
}

// NormalizeSchedule sorts the schedule and removes duplicate days.
func (a *Activity) NormalizeSchedule() {
	a.Schedule = NormalizeDays(a.Schedule)
}

// ScheduledOn reports whether the activity is planned for the given weekday.
func (a *Activity) ScheduledOn(wd time.Weekday) bool {
	want := int(wd) + 1
	for _, d := range a.Schedule {
		if d == want {
			return true
		}
	}
	return false
}

// NormalizeDays returns a sorted copy of days with duplicates removed.
func NormalizeDays(days []int) []int {
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
