package schema

import (
	"fmt"
	"time"
)

// ActiveTimerRecord is the persisted state of a device's single timer.
// Exactly one record exists per device; it is reset, never deleted.
type ActiveTimerRecord struct {
	ActivityID string     `json:"activity_id,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	StartDay   string     `json:"start_day,omitempty"`
	Running    bool       `json:"running"`
}

// Validate checks the running flag against the start timestamp.
func (r *ActiveTimerRecord) Validate() error {
	if r.Running && r.StartTime == nil {
		return fmt.Errorf("%w: running timer has no start time", ErrValidation)
	}
	if !r.Running && r.StartTime != nil {
		return fmt.Errorf("%w: idle timer has a start time", ErrValidation)
	}
	if r.Running && r.ActivityID == "" {
		return fmt.Errorf("%w: running timer has no activity", ErrValidation)
	}
	return nil
}

// Repair forces the record back into a consistent shape.
// It returns true when something had to change.
func (r *ActiveTimerRecord) Repair() bool {
	if r.Validate() == nil {
		return false
	}
	*r = ActiveTimerRecord{}
	return true
}
