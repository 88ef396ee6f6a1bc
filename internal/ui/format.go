package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/davidchanminpark/time-my-life/internal/schema"
)

// FormatClock renders d as H:MM:SS, the running-timer display.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// FormatDuration renders d compactly for totals: "2h 05m", "45m", "30s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDay resolves a day argument relative to now: empty means today,
// YYYY-MM-DD is taken literally, anything else ("yesterday", "last friday")
// goes through natural-language parsing. The result is midnight in loc.
func ParseDay(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "today":
		return schema.StartOfDay(now, loc), nil
	}

	if t, err := schema.ParseDay(s, loc); err == nil {
		return t, nil
	}

	r, err := parser.Parse(s, now.In(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse day %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized day %q (use YYYY-MM-DD, today, yesterday, ...)", s)
	}
	return schema.StartOfDay(r.Time, loc), nil
}

// ParseWeekdays parses a schedule such as "mon,wed,fri", "weekdays" or
// "1,3,5" into 1 (Sunday) to 7 (Saturday) day numbers.
func ParseWeekdays(s string) ([]int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "daily", "all", "everyday":
		return []int{1, 2, 3, 4, 5, 6, 7}, nil
	case "weekdays":
		return []int{2, 3, 4, 5, 6}, nil
	case "weekends":
		return []int{1, 7}, nil
	}

	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, ok := weekdayNumbers[part]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, d)
	}
	return schema.NormalizeDays(days), nil
}

// FormatWeekdays renders day numbers as "Mon Wed Fri".
func FormatWeekdays(days []int) string {
	if len(days) == 7 {
		return "daily"
	}
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 1 && d <= 7 {
			names = append(names, time.Weekday(d - 1).String()[:3])
		}
	}
	return strings.Join(names, " ")
}

var weekdayNumbers = map[string]int{
	"1": 1, "sun": 1, "sunday": 1,
	"2": 2, "mon": 2, "monday": 2,
	"3": 3, "tue": 3, "tuesday": 3,
	"4": 4, "wed": 4, "wednesday": 4,
	"5": 5, "thu": 5, "thursday": 5,
	"6": 6, "fri": 6, "friday": 6,
	"7": 7, "sat": 7, "saturday": 7,
}
