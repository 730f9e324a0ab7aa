package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return hour*60 + minute, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsInQuietHours reports whether t falls inside the window, compared by
// minute of day in the window's timezone. When start <= end the window is
// same-day and inclusive at both ends; otherwise it wraps past midnight.
// A window with a missing or malformed bound is never active.
func IsInQuietHours(t time.Time, qh QuietHours) bool {
	if qh.Start == "" || qh.End == "" {
		return false
	}
	start, err := ParseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(qh.End)
	if err != nil {
		return false
	}

	m := minuteOfDay(t.In(loadLocation(qh.Timezone)))
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

// IsWorkingTime reports whether t is on a working day and within working
// hours (start inclusive, end exclusive) in the user's timezone.
func IsWorkingTime(t time.Time, prefs *Preferences) bool {
	local := t.In(prefs.Location())

	workday := false
	for _, d := range prefs.WorkingDays {
		if d == local.Weekday() {
			workday = true
			break
		}
	}
	if !workday {
		return false
	}

	start, err := ParseClock(prefs.WorkingHours.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(prefs.WorkingHours.End)
	if err != nil {
		return false
	}
	m := minuteOfDay(local)
	return m >= start && m < end
}

// OptimalDeliveryTime computes when a permitted notification should be sent.
//
// Urgent notifications go out now. An immediate-frequency user inside working
// time also gets now. Otherwise hourly adds an hour, daily moves to tomorrow
// at the start of working hours and weekly to the same weekday next week at
// the start of working hours. Anything else is delivered now.
func OptimalDeliveryTime(now time.Time, priority Priority, prefs *Preferences) time.Time {
	if Priority(strings.ToLower(string(priority))) == PriorityUrgent {
		return now
	}
	if prefs == nil {
		return now
	}
	if prefs.Frequency == FrequencyImmediate && IsWorkingTime(now, prefs) {
		return now
	}

	switch prefs.Frequency {
	case FrequencyHourly:
		return now.Add(time.Hour)
	case FrequencyDaily:
		return atWorkStart(now, 1, prefs)
	case FrequencyWeekly:
		return atWorkStart(now, 7, prefs)
	default:
		return now
	}
}

// atWorkStart returns the start of working hours days after now's local date.
func atWorkStart(now time.Time, days int, prefs *Preferences) time.Time {
	loc := prefs.Location()
	local := now.In(loc)
	start, err := ParseClock(prefs.WorkingHours.Start)
	if err != nil {
		start = 9 * 60
	}
	y, m, d := local.Date()
	return time.Date(y, m, d+days, start/60, start%60, 0, 0, loc)
}
