// Package timeutil provides UTC calendar arithmetic for the progression
// engine. Drip scheduling and completion timestamps are cohort-global, so
// everything here operates on whole UTC days.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// StartOfDay returns the start of the day (00:00:00) in UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Date creates a UTC time with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)).Hours() / 24)
}

// DripDate returns the first instant at which content gated by dripDays
// becomes available, counted from the cohort start date.
func DripDate(cohortStart time.Time, dripDays int) time.Time {
	return StartOfDay(cohortStart).AddDate(0, 0, dripDays)
}

// HasDripElapsed reports whether the drip offset has elapsed at the given
// moment. A dripDays of zero always elapses.
func HasDripElapsed(cohortStart time.Time, dripDays int, now time.Time) bool {
	if dripDays <= 0 {
		return true
	}
	return !now.UTC().Before(DripDate(cohortStart, dripDays))
}

// FormatDate formats a time as a YYYY-MM-DD date string in UTC.
func FormatDate(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%04d-%02d-%02d", u.Year(), int(u.Month()), u.Day())
}

// HumanizeDays renders a day count for requirement summaries
// ("today", "1 day", "3 days").
func HumanizeDays(days int) string {
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", days)
	}
}
