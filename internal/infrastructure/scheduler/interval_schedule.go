package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job at a fixed spacing measured from the end of
// the previous run. The drip unlock sweep uses this form: it wants
// "roughly every N minutes" and does not care about calendar alignment
// the way the reconciliation cron does.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates an interval schedule. Intervals below one
// second are raised to one second so a misconfigured sweep cannot spin.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval < time.Second {
		interval = time.Second
	}
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the instant one interval after t.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String renders the schedule in the "@every 15m0s" form used in job logs.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}
