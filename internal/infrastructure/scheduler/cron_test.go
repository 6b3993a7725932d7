package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression_Valid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"wildcard", "* * * * *"},
		{"step", "*/15 * * * *"},
		{"daily at 4am", "0 4 * * *"},
		{"range", "0 9-17 * * *"},
		{"list", "0 0,12 * * *"},
		{"weekday", "0 0 * * 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestParseCronExpression_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"too few fields", "* * * *"},
		{"too many fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "0 24 * * *"},
		{"not a number", "x * * * *"},
		{"zero step", "*/0 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCronExpression(tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestCronExpression_NextDailyAt4AM(t *testing.T) {
	ce := MustParseCronExpression(EveryDay4AM)

	// Before 04:00 the run lands on the same day.
	after := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC), ce.Next(after))

	// After 04:00 it rolls over to the next day.
	after = time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC), ce.Next(after))
}

func TestCronExpression_NextEvery15Minutes(t *testing.T) {
	ce := MustParseCronExpression(Every15Minutes)

	after := time.Date(2026, 3, 10, 10, 7, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC), ce.Next(after))

	// A match on an exact boundary advances to the next slot, not itself.
	after = time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC), ce.Next(after))
}

func TestCronExpression_NextWeekday(t *testing.T) {
	// Sundays at midnight. March 10 2026 is a Tuesday.
	ce := MustParseCronExpression("0 0 * * 0")

	after := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := ce.Next(after)

	assert.Equal(t, time.Weekday(0), next.Weekday())
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), next)
}

func TestMustParseCronExpression_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustParseCronExpression("not a cron")
	})
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(15 * time.Minute)

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(15*time.Minute), s.Next(now))
	assert.Equal(t, "@every 15m0s", s.String())
}

func TestIntervalSchedule_FlooredAtOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, NewIntervalSchedule(0).Interval)
	assert.Equal(t, time.Second, NewIntervalSchedule(-time.Minute).Interval)
	assert.Equal(t, 5*time.Second, NewIntervalSchedule(5*time.Second).Interval)
}
