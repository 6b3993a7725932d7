package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysBetween(t *testing.T) {
	a := Date(2024, 5, 10)
	assert.Equal(t, 0, DaysBetween(a, a))
	assert.Equal(t, 1, DaysBetween(a, Date(2024, 5, 11)))
	assert.Equal(t, 3, DaysBetween(a, Date(2024, 5, 13)))
	assert.Equal(t, -2, DaysBetween(a, Date(2024, 5, 8)))

	// Time-of-day must not matter.
	late := time.Date(2024, 5, 10, 23, 59, 0, 0, time.UTC)
	early := time.Date(2024, 5, 11, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysBetween(late, early))
}

func TestHasDripElapsed(t *testing.T) {
	start := Date(2024, 5, 10)

	assert.False(t, HasDripElapsed(start, 3, Date(2024, 5, 11)))
	assert.False(t, HasDripElapsed(start, 3, time.Date(2024, 5, 12, 23, 59, 59, 0, time.UTC)))
	assert.True(t, HasDripElapsed(start, 3, Date(2024, 5, 13)))
	assert.True(t, HasDripElapsed(start, 3, Date(2024, 6, 1)))

	// Zero drip days is never a gate.
	assert.True(t, HasDripElapsed(start, 0, Date(2024, 5, 9)))
}

func TestDripDate(t *testing.T) {
	start := time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, Date(2024, 5, 13), DripDate(start, 3))
}

func TestHumanizeDays(t *testing.T) {
	assert.Equal(t, "today", HumanizeDays(0))
	assert.Equal(t, "1 day", HumanizeDays(1))
	assert.Equal(t, "5 days", HumanizeDays(5))
}
