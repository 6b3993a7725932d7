package progress

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

func newTestRecord(t *testing.T) *CompletionRecord {
	t.Helper()

	unit, err := shared.NewUnitRef(shared.UnitTopic, uuid.New())
	require.NoError(t, err)

	student := shared.StudentID(uuid.New())
	rec, err := NewCompletionRecord(uuid.New(), student, unit)
	require.NoError(t, err)
	return rec
}

func TestCompletionRecord_StateMachine(t *testing.T) {
	rec := newTestRecord(t)

	// Fresh record with a time gate: in progress.
	assert.Equal(t, StateInProgress, rec.State(60))

	// Time gate satisfied: eligible.
	rec.AddTimeSpent(60)
	assert.Equal(t, StateEligible, rec.State(60))

	// No time gate at all: immediately eligible.
	assert.Equal(t, StateEligible, newTestRecord(t).State(0))

	// Completion is terminal.
	require.NoError(t, rec.Complete(nil))
	assert.Equal(t, StateCompleted, rec.State(60))
	assert.True(t, rec.CompletionPercentage.IsComplete())
}

func TestCompletionRecord_CompleteIsTerminal(t *testing.T) {
	rec := newTestRecord(t)
	require.NoError(t, rec.Complete(map[string]interface{}{"score": 95}))

	firstStamp := *rec.CompletedAt

	err := rec.Complete(nil)
	assert.ErrorIs(t, err, shared.ErrAlreadyCompleted)
	assert.Equal(t, firstStamp, *rec.CompletedAt)
	assert.Equal(t, 95, rec.CompletionData["score"])
}

func TestCompletionRecord_PercentageIsMonotonic(t *testing.T) {
	rec := newTestRecord(t)

	rec.UpdatePercentage(shared.NewPercentage(40))
	assert.InDelta(t, 40, rec.CompletionPercentage.Float64(), 0.001)

	// A stale lower value never regresses progress.
	rec.UpdatePercentage(shared.NewPercentage(25))
	assert.InDelta(t, 40, rec.CompletionPercentage.Float64(), 0.001)

	rec.UpdatePercentage(shared.NewPercentage(75.555))
	assert.InDelta(t, 75.56, rec.CompletionPercentage.Float64(), 0.001)

	// Pinned at 100 after completion.
	require.NoError(t, rec.Complete(nil))
	rec.UpdatePercentage(shared.NewPercentage(10))
	assert.True(t, rec.CompletionPercentage.IsComplete())
}

func TestCompletionRecord_TimeAccumulation(t *testing.T) {
	rec := newTestRecord(t)

	rec.AddTimeSpent(30)
	rec.AddTimeSpent(45)
	rec.AddTimeSpent(-10)
	assert.Equal(t, 75, rec.TimeSpentSeconds)

	assert.False(t, rec.MeetsMinimumTime(90))
	assert.True(t, rec.MeetsMinimumTime(75))
	assert.True(t, rec.MeetsMinimumTime(0))
}

func TestCompletionRecord_CloneIsIndependent(t *testing.T) {
	rec := newTestRecord(t)
	rec.MergeData(map[string]interface{}{"attempt": 1})

	clone := rec.Clone()
	clone.MergeData(map[string]interface{}{"attempt": 2})

	assert.Equal(t, 1, rec.CompletionData["attempt"])
	assert.Equal(t, 2, clone.CompletionData["attempt"])
}

func TestItemCounts_Percentage(t *testing.T) {
	assert.InDelta(t, 50, ItemCounts{Total: 2, Completed: 1}.Percentage().Float64(), 0.001)
	assert.InDelta(t, 33.33, ItemCounts{Total: 3, Completed: 1}.Percentage().Float64(), 0.001)

	// Nothing required counts as fully complete.
	assert.True(t, ItemCounts{}.Percentage().IsComplete())
}

func TestLessonAggregate_CombinesAllItemGroups(t *testing.T) {
	agg := LessonAggregate{
		Topics:      ItemCounts{Total: 4, Completed: 4},
		Quizzes:     ItemCounts{Total: 1, Completed: 0},
		Assignments: ItemCounts{Total: 1, Completed: 1},
	}

	// 5 of 6 items done.
	assert.InDelta(t, 83.33, agg.Percentage().Float64(), 0.001)
	assert.False(t, agg.Counts().IsComplete())

	agg.Quizzes.Completed = 1
	assert.True(t, agg.Percentage().IsComplete())
}

func TestWeekAggregate_ConvergesRegardlessOfGrouping(t *testing.T) {
	agg := WeekAggregate{
		Modules:     ItemCounts{Total: 3, Completed: 3},
		Quizzes:     ItemCounts{Total: 2, Completed: 2},
		LiveClasses: ItemCounts{Total: 1, Completed: 1},
	}

	assert.True(t, agg.Percentage().IsComplete())
	assert.Equal(t, ItemCounts{Total: 6, Completed: 6}, agg.Counts())
}
