package progress

import (
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATION CALCULATORS
// Pure functions over current child state. The cascade recomputes each
// level from scratch instead of applying increments, so concurrent
// recalculations converge to the same value no matter how they interleave.
// ══════════════════════════════════════════════════════════════════════════════

// ItemCounts pairs a required-item total with how many of them the student
// has completed.
type ItemCounts struct {
	Total     int
	Completed int
}

// Add folds another count pair into this one.
func (c ItemCounts) Add(other ItemCounts) ItemCounts {
	return ItemCounts{
		Total:     c.Total + other.Total,
		Completed: c.Completed + other.Completed,
	}
}

// Percentage derives the completion percentage of this count pair.
// Nothing required counts as fully complete.
func (c ItemCounts) Percentage() shared.Percentage {
	return shared.ComputePercentage(c.Completed, c.Total)
}

// IsComplete reports whether every required item is completed.
func (c ItemCounts) IsComplete() bool {
	return c.Completed >= c.Total
}

// LessonAggregate combines a lesson's required item groups: its topics
// plus any embedded quiz, assignment, and live-class blocks.
type LessonAggregate struct {
	Topics      ItemCounts
	Quizzes     ItemCounts
	Assignments ItemCounts
	LiveClasses ItemCounts
}

// Counts returns the combined item counts of the lesson.
func (a LessonAggregate) Counts() ItemCounts {
	return a.Topics.Add(a.Quizzes).Add(a.Assignments).Add(a.LiveClasses)
}

// Percentage derives the lesson's completion percentage.
func (a LessonAggregate) Percentage() shared.Percentage {
	return a.Counts().Percentage()
}

// WeekAggregate combines a week's required item groups: its modules plus
// week-scoped quizzes, assignments, and live classes.
type WeekAggregate struct {
	Modules     ItemCounts
	Quizzes     ItemCounts
	Assignments ItemCounts
	LiveClasses ItemCounts
}

// Counts returns the combined item counts of the week.
func (a WeekAggregate) Counts() ItemCounts {
	return a.Modules.Add(a.Quizzes).Add(a.Assignments).Add(a.LiveClasses)
}

// Percentage derives the week's completion percentage.
func (a WeekAggregate) Percentage() shared.Percentage {
	return a.Counts().Percentage()
}

// ModulePercentage derives a module's completion percentage from its
// lesson counts. Modules have no embedded evidence blocks of their own.
func ModulePercentage(lessons ItemCounts) shared.Percentage {
	return lessons.Percentage()
}
