package progress

import (
	"context"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for completion records.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Record lifecycle
	// ─────────────────────────────────────────────────────────────────────────

	// Create persists a first-touch record.
	// Returns shared.ErrAlreadyExists when a record for the (student, unit)
	// pair already exists.
	Create(ctx context.Context, rec *CompletionRecord) error

	// Get returns the record for a (student, unit) pair.
	// Returns shared.ErrCompletionNotFound when missing.
	Get(ctx context.Context, studentID shared.StudentID, unit shared.UnitRef) (*CompletionRecord, error)

	// Update persists time, percentage, and data changes.
	Update(ctx context.Context, rec *CompletionRecord) error

	// MarkCompleted stamps completed_at, pins the percentage at 100, merges
	// data, and records the awarded coins, but only if the record is not
	// already completed. Returns true when this call won the first
	// completion, false when another writer already completed the unit.
	// The check and the write must be one atomic statement; this is the
	// race guard behind at-most-one reward per unit.
	MarkCompleted(ctx context.Context, rec *CompletionRecord) (bool, error)

	// Delete removes the record outright. Administrative resets only.
	// Returns shared.ErrCompletionNotFound when missing.
	Delete(ctx context.Context, studentID shared.StudentID, unit shared.UnitRef) error

	// ─────────────────────────────────────────────────────────────────────────
	// Aggregate counts
	// ─────────────────────────────────────────────────────────────────────────

	// CountCompletedTopics counts the student's completed topics within a lesson.
	CountCompletedTopics(ctx context.Context, studentID shared.StudentID, lessonID uuid.UUID) (int, error)

	// CountCompletedLessons counts the student's completed lessons within a module.
	CountCompletedLessons(ctx context.Context, studentID shared.StudentID, moduleID uuid.UUID) (int, error)

	// CountCompletedModules counts the student's completed modules within a week.
	CountCompletedModules(ctx context.Context, studentID shared.StudentID, weekID uuid.UUID) (int, error)

	// CountCompletedByKind counts the student's completed units of a kind
	// across a cohort, optionally scoped to one week number (zero means
	// cohort-wide). Backs the unlock evaluator's completion requirements.
	CountCompletedByKind(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, kind shared.UnitKind, weekNumber int) (int, error)

	// ListByStudent returns all of a student's records for units under the
	// given cohort, most recent first.
	ListByStudent(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, limit int) ([]*CompletionRecord, error)
}

// EvidenceKind identifies an externally graded activity type.
type EvidenceKind string

const (
	// EvidenceQuiz - a passed quiz attempt.
	EvidenceQuiz EvidenceKind = "quiz"
	// EvidenceAssignment - an approved assignment submission.
	EvidenceAssignment EvidenceKind = "assignment"
	// EvidenceLiveClass - a recorded live-session attendance.
	EvidenceLiveClass EvidenceKind = "live_class"
)

// EvidenceRepository provides read-only counts over externally graded
// activity: quiz attempts, assignment reviews, and live attendance are
// written by their own collaborators; the engine only counts them.
type EvidenceRepository interface {
	// CountPassed counts the student's passed/approved/attended items
	// among the given evidence IDs.
	CountPassed(ctx context.Context, studentID shared.StudentID, kind EvidenceKind, ids []uuid.UUID) (int, error)

	// CountPassedByWeek counts the student's passed items of a kind across
	// a cohort, optionally scoped to one week number (zero means
	// cohort-wide). Backs the unlock evaluator's completion requirements.
	CountPassedByWeek(ctx context.Context, studentID shared.StudentID, kind EvidenceKind, cohortID uuid.UUID, weekNumber int) (int, error)
}
