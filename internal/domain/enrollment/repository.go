package enrollment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for enrollments.
type Repository interface {
	// Create persists a new enrollment.
	// Returns shared.ErrEnrollmentExists when the (student, cohort) pair
	// is already enrolled.
	Create(ctx context.Context, e *Enrollment) error

	// GetByID returns an enrollment by ID.
	// Returns shared.ErrEnrollmentNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error)

	// GetByStudentAndCohort returns the enrollment for a (student, cohort) pair.
	// Returns shared.ErrEnrollmentNotFound when missing.
	GetByStudentAndCohort(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) (*Enrollment, error)

	// Update persists enrollment state changes.
	Update(ctx context.Context, e *Enrollment) error

	// ListByCohort returns all enrollments for a cohort.
	ListByCohort(ctx context.Context, cohortID uuid.UUID) ([]*Enrollment, error)

	// ListByStudent returns all enrollments of a student.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*Enrollment, error)
}

// WeekProgressRepository defines storage operations for per-week progress rows.
type WeekProgressRepository interface {
	// CreateBatch persists the pre-created progress rows for a new
	// enrollment in a single statement.
	CreateBatch(ctx context.Context, rows []*WeekProgress) error

	// Get returns the progress row for a (student, week) pair.
	// Returns shared.ErrWeekProgressNotFound when missing.
	Get(ctx context.Context, studentID shared.StudentID, weekID uuid.UUID) (*WeekProgress, error)

	// GetByNumber returns the progress row for a (student, cohort, week
	// number) triple. Returns shared.ErrWeekProgressNotFound when missing.
	GetByNumber(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, weekNumber int) (*WeekProgress, error)

	// Update persists percentage, unlock, and completion changes.
	Update(ctx context.Context, wp *WeekProgress) error

	// ListByStudent returns all progress rows for a student in a cohort,
	// ordered by week number.
	ListByStudent(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) ([]*WeekProgress, error)

	// MarkWeekCompleted stamps completed_at and pins the percentage at 100
	// only if the row is not already completed. Returns true when this call
	// performed the stamp, false when another writer got there first. The
	// check and the write must be one atomic statement.
	MarkWeekCompleted(ctx context.Context, studentID shared.StudentID, weekID uuid.UUID) (bool, error)

	// CountCompletedByCohort returns how many weeks the student has
	// completed within the cohort.
	CountCompletedByCohort(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) (int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCache defines caching operations for per-student week progress.
type ProgressCache interface {
	// GetWeekProgress returns the cached progress rows for a (student,
	// cohort) pair or shared.ErrNotFound on a miss.
	GetWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) ([]*WeekProgress, error)

	// SetWeekProgress stores the progress rows with the given TTL.
	SetWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, rows []*WeekProgress, ttl time.Duration) error

	// InvalidateWeekProgress drops the cached rows after any progress write.
	InvalidateWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) error

	// InvalidateStudent drops every cached cohort for the student. Used
	// when an event does not carry the cohort.
	InvalidateStudent(ctx context.Context, studentID shared.StudentID) error
}
