// Package enrollment models a student's membership in a cohort and the
// per-week progress rows that membership owns.
package enrollment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status defines a student's standing within a cohort.
type Status string

const (
	// StatusActive - student is progressing through the cohort.
	StatusActive Status = "active"
	// StatusCompleted - student finished every week of the cohort.
	StatusCompleted Status = "completed"
	// StatusDropped - student withdrew from the cohort.
	StatusDropped Status = "dropped"
	// StatusSuspended - student is temporarily barred from progressing.
	StatusSuspended Status = "suspended"
)

// IsValid reports whether the status is a known enrollment status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusDropped, StatusSuspended:
		return true
	default:
		return false
	}
}

// CanProgress reports whether the student may record new completions.
func (s Status) CanProgress() bool {
	return s == StatusActive
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

// Enrollment is the (student, cohort) membership record. It owns every
// per-week progress row for that student in that cohort. Exactly one
// enrollment may exist per (student, cohort) pair.
type Enrollment struct {
	// ID - unique enrollment identifier.
	ID uuid.UUID

	// StudentID - the enrolled student.
	StudentID shared.StudentID

	// CohortID - the cohort enrolled into.
	CohortID uuid.UUID

	// Status - current standing.
	Status Status

	// EnrolledAt - when the student joined.
	EnrolledAt time.Time

	// CompletedAt - set when every week of the cohort is completed.
	CompletedAt *time.Time

	// WithdrawnAt - set when the student drops out.
	WithdrawnAt *time.Time

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// NewEnrollment creates an active enrollment for a student in a cohort.
func NewEnrollment(id uuid.UUID, studentID shared.StudentID, cohortID uuid.UUID) (*Enrollment, error) {
	if id == uuid.Nil {
		return nil, shared.NewDomainError("enrollment", "NewEnrollment", shared.ErrInvalidID, "enrollment id is required")
	}
	if studentID.IsZero() {
		return nil, shared.NewDomainError("enrollment", "NewEnrollment", shared.ErrInvalidID, "student id is required")
	}
	if cohortID == uuid.Nil {
		return nil, shared.NewDomainError("enrollment", "NewEnrollment", shared.ErrInvalidID, "cohort id is required")
	}

	now := time.Now().UTC()
	return &Enrollment{
		ID:         id,
		StudentID:  studentID,
		CohortID:   cohortID,
		Status:     StatusActive,
		EnrolledAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// MarkCompleted flips the enrollment to completed.
func (e *Enrollment) MarkCompleted() error {
	if e.Status != StatusActive {
		return shared.NewDomainError("enrollment", "MarkCompleted", shared.ErrStateTransition,
			fmt.Sprintf("cannot complete enrollment in status %q", e.Status))
	}

	now := time.Now().UTC()
	e.Status = StatusCompleted
	e.CompletedAt = &now
	e.UpdatedAt = now
	return nil
}

// Withdraw marks the student as dropped.
func (e *Enrollment) Withdraw() error {
	if e.Status == StatusDropped {
		return shared.NewDomainError("enrollment", "Withdraw", shared.ErrStateTransition, "enrollment already withdrawn")
	}

	now := time.Now().UTC()
	e.Status = StatusDropped
	e.WithdrawnAt = &now
	e.UpdatedAt = now
	return nil
}

// Suspend temporarily bars the student from progressing.
func (e *Enrollment) Suspend() error {
	if e.Status != StatusActive {
		return shared.NewDomainError("enrollment", "Suspend", shared.ErrStateTransition,
			fmt.Sprintf("cannot suspend enrollment in status %q", e.Status))
	}

	e.Status = StatusSuspended
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Reinstate returns a suspended student to active standing.
func (e *Enrollment) Reinstate() error {
	if e.Status != StatusSuspended {
		return shared.NewDomainError("enrollment", "Reinstate", shared.ErrStateTransition, "can only reinstate suspended enrollments")
	}

	e.Status = StatusActive
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// String returns a compact representation for logging.
func (e *Enrollment) String() string {
	return fmt.Sprintf("Enrollment{ID: %s, Student: %s, Cohort: %s, Status: %s}",
		e.ID, e.StudentID, e.CohortID, e.Status)
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// WeekProgress is the per-(student, week) progress row. Every week row is
// pre-created at enrollment with only week 1 unlocked, and is never deleted
// while the enrollment exists. The cascade mutates the percentage and
// completed stamp; the unlock evaluator flips the unlocked flag.
type WeekProgress struct {
	// ID - unique row identifier.
	ID uuid.UUID

	// EnrollmentID - owning enrollment.
	EnrollmentID uuid.UUID

	// StudentID - denormalized for direct lookups.
	StudentID shared.StudentID

	// CohortID - denormalized for direct lookups.
	CohortID uuid.UUID

	// WeekID - the curriculum week this row tracks.
	WeekID uuid.UUID

	// WeekNumber - the week's 1-based position, denormalized for ordering.
	WeekNumber int

	// CompletionPercentage - aggregate completion in [0,100], two decimals.
	CompletionPercentage shared.Percentage

	// IsUnlocked - whether the student may access this week's content.
	IsUnlocked bool

	// UnlockedAt - when the week was unlocked.
	UnlockedAt *time.Time

	// CompletedAt - when the aggregate reached 100.
	CompletedAt *time.Time

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// NewWeekProgress creates a locked, zero-percent progress row. The first
// week of a cohort is unlocked explicitly via Unlock at enrollment time.
func NewWeekProgress(id, enrollmentID uuid.UUID, studentID shared.StudentID, cohortID, weekID uuid.UUID, weekNumber int) (*WeekProgress, error) {
	if weekNumber < 1 {
		return nil, shared.NewDomainError("enrollment", "NewWeekProgress", shared.ErrValidation, "week number must be positive")
	}

	now := time.Now().UTC()
	return &WeekProgress{
		ID:           id,
		EnrollmentID: enrollmentID,
		StudentID:    studentID,
		CohortID:     cohortID,
		WeekID:       weekID,
		WeekNumber:   weekNumber,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsCompleted reports whether the week carries a completion stamp.
func (w *WeekProgress) IsCompleted() bool {
	return w.CompletedAt != nil
}

// Unlock flips the row to unlocked. Idempotent: unlocking an already
// unlocked week leaves it unchanged.
func (w *WeekProgress) Unlock() {
	if w.IsUnlocked {
		return
	}

	now := time.Now().UTC()
	w.IsUnlocked = true
	w.UnlockedAt = &now
	w.UpdatedAt = now
}

// SetPercentage records a freshly recomputed aggregate. Once the week is
// completed the percentage stays pinned at 100.
func (w *WeekProgress) SetPercentage(p shared.Percentage) {
	if w.IsCompleted() {
		return
	}

	w.CompletionPercentage = p
	w.UpdatedAt = time.Now().UTC()
}

// MarkCompleted stamps the week as done and pins the percentage at 100.
// Idempotent: a second call leaves the original stamp intact.
func (w *WeekProgress) MarkCompleted() {
	if w.IsCompleted() {
		return
	}

	now := time.Now().UTC()
	w.CompletionPercentage = shared.PercentageComplete
	w.CompletedAt = &now
	w.UpdatedAt = now
}
