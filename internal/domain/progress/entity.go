// Package progress models per-student completion state for content units
// and the pure aggregation functions the cascade uses to roll leaf
// completions up into lesson, module, and week percentages.
package progress

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT STATE
// ══════════════════════════════════════════════════════════════════════════════

// UnitState is the lifecycle state of a (student, unit) pair. The state
// machine only moves forward; resets are an explicit administrative
// operation that deletes the record outright.
type UnitState string

const (
	// StateNotStarted - no completion record exists yet.
	StateNotStarted UnitState = "not_started"
	// StateInProgress - record exists, completion preconditions not yet met.
	StateInProgress UnitState = "in_progress"
	// StateEligible - preconditions met, completion not yet requested.
	StateEligible UnitState = "eligible"
	// StateCompleted - terminal. Percentage pinned at 100.
	StateCompleted UnitState = "completed"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION RECORD
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRecord tracks one student's engagement with one content unit.
// At most one record exists per (student, unit); the storage layer enforces
// this with a uniqueness constraint.
//
// Invariant: CompletedAt set implies CompletionPercentage == 100.
type CompletionRecord struct {
	// ID - unique record identifier.
	ID uuid.UUID

	// StudentID - the student this record belongs to.
	StudentID shared.StudentID

	// Unit - the content unit being tracked.
	Unit shared.UnitRef

	// StartedAt - first touch time.
	StartedAt time.Time

	// CompletedAt - terminal completion stamp, nil while in progress.
	CompletedAt *time.Time

	// TimeSpentSeconds - cumulative reported time on the unit.
	TimeSpentSeconds int

	// CompletionPercentage - progress in [0,100], two decimals. Monotonic:
	// it never decreases while the record is uncompleted.
	CompletionPercentage shared.Percentage

	// CompletionData - opaque per-unit payload (answers, scores, notes)
	// merged on each update.
	CompletionData map[string]interface{}

	// CoinsAwarded - coins credited for this unit's first completion.
	CoinsAwarded shared.Coins

	// CreatedAt - record creation time.
	CreatedAt time.Time

	// UpdatedAt - last modification time.
	UpdatedAt time.Time
}

// NewCompletionRecord creates the zeroed first-touch record for a unit.
func NewCompletionRecord(id uuid.UUID, studentID shared.StudentID, unit shared.UnitRef) (*CompletionRecord, error) {
	if id == uuid.Nil {
		return nil, shared.NewDomainError("progress", "NewCompletionRecord", shared.ErrInvalidID, "record id is required")
	}
	if studentID.IsZero() {
		return nil, shared.NewDomainError("progress", "NewCompletionRecord", shared.ErrInvalidID, "student id is required")
	}
	if unit.IsZero() {
		return nil, shared.NewDomainError("progress", "NewCompletionRecord", shared.ErrInvalidID, "unit reference is required")
	}

	now := time.Now().UTC()
	return &CompletionRecord{
		ID:        id,
		StudentID: studentID,
		Unit:      unit,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsCompleted reports whether the record is terminal.
func (r *CompletionRecord) IsCompleted() bool {
	return r.CompletedAt != nil
}

// State derives the lifecycle state given the unit's minimum-time
// requirement in seconds (zero disables the time gate).
func (r *CompletionRecord) State(minTimeSeconds int) UnitState {
	switch {
	case r.IsCompleted():
		return StateCompleted
	case r.MeetsMinimumTime(minTimeSeconds):
		return StateEligible
	default:
		return StateInProgress
	}
}

// MeetsMinimumTime reports whether the accumulated time satisfies the
// unit's minimum-time requirement.
func (r *CompletionRecord) MeetsMinimumTime(minTimeSeconds int) bool {
	return minTimeSeconds <= 0 || r.TimeSpentSeconds >= minTimeSeconds
}

// AddTimeSpent accumulates reported time. Negative deltas are ignored.
func (r *CompletionRecord) AddTimeSpent(seconds int) {
	if seconds <= 0 {
		return
	}
	r.TimeSpentSeconds += seconds
	r.UpdatedAt = time.Now().UTC()
}

// UpdatePercentage records new progress. No-op once completed; while
// uncompleted the stored percentage only moves forward, so a stale or
// out-of-order update can never regress visible progress.
func (r *CompletionRecord) UpdatePercentage(p shared.Percentage) {
	if r.IsCompleted() {
		return
	}
	if p <= r.CompletionPercentage {
		return
	}
	r.CompletionPercentage = p
	r.UpdatedAt = time.Now().UTC()
}

// SetAggregatePercentage stores a recomputed aggregate value as-is.
// Cascade-managed records hold pure functions of child state, which may
// legitimately move down after an administrative reset below them. No-op
// once completed.
func (r *CompletionRecord) SetAggregatePercentage(p shared.Percentage) {
	if r.IsCompleted() {
		return
	}
	r.CompletionPercentage = p
	r.UpdatedAt = time.Now().UTC()
}

// MergeData folds extra completion data into the record's payload.
func (r *CompletionRecord) MergeData(extra map[string]interface{}) {
	if len(extra) == 0 {
		return
	}
	if r.CompletionData == nil {
		r.CompletionData = make(map[string]interface{}, len(extra))
	}
	for k, v := range extra {
		r.CompletionData[k] = v
	}
	r.UpdatedAt = time.Now().UTC()
}

// Complete stamps the record as terminal, pins the percentage at 100, and
// merges the final completion data. Returns ErrAlreadyCompleted if the
// record is already terminal; callers needing a race-safe first-completion
// decision must go through the repository's atomic MarkCompleted instead.
func (r *CompletionRecord) Complete(data map[string]interface{}) error {
	if r.IsCompleted() {
		return shared.ErrAlreadyCompleted
	}

	now := time.Now().UTC()
	r.MergeData(data)
	r.CompletionPercentage = shared.PercentageComplete
	r.CompletedAt = &now
	r.UpdatedAt = now
	return nil
}

// String returns a compact representation for logging.
func (r *CompletionRecord) String() string {
	return fmt.Sprintf("CompletionRecord{Student: %s, Unit: %s, Pct: %s, Completed: %t}",
		r.StudentID, r.Unit, r.CompletionPercentage, r.IsCompleted())
}

// Clone returns a shallow copy with its own completion-data map.
func (r *CompletionRecord) Clone() *CompletionRecord {
	if r == nil {
		return nil
	}

	clone := *r
	if r.CompletionData != nil {
		clone.CompletionData = make(map[string]interface{}, len(r.CompletionData))
		for k, v := range r.CompletionData {
			clone.CompletionData[k] = v
		}
	}
	return &clone
}
