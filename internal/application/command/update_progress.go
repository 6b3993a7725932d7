package command

import (
	"context"
	"fmt"

	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE PROGRESS COMMAND
// Records incremental progress on a started unit. A no-op once the unit
// is completed; the stored percentage only ever moves forward.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateProgressCommand contains incremental progress data.
type UpdateProgressCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Unit identifies the content unit.
	Unit shared.UnitRef

	// Percentage is the raw reported progress, clamped to [0,100].
	Percentage float64

	// TimeSpentSeconds is the time delta to accumulate. Zero is allowed.
	TimeSpentSeconds int

	// Extra is optional unit-specific data merged into the record.
	Extra map[string]interface{}

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c UpdateProgressCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "UpdateProgress", shared.ErrInvalidID, "student_id is required")
	}
	if c.Unit.IsZero() {
		return shared.NewDomainError("command", "UpdateProgress", shared.ErrInvalidID, "unit is required")
	}
	return nil
}

// UpdateProgressResult contains the outcome of the update.
type UpdateProgressResult struct {
	// Record is the updated completion record.
	Record *progress.CompletionRecord

	// Skipped is true when the unit was already completed and the update
	// was ignored.
	Skipped bool
}

// UpdateProgressHandler handles the UpdateProgressCommand.
type UpdateProgressHandler struct {
	uow UnitOfWork
	log *logger.Logger
}

// NewUpdateProgressHandler creates a new UpdateProgressHandler.
func NewUpdateProgressHandler(uow UnitOfWork, log *logger.Logger) *UpdateProgressHandler {
	return &UpdateProgressHandler{
		uow: uow,
		log: log.With(logger.Component("update_progress")),
	}
}

// Handle executes the progress update.
func (h *UpdateProgressHandler) Handle(ctx context.Context, cmd UpdateProgressCommand) (*UpdateProgressResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result UpdateProgressResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		rec, err := repos.Completions.Get(ctx, cmd.StudentID, cmd.Unit)
		if err != nil {
			return fmt.Errorf("update_progress: load record: %w", err)
		}

		if rec.IsCompleted() {
			result.Record = rec
			result.Skipped = true
			return nil
		}

		rec.AddTimeSpent(cmd.TimeSpentSeconds)
		rec.UpdatePercentage(shared.NewPercentage(cmd.Percentage))
		rec.MergeData(cmd.Extra)

		if err := repos.Completions.Update(ctx, rec); err != nil {
			return fmt.Errorf("update_progress: save record: %w", err)
		}

		result.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}
