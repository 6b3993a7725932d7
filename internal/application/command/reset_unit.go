package command

import (
	"context"
	"fmt"

	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET UNIT COMMAND
// The only backward transition in the system, and it is administrative:
// the completion record is deleted outright so the student can redo the
// unit. Earned coins are deliberately kept; the ledger is append-only and
// the per-source idempotency guard prevents a second reward on redo.
// ══════════════════════════════════════════════════════════════════════════════

// ResetUnitCommand contains the data to reset a student's unit.
type ResetUnitCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Unit identifies the content unit to reset.
	Unit shared.UnitRef

	// Reason is recorded in the operational log.
	Reason string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ResetUnitCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "ResetUnit", shared.ErrInvalidID, "student_id is required")
	}
	if c.Unit.IsZero() {
		return shared.NewDomainError("command", "ResetUnit", shared.ErrInvalidID, "unit is required")
	}
	if c.Reason == "" {
		return shared.NewDomainError("command", "ResetUnit", shared.ErrEmptyValue, "reason is required")
	}
	return nil
}

// ResetUnitHandler handles the ResetUnitCommand.
type ResetUnitHandler struct {
	uow       UnitOfWork
	cascade   CascadeRunner
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewResetUnitHandler creates a new ResetUnitHandler.
func NewResetUnitHandler(uow UnitOfWork, cascade CascadeRunner, publisher shared.EventPublisher, log *logger.Logger) *ResetUnitHandler {
	return &ResetUnitHandler{
		uow:       uow,
		cascade:   cascade,
		publisher: publisher,
		log:       log.With(logger.Component("reset_unit")),
	}
}

// Handle executes the reset and recomputes the affected aggregates.
func (h *ResetUnitHandler) Handle(ctx context.Context, cmd ResetUnitCommand) (CascadeOutcome, error) {
	if err := cmd.Validate(); err != nil {
		return CascadeOutcome{}, err
	}

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		if err := repos.Completions.Delete(ctx, cmd.StudentID, cmd.Unit); err != nil {
			return fmt.Errorf("reset_unit: delete record: %w", err)
		}
		return nil
	})
	if err != nil {
		return CascadeOutcome{}, err
	}

	h.log.Warn("unit reset",
		logger.StudentID(cmd.StudentID.String()),
		logger.UnitKind(string(cmd.Unit.Kind)),
		logger.UnitID(cmd.Unit.ID.String()),
		logger.String("reason", cmd.Reason),
	)

	event := shared.NewUnitResetEvent(cmd.StudentID.String(), cmd.Unit)
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	_ = h.publisher.Publish(event)

	// Aggregates above the deleted record are stale; recompute them the
	// same best-effort way a completion does.
	outcome := h.cascade.Run(ctx, cmd.StudentID, cmd.Unit)
	if outcome.Failed() {
		h.log.Warn("cascade degraded after reset",
			logger.StudentID(cmd.StudentID.String()),
			logger.String("failed_step", outcome.FailedStep),
			logger.Err(outcome.Err),
		)
	}
	return outcome, nil
}
