package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// START UNIT COMMAND
// Idempotent first touch: creates a zeroed completion record if none
// exists, otherwise returns the existing one unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// StartUnitCommand contains the data to start a content unit.
type StartUnitCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Unit identifies the content unit being started.
	Unit shared.UnitRef

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c StartUnitCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "StartUnit", shared.ErrInvalidID, "student_id is required")
	}
	if c.Unit.IsZero() {
		return shared.NewDomainError("command", "StartUnit", shared.ErrInvalidID, "unit is required")
	}
	return nil
}

// StartUnitResult contains the outcome of starting a unit.
type StartUnitResult struct {
	// Record is the (possibly pre-existing) completion record.
	Record *progress.CompletionRecord

	// AlreadyStarted is true when the record existed before this call.
	AlreadyStarted bool
}

// StartUnitHandler handles the StartUnitCommand.
type StartUnitHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewStartUnitHandler creates a new StartUnitHandler.
func NewStartUnitHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *StartUnitHandler {
	return &StartUnitHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("start_unit")),
	}
}

// Handle executes the first touch.
func (h *StartUnitHandler) Handle(ctx context.Context, cmd StartUnitCommand) (*StartUnitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result StartUnitResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		chain, err := resolveChain(ctx, repos, cmd.Unit)
		if err != nil {
			return fmt.Errorf("start_unit: resolve chain: %w", err)
		}
		if _, err := requireAccess(ctx, repos, cmd.StudentID, chain); err != nil {
			return err
		}

		rec, err := progress.NewCompletionRecord(uuid.New(), cmd.StudentID, cmd.Unit)
		if err != nil {
			return err
		}

		if err := repos.Completions.Create(ctx, rec); err != nil {
			if !errors.Is(err, shared.ErrAlreadyExists) {
				return fmt.Errorf("start_unit: create record: %w", err)
			}

			existing, getErr := repos.Completions.Get(ctx, cmd.StudentID, cmd.Unit)
			if getErr != nil {
				return fmt.Errorf("start_unit: load existing record: %w", getErr)
			}
			result.Record = existing
			result.AlreadyStarted = true
			return nil
		}

		result.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyStarted {
		h.log.Debug("unit started",
			logger.StudentID(cmd.StudentID.String()),
			logger.UnitKind(string(cmd.Unit.Kind)),
			logger.UnitID(cmd.Unit.ID.String()),
		)

		event := shared.NewUnitStartedEvent(cmd.StudentID.String(), cmd.Unit)
		event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
		_ = h.publisher.Publish(event)
	}

	return &result, nil
}
