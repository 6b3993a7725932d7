package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WITHDRAW STUDENT COMMAND
// Archives a membership. Progress rows and the coin ledger are retained,
// the student simply stops being able to record new completions.
// ══════════════════════════════════════════════════════════════════════════════

// WithdrawStudentCommand contains the data to withdraw a student.
type WithdrawStudentCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// CohortID identifies the cohort to withdraw from.
	CohortID uuid.UUID

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c WithdrawStudentCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "WithdrawStudent", shared.ErrInvalidID, "student_id is required")
	}
	if c.CohortID == uuid.Nil {
		return shared.NewDomainError("command", "WithdrawStudent", shared.ErrInvalidID, "cohort_id is required")
	}
	return nil
}

// WithdrawStudentHandler handles the WithdrawStudentCommand.
type WithdrawStudentHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewWithdrawStudentHandler creates a new WithdrawStudentHandler.
func NewWithdrawStudentHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *WithdrawStudentHandler {
	return &WithdrawStudentHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("withdraw_student")),
	}
}

// Handle executes the withdrawal.
func (h *WithdrawStudentHandler) Handle(ctx context.Context, cmd WithdrawStudentCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		enr, err := repos.Enrollments.GetByStudentAndCohort(ctx, cmd.StudentID, cmd.CohortID)
		if err != nil {
			return fmt.Errorf("withdraw_student: load enrollment: %w", err)
		}
		if err := enr.Withdraw(); err != nil {
			return err
		}
		return repos.Enrollments.Update(ctx, enr)
	})
	if err != nil {
		return err
	}

	h.log.Info("student withdrawn",
		logger.StudentID(cmd.StudentID.String()),
		logger.CohortID(cmd.CohortID.String()),
	)

	event := shared.NewStudentWithdrawnEvent(cmd.StudentID.String(), cmd.CohortID.String())
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	_ = h.publisher.Publish(event)

	return nil
}
