package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY PENALTY / ADJUST BALANCE COMMANDS
// Administrative ledger operations. Penalties clamp the debit to the
// current balance; adjustments are signed deliberate corrections with no
// idempotency contract.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyPenaltyCommand contains the data for an administrative debit.
type ApplyPenaltyCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Amount is the positive intended penalty.
	Amount shared.Coins

	// Reason explains the penalty, stored on the ledger entry.
	Reason string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ApplyPenaltyCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "ApplyPenalty", shared.ErrInvalidID, "student_id is required")
	}
	if !c.Amount.IsPositive() {
		return shared.NewDomainError("command", "ApplyPenalty", shared.ErrInvalidAmount, "amount must be positive")
	}
	if c.Reason == "" {
		return shared.NewDomainError("command", "ApplyPenalty", shared.ErrEmptyValue, "reason is required")
	}
	return nil
}

// ApplyPenaltyResult contains the outcome of a penalty.
type ApplyPenaltyResult struct {
	// Transaction is the ledger entry, nil when the balance was already
	// zero and nothing could be debited.
	Transaction *ledger.Transaction

	// AppliedAmount is the coins actually taken after clamping.
	AppliedAmount shared.Coins
}

// ApplyPenaltyHandler handles the ApplyPenaltyCommand.
type ApplyPenaltyHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewApplyPenaltyHandler creates a new ApplyPenaltyHandler.
func NewApplyPenaltyHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *ApplyPenaltyHandler {
	return &ApplyPenaltyHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("apply_penalty")),
	}
}

// Handle executes the penalty.
func (h *ApplyPenaltyHandler) Handle(ctx context.Context, cmd ApplyPenaltyCommand) (*ApplyPenaltyResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result ApplyPenaltyResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		taken, err := repos.Ledger.ApplyDebitClamped(ctx, cmd.StudentID, cmd.Amount)
		if err != nil {
			return fmt.Errorf("apply_penalty: debit: %w", err)
		}
		result.AppliedAmount = taken
		if taken == 0 {
			return nil
		}

		tx, err := ledger.NewPenalty(uuid.New(), cmd.StudentID, taken, cmd.Amount, cmd.Reason)
		if err != nil {
			return err
		}
		if err := repos.Ledger.Append(ctx, tx); err != nil {
			return fmt.Errorf("apply_penalty: append transaction: %w", err)
		}
		result.Transaction = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("penalty applied",
		logger.StudentID(cmd.StudentID.String()),
		logger.Coins(result.AppliedAmount.Int64()),
		logger.Int64("intended", cmd.Amount.Int64()),
	)

	if result.Transaction != nil {
		event := shared.NewPenaltyAppliedEvent(cmd.StudentID.String(), result.AppliedAmount,
			cmd.Reason, result.Transaction.ID.String())
		event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
		_ = h.publisher.Publish(event)
	}

	return &result, nil
}

// AdjustBalanceCommand contains the data for a signed manual correction.
type AdjustBalanceCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Delta is the signed correction. Must be non-zero.
	Delta shared.Coins

	// Reason explains the correction, stored on the ledger entry.
	Reason string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AdjustBalanceCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "AdjustBalance", shared.ErrInvalidID, "student_id is required")
	}
	if c.Delta == 0 {
		return shared.NewDomainError("command", "AdjustBalance", shared.ErrInvalidAmount, "delta must be non-zero")
	}
	if c.Reason == "" {
		return shared.NewDomainError("command", "AdjustBalance", shared.ErrEmptyValue, "reason is required")
	}
	return nil
}

// AdjustBalanceHandler handles the AdjustBalanceCommand.
type AdjustBalanceHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewAdjustBalanceHandler creates a new AdjustBalanceHandler.
func NewAdjustBalanceHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *AdjustBalanceHandler {
	return &AdjustBalanceHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("adjust_balance")),
	}
}

// Handle executes the adjustment. Each call is a new deliberate action;
// there is intentionally no dedup here.
func (h *AdjustBalanceHandler) Handle(ctx context.Context, cmd AdjustBalanceCommand) (*ledger.Transaction, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var created *ledger.Transaction

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		tx, err := ledger.NewAdjustment(uuid.New(), cmd.StudentID, cmd.Delta, cmd.Reason)
		if err != nil {
			return err
		}
		if err := repos.Ledger.Append(ctx, tx); err != nil {
			return fmt.Errorf("adjust_balance: append transaction: %w", err)
		}
		if err := repos.Ledger.ApplyAdjustment(ctx, cmd.StudentID, cmd.Delta); err != nil {
			return fmt.Errorf("adjust_balance: apply delta: %w", err)
		}
		created = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("balance adjusted",
		logger.StudentID(cmd.StudentID.String()),
		logger.Coins(cmd.Delta.Int64()),
	)

	event := shared.NewBalanceAdjustedEvent(cmd.StudentID.String(), cmd.Delta, cmd.Reason, created.ID.String())
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	_ = h.publisher.Publish(event)

	return created, nil
}
