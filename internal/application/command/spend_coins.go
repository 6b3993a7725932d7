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
// SPEND COINS COMMAND
// Debits a student. Insufficient funds is a normal business outcome, not
// an error: the result carries a nil transaction and the balance is left
// untouched.
// ══════════════════════════════════════════════════════════════════════════════

// SpendCoinsCommand contains the data for a debit.
type SpendCoinsCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Amount is the positive price to debit.
	Amount shared.Coins

	// Source is what the coins buy.
	Source ledger.Source

	// Description is free-form context for the ledger entry.
	Description string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c SpendCoinsCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "SpendCoins", shared.ErrInvalidID, "student_id is required")
	}
	if !c.Amount.IsPositive() {
		return shared.NewDomainError("command", "SpendCoins", shared.ErrInvalidAmount, "amount must be positive")
	}
	if !c.Source.Type.IsValid() {
		return shared.NewDomainError("command", "SpendCoins", shared.ErrInvalidSource, "source type is required")
	}
	return nil
}

// SpendCoinsResult contains the outcome of a spend attempt.
type SpendCoinsResult struct {
	// Transaction is the ledger entry, nil when funds were insufficient.
	Transaction *ledger.Transaction

	// InsufficientFunds is true when the balance did not cover the price.
	InsufficientFunds bool
}

// SpendCoinsHandler handles the SpendCoinsCommand.
type SpendCoinsHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewSpendCoinsHandler creates a new SpendCoinsHandler.
func NewSpendCoinsHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *SpendCoinsHandler {
	return &SpendCoinsHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("spend_coins")),
	}
}

// Handle executes the spend attempt.
func (h *SpendCoinsHandler) Handle(ctx context.Context, cmd SpendCoinsCommand) (*SpendCoinsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result SpendCoinsResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		// The debit is the atomic funds check; the transaction row is only
		// appended after the balance actually moved.
		debited, err := repos.Ledger.ApplyDebit(ctx, cmd.StudentID, cmd.Amount)
		if err != nil {
			return fmt.Errorf("spend_coins: apply debit: %w", err)
		}
		if !debited {
			result.InsufficientFunds = true
			return nil
		}

		tx, err := ledger.NewSpent(uuid.New(), cmd.StudentID, cmd.Amount, cmd.Source, cmd.Description)
		if err != nil {
			return err
		}
		if err := repos.Ledger.Append(ctx, tx); err != nil {
			return fmt.Errorf("spend_coins: append transaction: %w", err)
		}

		result.Transaction = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.InsufficientFunds {
		h.log.Debug("spend declined, insufficient funds",
			logger.StudentID(cmd.StudentID.String()),
			logger.Coins(cmd.Amount.Int64()),
		)
		return &result, nil
	}

	h.log.Info("coins spent",
		logger.StudentID(cmd.StudentID.String()),
		logger.Coins(cmd.Amount.Int64()),
		logger.SourceType(string(cmd.Source.Type)),
	)

	event := shared.NewCoinsSpentEvent(cmd.StudentID.String(), cmd.Amount,
		string(cmd.Source.Type), result.Transaction.ID.String())
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	_ = h.publisher.Publish(event)

	return &result, nil
}
