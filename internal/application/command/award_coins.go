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
// AWARD COINS COMMAND
// Credits a student for a discrete source event. Earned awards are
// idempotent per (student, source): a duplicate call is a no-op that
// returns the pre-existing transaction instead of crediting twice.
// ══════════════════════════════════════════════════════════════════════════════

// AwardCoinsCommand contains the data for a credit.
type AwardCoinsCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Amount is the positive number of coins to credit.
	Amount shared.Coins

	// Source is what event pays the coins.
	Source ledger.Source

	// Description is free-form context for the ledger entry.
	Description string

	// Bonus marks the credit as discretionary. Bonus credits skip the
	// per-source idempotency contract.
	Bonus bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardCoinsCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "AwardCoins", shared.ErrInvalidID, "student_id is required")
	}
	if !c.Amount.IsPositive() {
		return shared.NewDomainError("command", "AwardCoins", shared.ErrInvalidAmount, "amount must be positive")
	}
	if !c.Source.Type.IsValid() {
		return shared.NewDomainError("command", "AwardCoins", shared.ErrInvalidSource, "source type is required")
	}
	return nil
}

// AwardCoinsResult contains the outcome of an award.
type AwardCoinsResult struct {
	// Transaction is the ledger entry, pre-existing on duplicate awards.
	Transaction *ledger.Transaction

	// Duplicate is true when an earned transaction for this source
	// already existed and no coins moved.
	Duplicate bool
}

// AwardCoinsHandler handles the AwardCoinsCommand.
type AwardCoinsHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewAwardCoinsHandler creates a new AwardCoinsHandler.
func NewAwardCoinsHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *AwardCoinsHandler {
	return &AwardCoinsHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("award_coins")),
	}
}

// Handle executes the award.
func (h *AwardCoinsHandler) Handle(ctx context.Context, cmd AwardCoinsCommand) (*AwardCoinsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result AwardCoinsResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		if cmd.Bonus {
			tx, err := ledger.NewBonus(uuid.New(), cmd.StudentID, cmd.Amount, cmd.Source, cmd.Description)
			if err != nil {
				return err
			}
			if err := repos.Ledger.Append(ctx, tx); err != nil {
				return fmt.Errorf("award_coins: append bonus: %w", err)
			}
			if err := repos.Ledger.ApplyCredit(ctx, cmd.StudentID, cmd.Amount); err != nil {
				return fmt.Errorf("award_coins: apply credit: %w", err)
			}
			result.Transaction = tx
			return nil
		}

		tx, credited, err := CreditEarned(ctx, repos, cmd.StudentID, cmd.Amount, cmd.Source, cmd.Description)
		if err != nil {
			return err
		}
		result.Transaction = tx
		result.Duplicate = !credited
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		h.log.Info("coins awarded",
			logger.StudentID(cmd.StudentID.String()),
			logger.Coins(cmd.Amount.Int64()),
			logger.SourceType(string(cmd.Source.Type)),
		)

		event := shared.NewCoinsAwardedEvent(cmd.StudentID.String(), cmd.Amount,
			string(cmd.Source.Type), cmd.Source.ID.String(), result.Transaction.ID.String())
		event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
		_ = h.publisher.Publish(event)
	}

	return &result, nil
}

// CreditEarned appends an idempotency-guarded earned transaction and, when
// this call won the insert, atomically credits the balance. Runs inside the
// caller's open transaction. Returns the (possibly pre-existing) transaction
// and whether coins actually moved.
func CreditEarned(ctx context.Context, repos Repositories, studentID shared.StudentID, amount shared.Coins, source ledger.Source, description string) (*ledger.Transaction, bool, error) {
	tx, err := ledger.NewEarned(uuid.New(), studentID, amount, source, description)
	if err != nil {
		return nil, false, err
	}

	inserted, err := repos.Ledger.AppendEarned(ctx, tx)
	if err != nil {
		return nil, false, fmt.Errorf("award_coins: append earned: %w", err)
	}
	if !inserted {
		existing, err := repos.Ledger.GetEarnedBySource(ctx, studentID, source)
		if err != nil {
			return nil, false, fmt.Errorf("award_coins: load existing earned transaction: %w", err)
		}
		return existing, false, nil
	}

	if err := repos.Ledger.ApplyCredit(ctx, studentID, amount); err != nil {
		return nil, false, fmt.Errorf("award_coins: apply credit: %w", err)
	}
	return tx, true, nil
}
