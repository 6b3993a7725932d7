package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECALCULATE BALANCE COMMAND
// Reconciliation: replays the full transaction history and overwrites the
// materialized balance row with the summed truth, clamped at zero. Safe to
// run at any time; the only side effect is the balance row itself.
// ══════════════════════════════════════════════════════════════════════════════

// RecalculateBalanceCommand identifies the student to reconcile.
type RecalculateBalanceCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecalculateBalanceCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "RecalculateBalance", shared.ErrInvalidID, "student_id is required")
	}
	return nil
}

// RecalculateBalanceResult contains the outcome of a reconciliation run.
type RecalculateBalanceResult struct {
	// PreviousTotal is the cached total before the overwrite.
	PreviousTotal shared.Coins

	// NewTotal is the replayed total now stored.
	NewTotal shared.Coins

	// DriftDetected is true when the cached row disagreed with the log.
	DriftDetected bool

	// TransactionCount is how many ledger entries were replayed.
	TransactionCount int
}

// RecalculateBalanceHandler handles the RecalculateBalanceCommand.
type RecalculateBalanceHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewRecalculateBalanceHandler creates a new RecalculateBalanceHandler.
func NewRecalculateBalanceHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *RecalculateBalanceHandler {
	return &RecalculateBalanceHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("recalculate_balance")),
	}
}

// Handle executes the reconciliation.
func (h *RecalculateBalanceHandler) Handle(ctx context.Context, cmd RecalculateBalanceCommand) (*RecalculateBalanceResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result RecalculateBalanceResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		sums, err := repos.Ledger.SumByStudent(ctx, cmd.StudentID)
		if err != nil {
			return fmt.Errorf("recalculate_balance: replay transactions: %w", err)
		}
		result.TransactionCount = sums.Count

		createdAt := time.Now().UTC()
		current, err := repos.Ledger.GetBalance(ctx, cmd.StudentID)
		switch {
		case err == nil:
			result.PreviousTotal = current.TotalBalance
			createdAt = current.CreatedAt
		case errors.Is(err, shared.ErrBalanceNotFound):
			// First reconciliation for a student with no balance row yet.
		default:
			return fmt.Errorf("recalculate_balance: load balance: %w", err)
		}

		rebuilt := ledger.RebuiltFromSums(cmd.StudentID, sums.Earned, sums.Spent, createdAt)
		result.NewTotal = rebuilt.TotalBalance
		result.DriftDetected = current == nil ||
			current.TotalBalance != rebuilt.TotalBalance ||
			current.LifetimeEarned != rebuilt.LifetimeEarned ||
			current.LifetimeSpent != rebuilt.LifetimeSpent

		if !result.DriftDetected {
			return nil
		}
		return repos.Ledger.OverwriteBalance(ctx, rebuilt)
	})
	if err != nil {
		return nil, err
	}

	if result.DriftDetected {
		// Drift should never normally occur; treat it as a data-integrity alarm.
		h.log.Error("balance drift detected and healed",
			logger.StudentID(cmd.StudentID.String()),
			logger.Int64("previous_total", result.PreviousTotal.Int64()),
			logger.Int64("new_total", result.NewTotal.Int64()),
			logger.Int("transactions", result.TransactionCount),
		)
	} else {
		h.log.Debug("balance reconciled, no drift",
			logger.StudentID(cmd.StudentID.String()),
			logger.Int("transactions", result.TransactionCount),
		)
	}

	event := shared.NewBalanceReconciledEvent(cmd.StudentID.String(),
		result.PreviousTotal, result.NewTotal, result.DriftDetected)
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	_ = h.publisher.Publish(event)

	return &result, nil
}
