package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER RECONCILIATION SWEEP
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileBalancesJob replays the transaction log for every student with
// recent ledger activity and overwrites their cached balance. Drift between
// the cached row and the replayed sum is an integrity alarm: the handler
// repairs it, this job makes sure it gets noticed.
type ReconcileBalancesJob struct {
	ledgerRepo ledger.Repository
	recalc     *command.RecalculateBalanceHandler
	logger     *slog.Logger

	config ReconcileBalancesConfig
}

// ReconcileBalancesConfig contains configuration for the reconciliation sweep.
type ReconcileBalancesConfig struct {
	// ActivityWindow selects students with ledger writes in the last
	// window. Students with no recent activity cannot have drifted since
	// the previous sweep.
	ActivityWindow time.Duration

	// Concurrency is the number of students processed in parallel.
	Concurrency int

	// Timeout is the maximum duration for the entire sweep.
	Timeout time.Duration

	// RetryAttempts is the number of attempts per student before the
	// failure is counted and the sweep moves on.
	RetryAttempts int
}

// DefaultReconcileBalancesConfig returns sensible defaults.
func DefaultReconcileBalancesConfig() ReconcileBalancesConfig {
	return ReconcileBalancesConfig{
		ActivityWindow: 26 * time.Hour, // daily sweep plus slack
		Concurrency:    4,
		Timeout:        15 * time.Minute,
		RetryAttempts:  3,
	}
}

// ReconcileStats contains counters from a reconciliation run.
type ReconcileStats struct {
	StudentsChecked int64
	DriftRepaired   int64
	Failed          int64
}

// NewReconcileBalancesJob creates a new reconciliation sweep job.
func NewReconcileBalancesJob(
	ledgerRepo ledger.Repository,
	recalc *command.RecalculateBalanceHandler,
	logger *slog.Logger,
	config ReconcileBalancesConfig,
) *ReconcileBalancesJob {
	defaults := DefaultReconcileBalancesConfig()
	if config.ActivityWindow <= 0 {
		config.ActivityWindow = defaults.ActivityWindow
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}

	return &ReconcileBalancesJob{
		ledgerRepo: ledgerRepo,
		recalc:     recalc,
		logger:     logger,
		config:     config,
	}
}

// Name returns the job name.
func (j *ReconcileBalancesJob) Name() string {
	return "reconcile_balances"
}

// Description returns a human-readable description.
func (j *ReconcileBalancesJob) Description() string {
	return "Replays ledger history and repairs drifted coin balances"
}

// Run executes the reconciliation sweep.
func (j *ReconcileBalancesJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	since := time.Now().UTC().Add(-j.config.ActivityWindow)
	students, err := j.ledgerRepo.ListActiveStudents(ctx, since)
	if err != nil {
		return fmt.Errorf("reconcile sweep: list active students: %w", err)
	}

	var stats ReconcileStats
	sem := make(chan struct{}, j.config.Concurrency)
	var wg sync.WaitGroup

	for _, studentID := range students {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(studentID shared.StudentID) {
			defer wg.Done()
			defer func() { <-sem }()
			j.reconcileStudent(ctx, studentID, &stats)
		}(studentID)
	}

	wg.Wait()

	j.logger.Info("balance reconciliation sweep finished",
		"students", stats.StudentsChecked,
		"drift_repaired", stats.DriftRepaired,
		"failed", stats.Failed,
	)

	if stats.Failed > 0 {
		return fmt.Errorf("reconcile sweep: %d students failed", stats.Failed)
	}
	return ctx.Err()
}

func (j *ReconcileBalancesJob) reconcileStudent(ctx context.Context, studentID shared.StudentID, stats *ReconcileStats) {
	atomic.AddInt64(&stats.StudentsChecked, 1)

	result, err := retry.DoWithData(ctx, func(ctx context.Context) (*command.RecalculateBalanceResult, error) {
		return j.recalc.Handle(ctx, command.RecalculateBalanceCommand{StudentID: studentID})
	},
		retry.WithMaxAttempts(j.config.RetryAttempts),
		retry.WithRetryIf(func(err error) bool {
			// Validation failures cannot heal on retry; transient
			// database errors can.
			return !shared.IsValidation(err)
		}),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			j.logger.Warn("reconcile sweep: retrying student",
				"student_id", studentID.String(),
				"attempt", attempt,
				"delay", delay.String(),
				"error", err,
			)
		}),
	)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		j.logger.Error("reconcile sweep: student failed",
			"student_id", studentID.String(),
			"error", err,
		)
		return
	}

	if result.DriftDetected {
		atomic.AddInt64(&stats.DriftRepaired, 1)
		j.logger.Warn("reconcile sweep: balance drift repaired",
			"student_id", studentID.String(),
			"previous_total", result.PreviousTotal.Int64(),
			"new_total", result.NewTotal.Int64(),
			"transactions", result.TransactionCount,
		)
	}
}
