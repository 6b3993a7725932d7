// Package main is the operations CLI for the progression engine.
//
// It gives staff direct access to schema management, manual ledger
// operations, and on-demand maintenance sweeps, using the same command
// handlers as the worker so no path can bypass the domain rules.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/config"
	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/application/query"
	"github.com/cohortly/progression-engine/internal/application/saga"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/infrastructure/messaging"
	"github.com/cohortly/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/cohortly/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/cohortly/progression-engine/pkg/logger"
)

const usage = `Usage: admin <command> [flags]

Schema:
  migrate          apply pending migrations
  rollback         roll back the most recent migration
  migrate-status   show applied and pending migrations

Ledger:
  award        -student <uuid> -amount <n> [-desc <text>]     credit bonus coins
  penalty      -student <uuid> -amount <n> [-reason <text>]   debit coins, clamped at zero
  adjust       -student <uuid> -delta <n>  [-reason <text>]   signed balance correction
  recalculate  -student <uuid>                                replay the ledger, repair drift
  balance      -student <uuid> [-tx]                          show the current balance

Progress:
  complete-unit -student <uuid> -kind topic|lesson|module -id <uuid>   complete on the student's behalf
  reset-unit    -student <uuid> -kind topic|lesson|module -id <uuid> [-reason <text>]

Sweeps:
  sweep-drip        run the drip unlock sweep once
  sweep-reconcile   run the ledger reconciliation sweep once
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolSettings{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	app := newApp(conn, cfg)

	switch cmd {
	case "migrate":
		return app.migrate(ctx)
	case "rollback":
		return app.rollback(ctx)
	case "migrate-status":
		return app.migrateStatus(ctx)
	case "award":
		return app.award(ctx, args)
	case "penalty":
		return app.penalty(ctx, args)
	case "adjust":
		return app.adjust(ctx, args)
	case "recalculate":
		return app.recalculate(ctx, args)
	case "balance":
		return app.balance(ctx, args)
	case "complete-unit":
		return app.completeUnit(ctx, args)
	case "reset-unit":
		return app.resetUnit(ctx, args)
	case "sweep-drip":
		return app.sweepDrip(ctx)
	case "sweep-reconcile":
		return app.sweepReconcile(ctx)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// app holds the wiring shared by every subcommand. Events publish on a
// local bus only; the worker's caches expire by TTL, so manual ledger
// operations stay visible without a distributed round trip.
type app struct {
	conn  *postgres.Connection
	cfg   *config.Config
	uow   *postgres.UnitOfWork
	repos command.Repositories
	bus   *messaging.InMemoryEventBus
	log   *logger.Logger
}

func newApp(conn *postgres.Connection, cfg *config.Config) *app {
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.AsyncMode = false

	opts := logger.DefaultOptions()
	opts.Level = logger.LevelWarn

	return &app{
		conn:  conn,
		cfg:   cfg,
		uow:   postgres.NewUnitOfWork(conn),
		repos: postgres.NewRepositories(conn.Pool()),
		bus:   messaging.NewInMemoryEventBus(busConfig),
		log:   logger.New(opts),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SCHEMA
// ─────────────────────────────────────────────────────────────────────────────

func (a *app) migrate(ctx context.Context) error {
	if err := postgres.NewMigrator(a.conn).Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func (a *app) rollback(ctx context.Context) error {
	if err := postgres.NewMigrator(a.conn).Rollback(ctx); err != nil {
		return err
	}
	fmt.Println("last migration rolled back")
	return nil
}

func (a *app) migrateStatus(ctx context.Context) error {
	migrations, err := postgres.NewMigrator(a.conn).Status(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		state := "pending"
		if m.IsApplied {
			state = "applied " + m.AppliedAt.Format(time.RFC3339)
		}
		fmt.Printf("%3d  %-40s %s\n", m.Version, m.Name, state)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// LEDGER
// ─────────────────────────────────────────────────────────────────────────────

func (a *app) award(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("award", flag.ExitOnError)
	student := fs.String("student", "", "student UUID")
	amount := fs.Int64("amount", 0, "coins to credit")
	desc := fs.String("desc", "Manual award", "ledger entry description")
	if err := fs.Parse(args); err != nil {
		return err
	}

	studentID, err := shared.NewStudentID(*student)
	if err != nil {
		return err
	}

	handler := command.NewAwardCoinsHandler(a.uow, a.bus, a.log)
	result, err := handler.Handle(ctx, command.AwardCoinsCommand{
		StudentID:   studentID,
		Amount:      shared.Coins(*amount),
		Source:      ledger.ManualSource(),
		Description: *desc,
		Bonus:       true,
	})
	if err != nil {
		return err
	}

	fmt.Printf("credited %d coins (transaction %s)\n", *amount, result.Transaction.ID)
	return nil
}

func (a *app) penalty(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("penalty", flag.ExitOnError)
	student := fs.String("student", "", "student UUID")
	amount := fs.Int64("amount", 0, "coins to debit")
	reason := fs.String("reason", "Manual penalty", "ledger entry reason")
	if err := fs.Parse(args); err != nil {
		return err
	}

	studentID, err := shared.NewStudentID(*student)
	if err != nil {
		return err
	}

	handler := command.NewApplyPenaltyHandler(a.uow, a.bus, a.log)
	result, err := handler.Handle(ctx, command.ApplyPenaltyCommand{
		StudentID: studentID,
		Amount:    shared.Coins(*amount),
		Reason:    *reason,
	})
	if err != nil {
		return err
	}

	if result.Transaction == nil {
		fmt.Println("balance already zero, nothing debited")
		return nil
	}
	if result.AppliedAmount.Int64() < *amount {
		fmt.Printf("debited %d of %d coins (balance clamped at zero)\n", result.AppliedAmount.Int64(), *amount)
		return nil
	}
	fmt.Printf("debited %d coins (transaction %s)\n", *amount, result.Transaction.ID)
	return nil
}

func (a *app) adjust(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("adjust", flag.ExitOnError)
	student := fs.String("student", "", "student UUID")
	delta := fs.Int64("delta", 0, "signed coin correction")
	reason := fs.String("reason", "Manual adjustment", "ledger entry reason")
	if err := fs.Parse(args); err != nil {
		return err
	}

	studentID, err := shared.NewStudentID(*student)
	if err != nil {
		return err
	}

	handler := command.NewAdjustBalanceHandler(a.uow, a.bus, a.log)
	tx, err := handler.Handle(ctx, command.AdjustBalanceCommand{
		StudentID: studentID,
		Delta:     shared.Coins(*delta),
		Reason:    *reason,
	})
	if err != nil {
		return err
	}

	fmt.Printf("adjusted by %+d coins (transaction %s)\n", *delta, tx.ID)
	return nil
}

func (a *app) recalculate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recalculate", flag.ExitOnError)
	student := fs.String("student", "", "student UUID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	studentID, err := shared.NewStudentID(*student)
	if err != nil {
		return err
	}

	handler := command.NewRecalculateBalanceHandler(a.uow, a.bus, a.log)
	result, err := handler.Handle(ctx, command.RecalculateBalanceCommand{StudentID: studentID})
	if err != nil {
		return err
	}

	if result.DriftDetected {
		fmt.Printf("drift repaired: %d -> %d (%d transactions replayed)\n",
			result.PreviousTotal.Int64(), result.NewTotal.Int64(), result.TransactionCount)
		return nil
	}
	fmt.Printf("balance confirmed at %d (%d transactions replayed)\n",
		result.NewTotal.Int64(), result.TransactionCount)
	return nil
}

func (a *app) balance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	student := fs.String("student", "", "student UUID")
	withTx := fs.Bool("tx", false, "include recent transactions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	studentID, err := shared.NewStudentID(*student)
	if err != nil {
		return err
	}

	handler := query.NewGetBalanceHandler(a.repos.Ledger, nil, a.log)
	result, err := handler.Handle(ctx, query.GetBalanceQuery{
		StudentID:           studentID,
		IncludeTransactions: *withTx,
	})
	if err != nil {
		return err
	}

	fmt.Printf("total: %d  earned: %d  spent: %d\n",
		result.TotalBalance, result.LifetimeEarned, result.LifetimeSpent)
	for _, tx := range result.Transactions {
		fmt.Printf("  %s  %+6d  %-12s %s\n", tx.CreatedAt.Format(time.RFC3339), tx.Amount, tx.Type, tx.Description)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// PROGRESS
// ─────────────────────────────────────────────────────────────────────────────

func (a *app) completeUnit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("complete-unit", flag.ExitOnError)
	student := fs.String("student", "", "student UUID")
	kind := fs.String("kind", "", "unit kind: topic, lesson or module")
	id := fs.String("id", "", "unit UUID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	studentID, unit, err := parseUnitArgs(*student, *kind, *id)
	if err != nil {
		return err
	}

	cascade := saga.NewCoordinator(a.uow, a.bus, a.log)
	handler := command.NewCompleteUnitHandler(a.uow, cascade, a.bus, a.log)
	result, err := handler.Handle(ctx, command.CompleteUnitCommand{
		StudentID: studentID,
		Unit:      unit,
		CompletionData: map[string]interface{}{
			"completed_by": "admin",
		},
	})
	if err != nil {
		return err
	}

	if result.AlreadyCompleted {
		fmt.Println("unit was already completed, nothing changed")
		return nil
	}
	fmt.Printf("unit completed, %d coins awarded\n", result.CoinsAwarded.Int64())
	return nil
}

func (a *app) resetUnit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-unit", flag.ExitOnError)
	student := fs.String("student", "", "student UUID")
	kind := fs.String("kind", "", "unit kind: topic, lesson or module")
	id := fs.String("id", "", "unit UUID")
	reason := fs.String("reason", "Manual reset", "why the unit is being reset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	studentID, unit, err := parseUnitArgs(*student, *kind, *id)
	if err != nil {
		return err
	}

	cascade := saga.NewCoordinator(a.uow, a.bus, a.log)
	handler := command.NewResetUnitHandler(a.uow, cascade, a.bus, a.log)
	if _, err := handler.Handle(ctx, command.ResetUnitCommand{
		StudentID: studentID,
		Unit:      unit,
		Reason:    *reason,
	}); err != nil {
		return err
	}

	fmt.Println("unit reset, ancestor progress recomputed")
	return nil
}

func parseUnitArgs(student, kind, id string) (shared.StudentID, shared.UnitRef, error) {
	studentID, err := shared.NewStudentID(student)
	if err != nil {
		return shared.StudentID{}, shared.UnitRef{}, err
	}

	unitID, err := uuid.Parse(id)
	if err != nil {
		return shared.StudentID{}, shared.UnitRef{}, fmt.Errorf("invalid unit ID: %w", err)
	}

	unit, err := shared.NewUnitRef(shared.UnitKind(kind), unitID)
	if err != nil {
		return shared.StudentID{}, shared.UnitRef{}, err
	}

	return studentID, unit, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SWEEPS
// ─────────────────────────────────────────────────────────────────────────────

func (a *app) sweepDrip(ctx context.Context) error {
	unlocker := command.NewUnlockWeekHandler(a.uow, a.bus, a.log)
	job := jobs.NewDripUnlockSweepJob(
		a.repos.Content,
		a.repos.Enrollments,
		a.repos.WeekProgress,
		unlocker,
		newSweepLogger(),
		jobs.DripUnlockSweepConfig{
			Concurrency: a.cfg.Scheduler.MaxConcurrentStudents,
			Timeout:     a.cfg.Scheduler.JobTimeout,
		},
	)

	if err := job.Run(ctx); err != nil {
		return err
	}
	fmt.Println("drip unlock sweep completed")
	return nil
}

func (a *app) sweepReconcile(ctx context.Context) error {
	recalc := command.NewRecalculateBalanceHandler(a.uow, a.bus, a.log)
	job := jobs.NewReconcileBalancesJob(
		a.repos.Ledger,
		recalc,
		newSweepLogger(),
		jobs.ReconcileBalancesConfig{
			ActivityWindow: a.cfg.Scheduler.ReconcileWindow,
			Concurrency:    a.cfg.Scheduler.MaxConcurrentStudents,
			Timeout:        a.cfg.Scheduler.JobTimeout,
		},
	)

	if err := job.Run(ctx); err != nil {
		return err
	}
	fmt.Println("ledger reconciliation sweep completed")
	return nil
}

// newSweepLogger writes sweep progress to stderr so it does not mix
// with the command's own stdout output.
func newSweepLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
