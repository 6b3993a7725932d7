package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cohortly/progression-engine/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// NewRepositories builds the full repository set over a pool or transaction.
// Query handlers use a pool-backed set; the unit of work builds a
// transaction-scoped set per command.
func NewRepositories(db Querier) command.Repositories {
	contentRepo := NewContentRepository(db)
	return command.Repositories{
		Enrollments:  NewEnrollmentRepository(db),
		WeekProgress: NewWeekProgressRepository(db),
		Content:      contentRepo,
		Chains:       contentRepo,
		Completions:  NewCompletionRepository(db),
		Evidence:     NewEvidenceRepository(db),
		Ledger:       NewLedgerRepository(db),
	}
}

// UnitOfWork implements command.UnitOfWork over a pgx transaction.
type UnitOfWork struct {
	conn *Connection
}

// NewUnitOfWork creates a transactional unit of work.
func NewUnitOfWork(conn *Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn}
}

// Do begins a transaction, runs fn with transaction-scoped repositories,
// and commits. Any error from fn rolls the whole transaction back and is
// returned unchanged.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos command.Repositories) error) error {
	return u.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, NewRepositories(tx))
	})
}
