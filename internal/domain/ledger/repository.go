package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// The balance primitives are atomic column updates in the implementation,
// never read-modify-write in application memory: the balance row is the
// system's most contended resource.
// ══════════════════════════════════════════════════════════════════════════════

// TransactionSums is the replayed truth over a student's ledger entries.
type TransactionSums struct {
	// Earned - sum of all positive amounts.
	Earned shared.Coins

	// Spent - absolute sum of all negative amounts.
	Spent shared.Coins

	// Count - number of ledger entries.
	Count int
}

// Net returns earned minus spent.
func (s TransactionSums) Net() shared.Coins {
	return s.Earned - s.Spent
}

// Repository defines storage operations for transactions and balances.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Transactions (append-only)
	// ─────────────────────────────────────────────────────────────────────────

	// Append persists a transaction row. Rows are never updated or deleted.
	Append(ctx context.Context, tx *Transaction) error

	// AppendEarned persists an earned transaction guarded by the
	// (student, source_type, source_id) uniqueness constraint. Returns
	// true when the row was inserted, false when an earned transaction
	// for that exact source already existed (insert silently skipped).
	AppendEarned(ctx context.Context, tx *Transaction) (bool, error)

	// GetEarnedBySource returns the earned transaction for a (student,
	// source) pair. Returns shared.ErrTransactionNotFound when missing.
	GetEarnedBySource(ctx context.Context, studentID shared.StudentID, source Source) (*Transaction, error)

	// GetByID returns a transaction by ID.
	// Returns shared.ErrTransactionNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// ListByStudent returns a student's transactions, newest first.
	ListByStudent(ctx context.Context, studentID shared.StudentID, limit, offset int) ([]*Transaction, error)

	// SumByStudent replays the student's full transaction history.
	SumByStudent(ctx context.Context, studentID shared.StudentID) (TransactionSums, error)

	// ListActiveStudents returns the distinct students with ledger
	// activity since the given time. Backs the reconciliation sweep.
	ListActiveStudents(ctx context.Context, since time.Time) ([]shared.StudentID, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Balances (materialized, keyed by student)
	// ─────────────────────────────────────────────────────────────────────────

	// GetBalance returns a student's balance row.
	// Returns shared.ErrBalanceNotFound when the row does not exist yet.
	GetBalance(ctx context.Context, studentID shared.StudentID) (*Balance, error)

	// ApplyCredit atomically adds amount to total_balance and
	// lifetime_earned, creating the row with zeros first if absent.
	ApplyCredit(ctx context.Context, studentID shared.StudentID, amount shared.Coins) error

	// ApplyDebit atomically subtracts amount from total_balance and adds
	// it to lifetime_spent, but only if total_balance covers it. Returns
	// false without modifying anything when funds are insufficient. The
	// check and the write must be one atomic statement.
	ApplyDebit(ctx context.Context, studentID shared.StudentID, amount shared.Coins) (bool, error)

	// ApplyDebitClamped atomically debits min(amount, total_balance) and
	// returns the coins actually taken. Backs penalties, which never drive
	// the balance negative.
	ApplyDebitClamped(ctx context.Context, studentID shared.StudentID, amount shared.Coins) (shared.Coins, error)

	// ApplyAdjustment atomically applies a signed delta, creating the row
	// if absent. Positive deltas count toward lifetime_earned, negative
	// ones toward lifetime_spent.
	ApplyAdjustment(ctx context.Context, studentID shared.StudentID, delta shared.Coins) error

	// OverwriteBalance replaces the row with the replayed truth.
	// Reconciliation only.
	OverwriteBalance(ctx context.Context, balance *Balance) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTERFACE
// Balances are the hottest read in the system. The cache is an
// optimization only: a miss or a cache error always falls through to
// the repository.
// ══════════════════════════════════════════════════════════════════════════════

// BalanceCache defines caching operations for coin balances.
type BalanceCache interface {
	// GetBalance returns the cached balance or shared.ErrNotFound on a miss.
	GetBalance(ctx context.Context, studentID shared.StudentID) (*Balance, error)

	// SetBalance stores a balance with the given TTL.
	SetBalance(ctx context.Context, balance *Balance, ttl time.Duration) error

	// InvalidateBalance drops the cached balance after a ledger write.
	InvalidateBalance(ctx context.Context, studentID shared.StudentID) error
}
