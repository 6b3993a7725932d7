package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY
// Every balance primitive is a single conditional statement. The balance
// row is the most contended row in the system; nothing here does
// read-modify-write in application memory.
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements ledger.Repository.
type LedgerRepository struct {
	db Querier
}

// NewLedgerRepository creates a ledger repository over a pool or transaction.
func NewLedgerRepository(db Querier) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transactions
// ─────────────────────────────────────────────────────────────────────────────

const transactionColumns = `id, student_id, type, amount, source_type, source_id, description, metadata, created_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	err := row.Scan(
		&tx.ID, &tx.StudentID, &tx.Type, &tx.Amount, &tx.Source.Type, &tx.Source.ID,
		&tx.Description, &tx.Metadata, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Append persists a transaction row.
func (r *LedgerRepository) Append(ctx context.Context, tx *ledger.Transaction) error {
	query := `
		INSERT INTO coin_transactions (id, student_id, type, amount, source_type, source_id, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::jsonb), $9)`

	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.StudentID, tx.Type, tx.Amount, tx.Source.Type, tx.Source.ID,
		tx.Description, tx.Metadata, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendEarned persists an earned transaction. ON CONFLICT DO NOTHING
// against the partial unique earned-source index turns a duplicate reward
// into a silent skip; RowsAffected tells us which happened.
func (r *LedgerRepository) AppendEarned(ctx context.Context, tx *ledger.Transaction) (bool, error) {
	query := `
		INSERT INTO coin_transactions (id, student_id, type, amount, source_type, source_id, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::jsonb), $9)
		ON CONFLICT (student_id, source_type, source_id) WHERE type = 'earned' DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		tx.ID, tx.StudentID, tx.Type, tx.Amount, tx.Source.Type, tx.Source.ID,
		tx.Description, tx.Metadata, tx.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append earned transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetEarnedBySource returns the earned transaction for a (student, source) pair.
func (r *LedgerRepository) GetEarnedBySource(ctx context.Context, studentID shared.StudentID, source ledger.Source) (*ledger.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM coin_transactions
		WHERE student_id = $1 AND type = 'earned' AND source_type = $2 AND source_id = $3`,
		transactionColumns)

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, studentID, source.Type, source.ID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get earned transaction: %w", err)
	}
	return tx, nil
}

// GetByID returns a transaction by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM coin_transactions WHERE id = $1`, transactionColumns)

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListByStudent returns a student's transactions, newest first.
func (r *LedgerRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, limit, offset int) ([]*ledger.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM coin_transactions
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, transactionColumns)

	rows, err := r.db.Query(ctx, query, studentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// SumByStudent replays the student's full transaction history.
func (r *LedgerRepository) SumByStudent(ctx context.Context, studentID shared.StudentID) (ledger.TransactionSums, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0),
			COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0),
			COUNT(*)
		FROM coin_transactions
		WHERE student_id = $1`

	var sums ledger.TransactionSums
	if err := r.db.QueryRow(ctx, query, studentID).Scan(&sums.Earned, &sums.Spent, &sums.Count); err != nil {
		return ledger.TransactionSums{}, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sums, nil
}

// ListActiveStudents returns the distinct students with ledger activity
// since the given time.
func (r *LedgerRepository) ListActiveStudents(ctx context.Context, since time.Time) ([]shared.StudentID, error) {
	query := `SELECT DISTINCT student_id FROM coin_transactions WHERE created_at >= $1`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active students: %w", err)
	}
	defer rows.Close()

	var students []shared.StudentID
	for rows.Next() {
		var id shared.StudentID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student id: %w", err)
		}
		students = append(students, id)
	}
	return students, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Balances
// ─────────────────────────────────────────────────────────────────────────────

// GetBalance returns a student's balance row.
func (r *LedgerRepository) GetBalance(ctx context.Context, studentID shared.StudentID) (*ledger.Balance, error) {
	query := `
		SELECT student_id, total_balance, lifetime_earned, lifetime_spent, created_at, updated_at
		FROM coin_balances
		WHERE student_id = $1`

	var b ledger.Balance
	err := r.db.QueryRow(ctx, query, studentID).Scan(
		&b.StudentID, &b.TotalBalance, &b.LifetimeEarned, &b.LifetimeSpent, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

// ApplyCredit atomically adds amount to total_balance and lifetime_earned,
// creating the row first if absent.
func (r *LedgerRepository) ApplyCredit(ctx context.Context, studentID shared.StudentID, amount shared.Coins) error {
	query := `
		INSERT INTO coin_balances (student_id, total_balance, lifetime_earned, lifetime_spent)
		VALUES ($1, $2, $2, 0)
		ON CONFLICT (student_id) DO UPDATE
		SET total_balance = coin_balances.total_balance + $2,
			lifetime_earned = coin_balances.lifetime_earned + $2,
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, studentID, amount); err != nil {
		return fmt.Errorf("failed to apply credit: %w", err)
	}
	return nil
}

// ApplyDebit atomically debits the balance only if it covers the amount.
// The WHERE clause is the insufficient-funds check; a zero row count means
// the debit did not happen.
func (r *LedgerRepository) ApplyDebit(ctx context.Context, studentID shared.StudentID, amount shared.Coins) (bool, error) {
	query := `
		UPDATE coin_balances
		SET total_balance = total_balance - $2,
			lifetime_spent = lifetime_spent + $2,
			updated_at = NOW()
		WHERE student_id = $1 AND total_balance >= $2`

	tag, err := r.db.Exec(ctx, query, studentID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to apply debit: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyDebitClamped atomically debits min(amount, total_balance) and
// returns the coins actually taken.
func (r *LedgerRepository) ApplyDebitClamped(ctx context.Context, studentID shared.StudentID, amount shared.Coins) (shared.Coins, error) {
	// The SET expressions both reference the pre-update balance, so the
	// clamp is computed once in a locking CTE and returned.
	query := `
		WITH before AS (
			SELECT total_balance FROM coin_balances WHERE student_id = $1 FOR UPDATE
		)
		UPDATE coin_balances cb
		SET total_balance = cb.total_balance - LEAST(before.total_balance, $2),
			lifetime_spent = cb.lifetime_spent + LEAST(before.total_balance, $2),
			updated_at = NOW()
		FROM before
		WHERE cb.student_id = $1
		RETURNING LEAST(before.total_balance, $2)`

	var taken shared.Coins
	err := r.db.QueryRow(ctx, query, studentID, amount).Scan(&taken)
	if err != nil {
		if IsNoRows(err) {
			// No balance row means nothing to take.
			return 0, nil
		}
		return 0, fmt.Errorf("failed to apply clamped debit: %w", err)
	}
	return taken, nil
}

// ApplyAdjustment atomically applies a signed delta, creating the row if
// absent. Positive deltas count toward lifetime_earned, negative ones
// toward lifetime_spent.
func (r *LedgerRepository) ApplyAdjustment(ctx context.Context, studentID shared.StudentID, delta shared.Coins) error {
	query := `
		INSERT INTO coin_balances (student_id, total_balance, lifetime_earned, lifetime_spent)
		VALUES ($1, GREATEST($2, 0), GREATEST($2, 0), GREATEST(-$2, 0))
		ON CONFLICT (student_id) DO UPDATE
		SET total_balance = coin_balances.total_balance + $2,
			lifetime_earned = coin_balances.lifetime_earned + GREATEST($2, 0),
			lifetime_spent = coin_balances.lifetime_spent + GREATEST(-$2, 0),
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, studentID, delta); err != nil {
		return fmt.Errorf("failed to apply adjustment: %w", err)
	}
	return nil
}

// OverwriteBalance replaces the row with the replayed truth. Reconciliation
// only.
func (r *LedgerRepository) OverwriteBalance(ctx context.Context, balance *ledger.Balance) error {
	query := `
		INSERT INTO coin_balances (student_id, total_balance, lifetime_earned, lifetime_spent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id) DO UPDATE
		SET total_balance = $2, lifetime_earned = $3, lifetime_spent = $4, updated_at = $6`

	_, err := r.db.Exec(ctx, query,
		balance.StudentID, balance.TotalBalance, balance.LifetimeEarned, balance.LifetimeSpent,
		balance.CreatedAt, balance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to overwrite balance: %w", err)
	}
	return nil
}
