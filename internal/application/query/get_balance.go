// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET BALANCE QUERY
// Returns a student's coin balance with an optional slice of recent
// ledger entries. The balance row is cached; the transaction list is
// always read fresh.
// ══════════════════════════════════════════════════════════════════════════════

// balanceCacheTTL bounds staleness of the cached balance row. Writes
// invalidate eagerly, so the TTL only covers missed invalidations.
const balanceCacheTTL = 5 * time.Minute

// GetBalanceQuery contains the parameters of a balance lookup.
type GetBalanceQuery struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// IncludeTransactions requests recent ledger entries in the result.
	IncludeTransactions bool

	// TransactionLimit caps the number of entries (default 20, max 100).
	TransactionLimit int

	// TransactionOffset is the pagination offset into the ledger.
	TransactionOffset int
}

// Validate checks query parameters and applies defaults.
func (q *GetBalanceQuery) Validate() error {
	if q.StudentID.IsZero() {
		return errors.New("student_id is required")
	}
	if q.TransactionLimit < 0 || q.TransactionOffset < 0 {
		return errors.New("pagination values cannot be negative")
	}
	if q.TransactionLimit == 0 {
		q.TransactionLimit = 20
	}
	if q.TransactionLimit > 100 {
		q.TransactionLimit = 100
	}
	return nil
}

// TransactionDTO is the read model of one ledger entry.
type TransactionDTO struct {
	// ID is the transaction identifier.
	ID string `json:"id"`

	// Type is the transaction type: earned, spent, bonus, penalty, adjustment.
	Type string `json:"type"`

	// Amount is the signed coin delta.
	Amount int64 `json:"amount"`

	// SourceType names what produced the entry.
	SourceType string `json:"source_type"`

	// SourceID is the producing entity, when the source has one.
	SourceID string `json:"source_id,omitempty"`

	// Description is free-form context recorded at write time.
	Description string `json:"description,omitempty"`

	// CreatedAt is when the entry was appended.
	CreatedAt time.Time `json:"created_at"`
}

// GetBalanceResult contains the balance read model.
type GetBalanceResult struct {
	// StudentID identifies the student.
	StudentID string `json:"student_id"`

	// TotalBalance is the spendable coin total.
	TotalBalance int64 `json:"total_balance"`

	// LifetimeEarned is every coin ever credited.
	LifetimeEarned int64 `json:"lifetime_earned"`

	// LifetimeSpent is every coin ever debited.
	LifetimeSpent int64 `json:"lifetime_spent"`

	// Transactions holds recent ledger entries when requested.
	Transactions []TransactionDTO `json:"transactions,omitempty"`

	// FromCache reports whether the balance row came from the cache.
	FromCache bool `json:"-"`
}

// GetBalanceHandler handles balance lookups.
type GetBalanceHandler struct {
	ledgerRepo ledger.Repository
	cache      ledger.BalanceCache
	log        *logger.Logger
}

// NewGetBalanceHandler creates a balance query handler. The cache may
// be nil, in which case every read goes to the repository.
func NewGetBalanceHandler(ledgerRepo ledger.Repository, cache ledger.BalanceCache, log *logger.Logger) *GetBalanceHandler {
	return &GetBalanceHandler{
		ledgerRepo: ledgerRepo,
		cache:      cache,
		log:        log.With(logger.Component("get_balance")),
	}
}

// Handle executes the balance lookup. A student with no ledger history
// gets an all-zero balance rather than a not-found error.
func (h *GetBalanceHandler) Handle(ctx context.Context, query GetBalanceQuery) (*GetBalanceResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetBalance", shared.ErrValidation, err.Error(), err)
	}

	balance, fromCache, err := h.loadBalance(ctx, query.StudentID)
	if err != nil {
		return nil, err
	}

	result := &GetBalanceResult{
		StudentID:      balance.StudentID.String(),
		TotalBalance:   balance.TotalBalance.Int64(),
		LifetimeEarned: balance.LifetimeEarned.Int64(),
		LifetimeSpent:  balance.LifetimeSpent.Int64(),
		FromCache:      fromCache,
	}

	if query.IncludeTransactions {
		transactions, err := h.ledgerRepo.ListByStudent(ctx, query.StudentID, query.TransactionLimit, query.TransactionOffset)
		if err != nil {
			return nil, shared.WrapError("query", "GetBalance", shared.ErrNotFound, "failed to list transactions", err)
		}
		result.Transactions = make([]TransactionDTO, 0, len(transactions))
		for _, tx := range transactions {
			result.Transactions = append(result.Transactions, toTransactionDTO(tx))
		}
	}

	return result, nil
}

// loadBalance reads through the cache. Cache errors are logged and
// ignored; the repository is the source of truth.
func (h *GetBalanceHandler) loadBalance(ctx context.Context, studentID shared.StudentID) (*ledger.Balance, bool, error) {
	if h.cache != nil {
		cached, err := h.cache.GetBalance(ctx, studentID)
		if err == nil && cached != nil {
			return cached, true, nil
		}
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			h.log.Debug("balance cache read failed", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}

	balance, err := h.ledgerRepo.GetBalance(ctx, studentID)
	if err != nil {
		if errors.Is(err, shared.ErrBalanceNotFound) {
			return ledger.NewBalance(studentID), false, nil
		}
		return nil, false, shared.WrapError("query", "GetBalance", shared.ErrNotFound, "failed to get balance", err)
	}

	if h.cache != nil {
		if err := h.cache.SetBalance(ctx, balance, balanceCacheTTL); err != nil {
			h.log.Debug("balance cache write failed", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}
	return balance, false, nil
}

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          tx.ID.String(),
		Type:        string(tx.Type),
		Amount:      tx.Amount.Int64(),
		SourceType:  string(tx.Source.Type),
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt,
	}
	if tx.Source.ID != uuid.Nil {
		dto.SourceID = tx.Source.ID.String()
	}
	return dto
}
