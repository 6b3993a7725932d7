// Package ledger is the single source of truth for coin movement. The
// append-only transaction log is authoritative; the balance row is a
// materialized view over it that reconciliation can rebuild at any time.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// TransactionType classifies a coin movement.
type TransactionType string

const (
	// TypeEarned - reward for a discrete completed source event. Positive
	// amount, idempotency-guarded per (student, source).
	TypeEarned TransactionType = "earned"
	// TypeSpent - a purchase or consumption. Negative amount.
	TypeSpent TransactionType = "spent"
	// TypeBonus - discretionary credit not tied to a dedup contract.
	TypeBonus TransactionType = "bonus"
	// TypePenalty - administrative debit, clamped at the current balance.
	TypePenalty TransactionType = "penalty"
	// TypeAdjustment - signed manual correction by staff.
	TypeAdjustment TransactionType = "adjustment"
)

// IsValid reports whether the type is a known transaction type.
func (t TransactionType) IsValid() bool {
	switch t {
	case TypeEarned, TypeSpent, TypeBonus, TypePenalty, TypeAdjustment:
		return true
	default:
		return false
	}
}

// IsCredit reports whether the type represents money coming in.
func (t TransactionType) IsCredit() bool {
	return t == TypeEarned || t == TypeBonus
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// SourceType discriminates what kind of event a transaction references.
// This is a tagged reference, not a foreign key: the referenced row may
// live in another service entirely.
type SourceType string

const (
	SourceTopic          SourceType = "topic"
	SourceLesson         SourceType = "lesson"
	SourceModule         SourceType = "module"
	SourceWeek           SourceType = "week"
	SourceQuiz           SourceType = "quiz"
	SourceAssignment     SourceType = "assignment"
	SourceLiveClass      SourceType = "live_class"
	SourceShop           SourceType = "shop"
	SourceManual         SourceType = "manual"
	SourceReconciliation SourceType = "reconciliation"
)

// IsValid reports whether the source type is known.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTopic, SourceLesson, SourceModule, SourceWeek,
		SourceQuiz, SourceAssignment, SourceLiveClass,
		SourceShop, SourceManual, SourceReconciliation:
		return true
	default:
		return false
	}
}

// RequiresID reports whether the source type must reference a concrete
// entity. Manual and reconciliation sources stand alone.
func (s SourceType) RequiresID() bool {
	switch s {
	case SourceManual, SourceReconciliation:
		return false
	default:
		return true
	}
}

// Source is the discriminated reference a transaction carries. Invalid
// (type, id) combinations are rejected at construction so they are
// unrepresentable downstream.
type Source struct {
	// Type - the discriminator.
	Type SourceType

	// ID - the referenced entity, uuid.Nil for standalone sources.
	ID uuid.UUID
}

// NewSource builds a validated entity-backed source reference.
func NewSource(sourceType SourceType, id uuid.UUID) (Source, error) {
	if !sourceType.IsValid() {
		return Source{}, shared.NewDomainError("ledger", "NewSource", shared.ErrInvalidSource,
			fmt.Sprintf("unknown source type %q", sourceType))
	}
	if sourceType.RequiresID() && id == uuid.Nil {
		return Source{}, shared.NewDomainError("ledger", "NewSource", shared.ErrInvalidSource,
			fmt.Sprintf("source type %q requires an entity id", sourceType))
	}
	if !sourceType.RequiresID() && id != uuid.Nil {
		return Source{}, shared.NewDomainError("ledger", "NewSource", shared.ErrInvalidSource,
			fmt.Sprintf("source type %q does not reference an entity", sourceType))
	}
	return Source{Type: sourceType, ID: id}, nil
}

// UnitSource maps a content unit reference onto its ledger source.
func UnitSource(unit shared.UnitRef) (Source, error) {
	switch unit.Kind {
	case shared.UnitTopic:
		return NewSource(SourceTopic, unit.ID)
	case shared.UnitLesson:
		return NewSource(SourceLesson, unit.ID)
	case shared.UnitModule:
		return NewSource(SourceModule, unit.ID)
	default:
		return Source{}, shared.NewDomainError("ledger", "UnitSource", shared.ErrInvalidSource,
			fmt.Sprintf("unit kind %q has no ledger source", unit.Kind))
	}
}

// ManualSource returns the standalone source for staff actions.
func ManualSource() Source {
	return Source{Type: SourceManual}
}

// ReconciliationSource returns the standalone source for reconciliation
// corrections.
func ReconciliationSource() Source {
	return Source{Type: SourceReconciliation}
}

// String returns "type" or "type:id".
func (s Source) String() string {
	if s.ID == uuid.Nil {
		return string(s.Type)
	}
	return fmt.Sprintf("%s:%s", s.Type, s.ID)
}

// ══════════════════════════════════════════════════════════════════════════════
// COIN TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// Transaction is one append-only ledger entry. Amounts are signed: credits
// positive, debits negative. Rows are never mutated or deleted; the sum of
// a student's amounts must always equal their cached balance.
type Transaction struct {
	// ID - unique transaction identifier.
	ID uuid.UUID

	// StudentID - whose coins moved.
	StudentID shared.StudentID

	// Type - classification of the movement.
	Type TransactionType

	// Amount - signed coin delta.
	Amount shared.Coins

	// Source - what event caused the movement.
	Source Source

	// Description - human-readable context, e.g. "Completed: Pointers 101".
	Description string

	// Metadata - optional structured context. Penalties record the full
	// intended amount here when the applied debit was clamped.
	Metadata map[string]interface{}

	// CreatedAt - append time.
	CreatedAt time.Time
}

func newTransaction(id uuid.UUID, studentID shared.StudentID, txType TransactionType, amount shared.Coins, source Source, description string) (*Transaction, error) {
	if id == uuid.Nil {
		return nil, shared.NewDomainError("ledger", "newTransaction", shared.ErrInvalidID, "transaction id is required")
	}
	if studentID.IsZero() {
		return nil, shared.NewDomainError("ledger", "newTransaction", shared.ErrInvalidID, "student id is required")
	}
	if amount == 0 {
		return nil, shared.NewDomainError("ledger", "newTransaction", shared.ErrInvalidAmount, "amount must be non-zero")
	}

	return &Transaction{
		ID:          id,
		StudentID:   studentID,
		Type:        txType,
		Amount:      amount,
		Source:      source,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// NewEarned builds a reward transaction for a discrete source event.
func NewEarned(id uuid.UUID, studentID shared.StudentID, amount shared.Coins, source Source, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("ledger", "NewEarned", shared.ErrInvalidAmount, "earned amount must be positive")
	}
	return newTransaction(id, studentID, TypeEarned, amount, source, description)
}

// NewBonus builds a discretionary credit.
func NewBonus(id uuid.UUID, studentID shared.StudentID, amount shared.Coins, source Source, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("ledger", "NewBonus", shared.ErrInvalidAmount, "bonus amount must be positive")
	}
	return newTransaction(id, studentID, TypeBonus, amount, source, description)
}

// NewSpent builds a debit transaction. The amount parameter is the positive
// price; the stored amount is negated.
func NewSpent(id uuid.UUID, studentID shared.StudentID, amount shared.Coins, source Source, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("ledger", "NewSpent", shared.ErrInvalidAmount, "spend amount must be positive")
	}
	return newTransaction(id, studentID, TypeSpent, -amount, source, description)
}

// NewPenalty builds an administrative debit. appliedAmount is the clamped
// debit actually taken; intendedAmount, when larger, is preserved in
// metadata so the full penalty remains auditable.
func NewPenalty(id uuid.UUID, studentID shared.StudentID, appliedAmount, intendedAmount shared.Coins, reason string) (*Transaction, error) {
	if appliedAmount < 0 || intendedAmount <= 0 {
		return nil, shared.NewDomainError("ledger", "NewPenalty", shared.ErrInvalidAmount, "penalty amounts must be positive")
	}
	if appliedAmount > intendedAmount {
		return nil, shared.NewDomainError("ledger", "NewPenalty", shared.ErrInvalidAmount, "applied penalty cannot exceed intended penalty")
	}

	// Zero-effect rows are not appended; callers skip the penalty entirely
	// when the balance clamps the debit to nothing.
	if appliedAmount == 0 {
		return nil, shared.NewDomainError("ledger", "NewPenalty", shared.ErrInvalidAmount, "applied penalty must be positive")
	}

	tx, err := newTransaction(id, studentID, TypePenalty, -appliedAmount, ManualSource(), reason)
	if err != nil {
		return nil, err
	}

	if intendedAmount > appliedAmount {
		tx.Metadata = map[string]interface{}{
			"intended_amount": intendedAmount.Int64(),
			"clamped":         true,
		}
	}
	return tx, nil
}

// NewAdjustment builds a signed manual correction. Adjustments carry no
// idempotency contract: each call is a new deliberate staff action.
func NewAdjustment(id uuid.UUID, studentID shared.StudentID, delta shared.Coins, reason string) (*Transaction, error) {
	return newTransaction(id, studentID, TypeAdjustment, delta, ManualSource(), reason)
}

// NewReconciliationCorrection builds the adjustment row a reconciliation
// run appends when it detects drift, so the log itself explains the
// balance overwrite.
func NewReconciliationCorrection(id uuid.UUID, studentID shared.StudentID, delta shared.Coins) (*Transaction, error) {
	tx, err := newTransaction(id, studentID, TypeAdjustment, delta, ReconciliationSource(), "balance reconciliation correction")
	if err != nil {
		return nil, err
	}
	tx.Metadata = map[string]interface{}{"reconciliation": true}
	return tx, nil
}

// IsCredit reports whether the stored amount is positive.
func (t *Transaction) IsCredit() bool {
	return t.Amount > 0
}

// String returns a compact representation for logging.
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Student: %s, Type: %s, Amount: %d, Source: %s}",
		t.ID, t.StudentID, t.Type, t.Amount, t.Source)
}

// ══════════════════════════════════════════════════════════════════════════════
// COIN BALANCE
// ══════════════════════════════════════════════════════════════════════════════

// Balance is the materialized per-student balance row, keyed by student.
//
// Invariant: TotalBalance == LifetimeEarned - LifetimeSpent, never negative
// through normal operations.
type Balance struct {
	// StudentID - the row key.
	StudentID shared.StudentID

	// TotalBalance - spendable coins.
	TotalBalance shared.Coins

	// LifetimeEarned - sum of all credits ever received.
	LifetimeEarned shared.Coins

	// LifetimeSpent - sum of all debits ever taken, as a positive number.
	LifetimeSpent shared.Coins

	// CreatedAt - row creation time.
	CreatedAt time.Time

	// UpdatedAt - last movement time.
	UpdatedAt time.Time
}

// NewBalance creates a zeroed balance row for a student.
func NewBalance(studentID shared.StudentID) *Balance {
	now := time.Now().UTC()
	return &Balance{
		StudentID: studentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanAfford reports whether the balance covers the given price.
func (b *Balance) CanAfford(amount shared.Coins) bool {
	return b.TotalBalance >= amount
}

// CheckInvariant verifies total = earned - spent. A violation means the
// materialized row drifted from the transaction log.
func (b *Balance) CheckInvariant() error {
	if b.TotalBalance != b.LifetimeEarned-b.LifetimeSpent {
		return shared.WrapError("ledger", "CheckInvariant", shared.ErrReconciliation,
			fmt.Sprintf("balance drift for student %s: total=%d earned=%d spent=%d",
				b.StudentID, b.TotalBalance, b.LifetimeEarned, b.LifetimeSpent), shared.ErrBalanceDrift)
	}
	return nil
}

// RebuiltFromSums constructs the authoritative balance from replayed
// transaction sums. The total is clamped at zero; lifetime figures are
// kept as summed so the drift remains visible in the row itself.
func RebuiltFromSums(studentID shared.StudentID, earned, spent shared.Coins, createdAt time.Time) *Balance {
	total := earned - spent
	if total < 0 {
		total = 0
	}
	return &Balance{
		StudentID:      studentID,
		TotalBalance:   total,
		LifetimeEarned: earned,
		LifetimeSpent:  spent,
		CreatedAt:      createdAt,
		UpdatedAt:      time.Now().UTC(),
	}
}
