// Package shared contains common domain types, errors, events, and value
// objects used across all domain packages.
package shared

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// StudentID identifies a student across the platform.
type StudentID uuid.UUID

// NewStudentID parses a StudentID from its string form.
func NewStudentID(s string) (StudentID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return StudentID{}, NewDomainError("shared", "NewStudentID", ErrInvalidID, "invalid student ID format")
	}
	return StudentID(id), nil
}

// IsZero reports whether the ID is unset.
func (s StudentID) IsZero() bool {
	return uuid.UUID(s) == uuid.Nil
}

// UUID returns the underlying uuid.UUID.
func (s StudentID) UUID() uuid.UUID {
	return uuid.UUID(s)
}

// String returns the canonical string form.
func (s StudentID) String() string {
	return uuid.UUID(s).String()
}

// ═══════════════════════════════════════════════════════════════════════════
// Content Unit References
// ═══════════════════════════════════════════════════════════════════════════

// UnitKind discriminates the nesting level of a content unit that carries
// its own completion record.
type UnitKind string

const (
	UnitTopic  UnitKind = "topic"
	UnitLesson UnitKind = "lesson"
	UnitModule UnitKind = "module"
)

// IsValid reports whether the kind is one of the known unit kinds.
func (k UnitKind) IsValid() bool {
	switch k {
	case UnitTopic, UnitLesson, UnitModule:
		return true
	}
	return false
}

// String returns the string representation.
func (k UnitKind) String() string {
	return string(k)
}

// UnitRef is a typed reference to a single content unit. The kind
// discriminates which completion table and content table the ID points
// into, so an invalid (kind, id) pairing is unrepresentable downstream.
type UnitRef struct {
	Kind UnitKind
	ID   uuid.UUID
}

// NewUnitRef builds a validated unit reference.
func NewUnitRef(kind UnitKind, id uuid.UUID) (UnitRef, error) {
	if !kind.IsValid() {
		return UnitRef{}, NewDomainError("shared", "NewUnitRef", ErrInvalidInput, fmt.Sprintf("unknown unit kind %q", kind))
	}
	if id == uuid.Nil {
		return UnitRef{}, NewDomainError("shared", "NewUnitRef", ErrInvalidID, "unit ID is required")
	}
	return UnitRef{Kind: kind, ID: id}, nil
}

// IsZero reports whether the reference is unset.
func (r UnitRef) IsZero() bool {
	return r.ID == uuid.Nil
}

// String returns "kind:id" for logging and cache keys.
func (r UnitRef) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

// ═══════════════════════════════════════════════════════════════════════════
// Percentage
// ═══════════════════════════════════════════════════════════════════════════

// Percentage is a completion percentage carried with two-decimal fixed
// precision in [0, 100].
type Percentage float64

const (
	// PercentageComplete is the terminal completion percentage.
	PercentageComplete Percentage = 100
)

// NewPercentage clamps the raw value into [0, 100] and rounds to two
// decimals.
func NewPercentage(v float64) Percentage {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return Percentage(math.Round(v*100) / 100)
}

// ComputePercentage derives the percentage of completed over total items.
// A unit with nothing required counts as fully complete.
func ComputePercentage(completed, total int) Percentage {
	if total <= 0 {
		return PercentageComplete
	}
	if completed < 0 {
		completed = 0
	}
	if completed > total {
		completed = total
	}
	return NewPercentage(float64(completed) / float64(total) * 100)
}

// Float64 returns the underlying value.
func (p Percentage) Float64() float64 {
	return float64(p)
}

// IsComplete reports whether the percentage has reached 100.
func (p Percentage) IsComplete() bool {
	return p >= PercentageComplete
}

// String formats the percentage with two decimals.
func (p Percentage) String() string {
	return fmt.Sprintf("%.2f", float64(p))
}

// ═══════════════════════════════════════════════════════════════════════════
// Coins
// ═══════════════════════════════════════════════════════════════════════════

// Coins is an integer amount of the platform's virtual currency. Ledger
// transaction amounts are signed; balances are never negative.
type Coins int64

// Int64 returns the underlying amount.
func (c Coins) Int64() int64 {
	return int64(c)
}

// IsPositive reports whether the amount is strictly positive.
func (c Coins) IsPositive() bool {
	return c > 0
}

// Abs returns the absolute amount.
func (c Coins) Abs() Coins {
	if c < 0 {
		return -c
	}
	return c
}

// String returns the amount with the coin suffix used in user-facing
// requirement summaries.
func (c Coins) String() string {
	return fmt.Sprintf("%d coins", int64(c))
}
