// Package shared contains common domain types, errors, events, and value
// objects used across all domain packages. This package has zero external
// dependencies beyond uuid.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// Progression errors
	ErrEligibility  = errors.New("eligibility requirements not met")
	ErrUnlockDenied = errors.New("unlock requirements not satisfied")

	// Ledger errors
	ErrReconciliation = errors.New("ledger reconciliation mismatch")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "unlock", "ledger"
	Op      string // Operation that failed, e.g., "CompleteUnit"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Enrollment domain errors
var (
	ErrEnrollmentNotFound   = NewDomainError("enrollment", "Find", ErrNotFound, "enrollment not found")
	ErrEnrollmentExists     = NewDomainError("enrollment", "Create", ErrAlreadyExists, "student is already enrolled in this cohort")
	ErrEnrollmentNotActive  = NewDomainError("enrollment", "CheckStatus", ErrInvalidState, "enrollment is not active")
	ErrWeekProgressNotFound = NewDomainError("enrollment", "FindWeekProgress", ErrNotFound, "week progress not found")
	ErrInvalidEnrollStatus  = NewDomainError("enrollment", "UpdateStatus", ErrStateTransition, "invalid enrollment status transition")
)

// Content domain errors
var (
	ErrCohortNotFound = NewDomainError("content", "FindCohort", ErrNotFound, "cohort not found")
	ErrWeekNotFound   = NewDomainError("content", "FindWeek", ErrNotFound, "week not found")
	ErrUnitNotFound   = NewDomainError("content", "FindUnit", ErrNotFound, "content unit not found")
)

// Progress domain errors
var (
	ErrCompletionNotFound  = NewDomainError("progress", "Find", ErrNotFound, "completion record not found")
	ErrAlreadyCompleted    = NewDomainError("progress", "CompleteUnit", ErrAlreadyProcessed, "unit already completed")
	ErrWeekLocked          = NewDomainError("progress", "CheckAccess", ErrEligibility, "Week must be unlocked to access this content")
	ErrMinimumTimeNotMet   = NewDomainError("progress", "CompleteUnit", ErrEligibility, "minimum time on unit not reached")
	ErrPrerequisiteMissing = NewDomainError("progress", "CompleteUnit", ErrEligibility, "prerequisite unit is not completed")
)

// Unlock domain errors
var (
	ErrWeekAlreadyUnlocked = NewDomainError("unlock", "UnlockWeek", ErrAlreadyProcessed, "week is already unlocked")
	ErrUnlockRequirements  = NewDomainError("unlock", "UnlockWeek", ErrUnlockDenied, "unlock requirements are not satisfied")
	ErrPreviousWeekPending = NewDomainError("unlock", "CanUnlock", ErrUnlockDenied, "previous week is not completed")
)

// Ledger domain errors
var (
	ErrTransactionNotFound = NewDomainError("ledger", "Find", ErrNotFound, "transaction not found")
	ErrBalanceNotFound     = NewDomainError("ledger", "FindBalance", ErrNotFound, "coin balance not found")
	ErrInvalidAmount       = NewDomainError("ledger", "Validate", ErrValueOutOfRange, "amount must be positive")
	ErrInvalidSource       = NewDomainError("ledger", "Validate", ErrInvalidInput, "invalid transaction source")
	ErrBalanceDrift        = NewDomainError("ledger", "Reconcile", ErrReconciliation, "cached balance disagrees with transaction history")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsEligibility checks if the error is an eligibility failure. These are
// user-correctable and surfaced to the caller as actionable messages.
func IsEligibility(err error) bool {
	return errors.Is(err, ErrEligibility)
}

// IsUnlockDenied checks if the error is an unlock denial.
func IsUnlockDenied(err error) bool {
	return errors.Is(err, ErrUnlockDenied)
}

// IsReconciliation checks if the error is a ledger integrity alarm.
func IsReconciliation(err error) bool {
	return errors.Is(err, ErrReconciliation)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}
