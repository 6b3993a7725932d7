// Package shared contains common domain types, errors, events, and value
// objects used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the progression engine; handlers use them for cache
// invalidation and operational logging.
const (
	// Enrollment events
	EventStudentEnrolled  EventType = "enrollment.student_enrolled"
	EventStudentWithdrawn EventType = "enrollment.student_withdrawn"

	// Progress events
	EventUnitStarted   EventType = "progress.unit_started"
	EventUnitCompleted EventType = "progress.unit_completed"
	EventUnitReset     EventType = "progress.unit_reset"
	EventWeekCompleted EventType = "progress.week_completed"
	EventCascadeFailed EventType = "progress.cascade_failed"

	// Unlock events
	EventWeekUnlocked EventType = "unlock.week_unlocked"

	// Ledger events
	EventCoinsAwarded      EventType = "ledger.coins_awarded"
	EventCoinsSpent        EventType = "ledger.coins_spent"
	EventPenaltyApplied    EventType = "ledger.penalty_applied"
	EventBalanceAdjusted   EventType = "ledger.balance_adjusted"
	EventBalanceReconciled EventType = "ledger.balance_reconciled"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrollment Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentEnrolledEvent is emitted when a student joins a cohort and the
// per-week progress rows are pre-created.
type StudentEnrolledEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	CohortID  string `json:"cohort_id"`
	WeekCount int    `json:"week_count"`
}

// Payload implements Event interface.
func (e StudentEnrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"cohort_id":  e.CohortID,
		"week_count": e.WeekCount,
	}
}

// NewStudentEnrolledEvent creates a new StudentEnrolledEvent.
func NewStudentEnrolledEvent(studentID, cohortID string, weekCount int) StudentEnrolledEvent {
	return StudentEnrolledEvent{
		BaseEvent: NewBaseEvent(EventStudentEnrolled, studentID),
		StudentID: studentID,
		CohortID:  cohortID,
		WeekCount: weekCount,
	}
}

// StudentWithdrawnEvent is emitted when an enrollment is archived.
type StudentWithdrawnEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	CohortID  string `json:"cohort_id"`
}

// Payload implements Event interface.
func (e StudentWithdrawnEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"cohort_id":  e.CohortID,
	}
}

// NewStudentWithdrawnEvent creates a new StudentWithdrawnEvent.
func NewStudentWithdrawnEvent(studentID, cohortID string) StudentWithdrawnEvent {
	return StudentWithdrawnEvent{
		BaseEvent: NewBaseEvent(EventStudentWithdrawn, studentID),
		StudentID: studentID,
		CohortID:  cohortID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// UnitStartedEvent is emitted on the first touch of a content unit.
type UnitStartedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	UnitKind  string `json:"unit_kind"`
	UnitID    string `json:"unit_id"`
}

// Payload implements Event interface.
func (e UnitStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"unit_kind":  e.UnitKind,
		"unit_id":    e.UnitID,
	}
}

// NewUnitStartedEvent creates a new UnitStartedEvent.
func NewUnitStartedEvent(studentID string, unit UnitRef) UnitStartedEvent {
	return UnitStartedEvent{
		BaseEvent: NewBaseEvent(EventUnitStarted, studentID),
		StudentID: studentID,
		UnitKind:  string(unit.Kind),
		UnitID:    unit.ID.String(),
	}
}

// UnitCompletedEvent is emitted exactly once per (student, unit) when the
// completion record transitions to completed.
type UnitCompletedEvent struct {
	BaseEvent
	StudentID    string `json:"student_id"`
	UnitKind     string `json:"unit_kind"`
	UnitID       string `json:"unit_id"`
	CoinsAwarded int64  `json:"coins_awarded"`
}

// Payload implements Event interface.
func (e UnitCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"unit_kind":     e.UnitKind,
		"unit_id":       e.UnitID,
		"coins_awarded": e.CoinsAwarded,
	}
}

// NewUnitCompletedEvent creates a new UnitCompletedEvent.
func NewUnitCompletedEvent(studentID string, unit UnitRef, coins Coins) UnitCompletedEvent {
	return UnitCompletedEvent{
		BaseEvent:    NewBaseEvent(EventUnitCompleted, studentID),
		StudentID:    studentID,
		UnitKind:     string(unit.Kind),
		UnitID:       unit.ID.String(),
		CoinsAwarded: coins.Int64(),
	}
}

// UnitResetEvent is emitted when an administrator deletes a completion
// record so a student can redo the unit.
type UnitResetEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	UnitKind  string `json:"unit_kind"`
	UnitID    string `json:"unit_id"`
}

// Payload implements Event interface.
func (e UnitResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"unit_kind":  e.UnitKind,
		"unit_id":    e.UnitID,
	}
}

// NewUnitResetEvent creates a new UnitResetEvent.
func NewUnitResetEvent(studentID string, unit UnitRef) UnitResetEvent {
	return UnitResetEvent{
		BaseEvent: NewBaseEvent(EventUnitReset, studentID),
		StudentID: studentID,
		UnitKind:  string(unit.Kind),
		UnitID:    unit.ID.String(),
	}
}

// WeekCompletedEvent is emitted when a week's aggregate reaches 100%.
type WeekCompletedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	CohortID   string `json:"cohort_id"`
	WeekID     string `json:"week_id"`
	WeekNumber int    `json:"week_number"`
}

// Payload implements Event interface.
func (e WeekCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"cohort_id":   e.CohortID,
		"week_id":     e.WeekID,
		"week_number": e.WeekNumber,
	}
}

// NewWeekCompletedEvent creates a new WeekCompletedEvent.
func NewWeekCompletedEvent(studentID, cohortID, weekID string, weekNumber int) WeekCompletedEvent {
	return WeekCompletedEvent{
		BaseEvent:  NewBaseEvent(EventWeekCompleted, studentID),
		StudentID:  studentID,
		CohortID:   cohortID,
		WeekID:     weekID,
		WeekNumber: weekNumber,
	}
}

// CascadeFailedEvent is emitted when a best-effort recalculation fails
// after its triggering leaf completion has already committed.
type CascadeFailedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	UnitKind  string `json:"unit_kind"`
	UnitID    string `json:"unit_id"`
	Step      string `json:"step"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e CascadeFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"unit_kind":  e.UnitKind,
		"unit_id":    e.UnitID,
		"step":       e.Step,
		"reason":     e.Reason,
	}
}

// NewCascadeFailedEvent creates a new CascadeFailedEvent.
func NewCascadeFailedEvent(studentID string, unit UnitRef, step, reason string) CascadeFailedEvent {
	return CascadeFailedEvent{
		BaseEvent: NewBaseEvent(EventCascadeFailed, studentID),
		StudentID: studentID,
		UnitKind:  string(unit.Kind),
		UnitID:    unit.ID.String(),
		Step:      step,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Unlock Events
// ═══════════════════════════════════════════════════════════════════════════

// WeekUnlockedEvent is emitted when a week becomes accessible to a student.
type WeekUnlockedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	CohortID   string `json:"cohort_id"`
	WeekID     string `json:"week_id"`
	WeekNumber int    `json:"week_number"`
}

// Payload implements Event interface.
func (e WeekUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"cohort_id":   e.CohortID,
		"week_id":     e.WeekID,
		"week_number": e.WeekNumber,
	}
}

// NewWeekUnlockedEvent creates a new WeekUnlockedEvent.
func NewWeekUnlockedEvent(studentID, cohortID, weekID string, weekNumber int) WeekUnlockedEvent {
	return WeekUnlockedEvent{
		BaseEvent:  NewBaseEvent(EventWeekUnlocked, studentID),
		StudentID:  studentID,
		CohortID:   cohortID,
		WeekID:     weekID,
		WeekNumber: weekNumber,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// CoinsAwardedEvent is emitted after a successful earned/bonus credit.
type CoinsAwardedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	Amount        int64  `json:"amount"`
	SourceType    string `json:"source_type"`
	SourceID      string `json:"source_id,omitempty"`
	TransactionID string `json:"transaction_id"`
}

// Payload implements Event interface.
func (e CoinsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"amount":         e.Amount,
		"source_type":    e.SourceType,
		"source_id":      e.SourceID,
		"transaction_id": e.TransactionID,
	}
}

// NewCoinsAwardedEvent creates a new CoinsAwardedEvent.
func NewCoinsAwardedEvent(studentID string, amount Coins, sourceType, sourceID, txID string) CoinsAwardedEvent {
	return CoinsAwardedEvent{
		BaseEvent:     NewBaseEvent(EventCoinsAwarded, studentID),
		StudentID:     studentID,
		Amount:        amount.Int64(),
		SourceType:    sourceType,
		SourceID:      sourceID,
		TransactionID: txID,
	}
}

// CoinsSpentEvent is emitted after a successful debit.
type CoinsSpentEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	Amount        int64  `json:"amount"`
	SourceType    string `json:"source_type"`
	TransactionID string `json:"transaction_id"`
}

// Payload implements Event interface.
func (e CoinsSpentEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"amount":         e.Amount,
		"source_type":    e.SourceType,
		"transaction_id": e.TransactionID,
	}
}

// NewCoinsSpentEvent creates a new CoinsSpentEvent.
func NewCoinsSpentEvent(studentID string, amount Coins, sourceType, txID string) CoinsSpentEvent {
	return CoinsSpentEvent{
		BaseEvent:     NewBaseEvent(EventCoinsSpent, studentID),
		StudentID:     studentID,
		Amount:        amount.Int64(),
		SourceType:    sourceType,
		TransactionID: txID,
	}
}

// PenaltyAppliedEvent is emitted after a penalty debit that may take the
// balance negative.
type PenaltyAppliedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transaction_id"`
}

// Payload implements Event interface.
func (e PenaltyAppliedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"amount":         e.Amount,
		"reason":         e.Reason,
		"transaction_id": e.TransactionID,
	}
}

// NewPenaltyAppliedEvent creates a new PenaltyAppliedEvent.
func NewPenaltyAppliedEvent(studentID string, amount Coins, reason, txID string) PenaltyAppliedEvent {
	return PenaltyAppliedEvent{
		BaseEvent:     NewBaseEvent(EventPenaltyApplied, studentID),
		StudentID:     studentID,
		Amount:        amount.Int64(),
		Reason:        reason,
		TransactionID: txID,
	}
}

// BalanceAdjustedEvent is emitted after a manual adjustment by an operator.
type BalanceAdjustedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transaction_id"`
}

// Payload implements Event interface.
func (e BalanceAdjustedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"amount":         e.Amount,
		"reason":         e.Reason,
		"transaction_id": e.TransactionID,
	}
}

// NewBalanceAdjustedEvent creates a new BalanceAdjustedEvent.
func NewBalanceAdjustedEvent(studentID string, amount Coins, reason, txID string) BalanceAdjustedEvent {
	return BalanceAdjustedEvent{
		BaseEvent:     NewBaseEvent(EventBalanceAdjusted, studentID),
		StudentID:     studentID,
		Amount:        amount.Int64(),
		Reason:        reason,
		TransactionID: txID,
	}
}

// BalanceReconciledEvent is emitted after a reconciliation run.
type BalanceReconciledEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	PreviousTotal int64  `json:"previous_total"`
	NewTotal      int64  `json:"new_total"`
	DriftDetected bool   `json:"drift_detected"`
}

// Payload implements Event interface.
func (e BalanceReconciledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"previous_total": e.PreviousTotal,
		"new_total":      e.NewTotal,
		"drift_detected": e.DriftDetected,
	}
}

// NewBalanceReconciledEvent creates a new BalanceReconciledEvent.
func NewBalanceReconciledEvent(studentID string, previous, current Coins, drift bool) BalanceReconciledEvent {
	return BalanceReconciledEvent{
		BaseEvent:     NewBaseEvent(EventBalanceReconciled, studentID),
		StudentID:     studentID,
		PreviousTotal: previous.Int64(),
		NewTotal:      current.Int64(),
		DriftDetected: drift,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
