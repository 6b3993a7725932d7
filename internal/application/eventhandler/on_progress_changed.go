// Package eventhandler contains handlers for domain events.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Keeps the read caches honest. Every mutating progression or ledger
// event drops the affected cache entries so the next dashboard read
// sees fresh rows. Invalidation is best-effort: a failed delete is
// logged and the TTL picks up the slack.
// ═══════════════════════════════════════════════════════════════════════════

// invalidateTimeout bounds how long a cache delete may take inside an
// event handler.
const invalidateTimeout = 2 * time.Second

// OnProgressChangedHandler invalidates caches on mutating events.
type OnProgressChangedHandler struct {
	progressCache enrollment.ProgressCache
	balanceCache  ledger.BalanceCache
	logger        *slog.Logger
}

// NewOnProgressChangedHandler creates the invalidation handler. Either
// cache may be nil when that cache tier is disabled.
func NewOnProgressChangedHandler(
	progressCache enrollment.ProgressCache,
	balanceCache ledger.BalanceCache,
	logger *slog.Logger,
) *OnProgressChangedHandler {
	return &OnProgressChangedHandler{
		progressCache: progressCache,
		balanceCache:  balanceCache,
		logger:        logger.With("component", "on_progress_changed"),
	}
}

// Register subscribes the handler to every event that mutates cached
// read models.
func (h *OnProgressChangedHandler) Register(bus shared.EventSubscriber) error {
	progressEvents := []shared.EventType{
		shared.EventStudentEnrolled,
		shared.EventStudentWithdrawn,
		shared.EventUnitCompleted,
		shared.EventUnitReset,
		shared.EventWeekCompleted,
		shared.EventWeekUnlocked,
	}
	for _, eventType := range progressEvents {
		if err := bus.Subscribe(eventType, h.HandleProgressEvent); err != nil {
			return err
		}
	}

	ledgerEvents := []shared.EventType{
		shared.EventCoinsAwarded,
		shared.EventCoinsSpent,
		shared.EventPenaltyApplied,
		shared.EventBalanceAdjusted,
		shared.EventBalanceReconciled,
		// Completions credit coins in the same transaction, so they
		// stale the balance too.
		shared.EventUnitCompleted,
		shared.EventWeekCompleted,
	}
	for _, eventType := range ledgerEvents {
		if err := bus.Subscribe(eventType, h.HandleLedgerEvent); err != nil {
			return err
		}
	}
	return nil
}

// HandleProgressEvent drops the student's cached week progress.
func (h *OnProgressChangedHandler) HandleProgressEvent(event shared.Event) error {
	if h.progressCache == nil {
		return nil
	}
	studentID, err := shared.NewStudentID(event.AggregateID())
	if err != nil {
		h.logger.Warn("event carries malformed student id",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	// Events that name the cohort allow a targeted delete; the rest
	// drop everything the student has cached.
	if cohortID, ok := eventCohortID(event); ok {
		err = h.progressCache.InvalidateWeekProgress(ctx, studentID, cohortID)
	} else {
		err = h.progressCache.InvalidateStudent(ctx, studentID)
	}
	if err != nil {
		h.logger.Warn("progress cache invalidation failed",
			"event_type", event.EventType(),
			"student_id", studentID.String(),
			"error", err,
		)
	}
	return nil
}

// HandleLedgerEvent drops the student's cached balance.
func (h *OnProgressChangedHandler) HandleLedgerEvent(event shared.Event) error {
	if h.balanceCache == nil {
		return nil
	}
	studentID, err := shared.NewStudentID(event.AggregateID())
	if err != nil {
		h.logger.Warn("event carries malformed student id",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	if err := h.balanceCache.InvalidateBalance(ctx, studentID); err != nil {
		h.logger.Warn("balance cache invalidation failed",
			"event_type", event.EventType(),
			"student_id", studentID.String(),
			"error", err,
		)
	}
	return nil
}

// eventCohortID extracts the cohort from the event payload when present.
func eventCohortID(event shared.Event) (uuid.UUID, bool) {
	raw, ok := event.Payload()["cohort_id"]
	if !ok {
		return uuid.Nil, false
	}
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
