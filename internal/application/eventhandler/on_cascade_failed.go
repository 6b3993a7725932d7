package eventhandler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CASCADE FAILED HANDLER
// Operational watchdog for cascade degradation. A single cascade
// failure is self-healing: the next completion re-runs the projection.
// Repeated failures for the same student are not, so the handler
// tracks them and escalates the log level once they pile up.
// ═══════════════════════════════════════════════════════════════════════════

// CascadeFailedConfig tunes the escalation behavior.
type CascadeFailedConfig struct {
	// EscalationThreshold is how many failures within the window turn
	// warnings into errors.
	EscalationThreshold int

	// Window is how long a failure counts toward the threshold.
	Window time.Duration
}

// DefaultCascadeFailedConfig returns the default escalation settings.
func DefaultCascadeFailedConfig() CascadeFailedConfig {
	return CascadeFailedConfig{
		EscalationThreshold: 3,
		Window:              15 * time.Minute,
	}
}

// OnCascadeFailedHandler logs and escalates cascade failures.
type OnCascadeFailedHandler struct {
	logger *slog.Logger
	config CascadeFailedConfig
	now    func() time.Time

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewOnCascadeFailedHandler creates the watchdog handler.
func NewOnCascadeFailedHandler(logger *slog.Logger, config CascadeFailedConfig) *OnCascadeFailedHandler {
	if config.EscalationThreshold <= 0 {
		config = DefaultCascadeFailedConfig()
	}
	return &OnCascadeFailedHandler{
		logger:   logger.With("component", "on_cascade_failed"),
		config:   config,
		now:      time.Now,
		failures: make(map[string][]time.Time),
	}
}

// Register subscribes the handler to cascade failure events.
func (h *OnCascadeFailedHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventCascadeFailed, h.Handle)
}

// Handle records one failure and logs it at the appropriate level.
func (h *OnCascadeFailedHandler) Handle(event shared.Event) error {
	payload := event.Payload()
	studentID := event.AggregateID()
	count := h.recordFailure(studentID)

	attrs := []any{
		"student_id", studentID,
		"failed_step", payload["failed_step"],
		"reason", payload["reason"],
		"recent_failures", count,
	}

	if count >= h.config.EscalationThreshold {
		h.logger.Error("cascade repeatedly failing, aggregates are stale and not healing", attrs...)
	} else {
		h.logger.Warn("cascade failed, aggregates stale until next completion", attrs...)
	}
	return nil
}

// recordFailure appends a failure timestamp, prunes entries outside the
// window, and returns the count inside it.
func (h *OnCascadeFailedHandler) recordFailure(studentID string) int {
	now := h.now()
	cutoff := now.Add(-h.config.Window)

	h.mu.Lock()
	defer h.mu.Unlock()

	recent := h.failures[studentID][:0]
	for _, t := range h.failures[studentID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	h.failures[studentID] = recent
	return len(recent)
}
