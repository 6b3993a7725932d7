package eventhandler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/progression-engine/internal/application/eventhandler"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBus is a synchronous shared.EventSubscriber. Dispatch runs every
// handler registered for the event's type.
type fakeBus struct {
	handlers map[shared.EventType][]shared.EventHandler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[shared.EventType][]shared.EventHandler)}
}

func (b *fakeBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

func (b *fakeBus) SubscribeAll(_ shared.EventHandler) error { return nil }

func (b *fakeBus) Dispatch(t *testing.T, event shared.Event) {
	t.Helper()
	for _, handler := range b.handlers[event.EventType()] {
		require.NoError(t, handler(event))
	}
}

// spyProgressCache records which invalidation path ran.
type spyProgressCache struct {
	targeted    []uuid.UUID
	studentWide int
	err         error
}

func (c *spyProgressCache) GetWeekProgress(_ context.Context, _ shared.StudentID, _ uuid.UUID) ([]*enrollment.WeekProgress, error) {
	return nil, shared.ErrNotFound
}

func (c *spyProgressCache) SetWeekProgress(_ context.Context, _ shared.StudentID, _ uuid.UUID, _ []*enrollment.WeekProgress, _ time.Duration) error {
	return nil
}

func (c *spyProgressCache) InvalidateWeekProgress(_ context.Context, _ shared.StudentID, cohortID uuid.UUID) error {
	c.targeted = append(c.targeted, cohortID)
	return c.err
}

func (c *spyProgressCache) InvalidateStudent(_ context.Context, _ shared.StudentID) error {
	c.studentWide++
	return c.err
}

// spyBalanceCache counts balance invalidations.
type spyBalanceCache struct {
	invalidations int
	err           error
}

func (c *spyBalanceCache) GetBalance(_ context.Context, _ shared.StudentID) (*ledger.Balance, error) {
	return nil, shared.ErrNotFound
}

func (c *spyBalanceCache) SetBalance(_ context.Context, _ *ledger.Balance, _ time.Duration) error {
	return nil
}

func (c *spyBalanceCache) InvalidateBalance(_ context.Context, _ shared.StudentID) error {
	c.invalidations++
	return c.err
}

// ─────────────────────────────────────────────────────────────────────────────
// OnProgressChangedHandler
// ─────────────────────────────────────────────────────────────────────────────

func TestOnProgressChanged_CohortEventTargetsOneCohort(t *testing.T) {
	progress := &spyProgressCache{}
	balance := &spyBalanceCache{}
	bus := newFakeBus()

	handler := eventhandler.NewOnProgressChangedHandler(progress, balance, discardLogger())
	require.NoError(t, handler.Register(bus))

	studentID := uuid.New().String()
	cohortID := uuid.New()
	bus.Dispatch(t, shared.NewWeekUnlockedEvent(studentID, cohortID.String(), uuid.New().String(), 2))

	require.Len(t, progress.targeted, 1)
	assert.Equal(t, cohortID, progress.targeted[0])
	assert.Zero(t, progress.studentWide)
	assert.Zero(t, balance.invalidations, "unlock does not touch the ledger")
}

func TestOnProgressChanged_CompletionStalesBothCaches(t *testing.T) {
	progress := &spyProgressCache{}
	balance := &spyBalanceCache{}
	bus := newFakeBus()

	handler := eventhandler.NewOnProgressChangedHandler(progress, balance, discardLogger())
	require.NoError(t, handler.Register(bus))

	unit, err := shared.NewUnitRef(shared.UnitTopic, uuid.New())
	require.NoError(t, err)
	bus.Dispatch(t, shared.NewUnitCompletedEvent(uuid.New().String(), unit, shared.Coins(10)))

	// The completion payload names no cohort, so the whole student
	// entry goes.
	assert.Equal(t, 1, progress.studentWide)
	assert.Empty(t, progress.targeted)
	assert.Equal(t, 1, balance.invalidations)
}

func TestOnProgressChanged_LedgerEventDropsBalanceOnly(t *testing.T) {
	progress := &spyProgressCache{}
	balance := &spyBalanceCache{}
	bus := newFakeBus()

	handler := eventhandler.NewOnProgressChangedHandler(progress, balance, discardLogger())
	require.NoError(t, handler.Register(bus))

	bus.Dispatch(t, shared.NewCoinsAwardedEvent(uuid.New().String(), shared.Coins(50), string(ledger.SourceManual), "", uuid.New().String()))

	assert.Equal(t, 1, balance.invalidations)
	assert.Zero(t, progress.studentWide)
	assert.Empty(t, progress.targeted)
}

func TestOnProgressChanged_NilCachesAreNoOps(t *testing.T) {
	bus := newFakeBus()
	handler := eventhandler.NewOnProgressChangedHandler(nil, nil, discardLogger())
	require.NoError(t, handler.Register(bus))

	unit, err := shared.NewUnitRef(shared.UnitTopic, uuid.New())
	require.NoError(t, err)
	bus.Dispatch(t, shared.NewUnitCompletedEvent(uuid.New().String(), unit, shared.Coins(10)))
}

func TestOnProgressChanged_MalformedStudentIDIsSwallowed(t *testing.T) {
	progress := &spyProgressCache{}
	handler := eventhandler.NewOnProgressChangedHandler(progress, nil, discardLogger())

	event := shared.NewWeekUnlockedEvent("not-a-uuid", uuid.New().String(), uuid.New().String(), 2)
	require.NoError(t, handler.HandleProgressEvent(event))
	assert.Empty(t, progress.targeted)
	assert.Zero(t, progress.studentWide)
}

func TestOnProgressChanged_InvalidationErrorDoesNotFailTheEvent(t *testing.T) {
	progress := &spyProgressCache{err: errors.New("redis gone")}
	balance := &spyBalanceCache{err: errors.New("redis gone")}
	handler := eventhandler.NewOnProgressChangedHandler(progress, balance, discardLogger())

	event := shared.NewWeekUnlockedEvent(uuid.New().String(), uuid.New().String(), uuid.New().String(), 2)
	require.NoError(t, handler.HandleProgressEvent(event))
	require.NoError(t, handler.HandleLedgerEvent(event))
}

// ─────────────────────────────────────────────────────────────────────────────
// OnCascadeFailedHandler
// ─────────────────────────────────────────────────────────────────────────────

// recordingHandler captures log records for level assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(_ string) slog.Handler      { return h }

func (h *recordingHandler) levels() []slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	levels := make([]slog.Level, 0, len(h.records))
	for _, record := range h.records {
		levels = append(levels, record.Level)
	}
	return levels
}

func cascadeEvent(studentID string) shared.Event {
	unit, _ := shared.NewUnitRef(shared.UnitTopic, uuid.New())
	return shared.NewCascadeFailedEvent(studentID, unit, "week_aggregate", "storage unavailable")
}

func TestOnCascadeFailed_EscalatesAfterThreshold(t *testing.T) {
	sink := &recordingHandler{}
	handler := eventhandler.NewOnCascadeFailedHandler(slog.New(sink), eventhandler.CascadeFailedConfig{
		EscalationThreshold: 2,
		Window:              time.Minute,
	})

	studentID := uuid.New().String()
	require.NoError(t, handler.Handle(cascadeEvent(studentID)))
	require.NoError(t, handler.Handle(cascadeEvent(studentID)))

	assert.Equal(t, []slog.Level{slog.LevelWarn, slog.LevelError}, sink.levels())
}

func TestOnCascadeFailed_CountsPerStudent(t *testing.T) {
	sink := &recordingHandler{}
	handler := eventhandler.NewOnCascadeFailedHandler(slog.New(sink), eventhandler.CascadeFailedConfig{
		EscalationThreshold: 2,
		Window:              time.Minute,
	})

	require.NoError(t, handler.Handle(cascadeEvent(uuid.New().String())))
	require.NoError(t, handler.Handle(cascadeEvent(uuid.New().String())))

	assert.Equal(t, []slog.Level{slog.LevelWarn, slog.LevelWarn}, sink.levels())
}

func TestOnCascadeFailed_OldFailuresAgeOut(t *testing.T) {
	sink := &recordingHandler{}
	handler := eventhandler.NewOnCascadeFailedHandler(slog.New(sink), eventhandler.CascadeFailedConfig{
		EscalationThreshold: 2,
		Window:              10 * time.Millisecond,
	})

	studentID := uuid.New().String()
	require.NoError(t, handler.Handle(cascadeEvent(studentID)))
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, handler.Handle(cascadeEvent(studentID)))

	assert.Equal(t, []slog.Level{slog.LevelWarn, slog.LevelWarn}, sink.levels())
}
