package messaging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/progression-engine/internal/domain/shared"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *InMemoryEventBus) {
	t.Helper()

	busConfig := DefaultInMemoryEventBusConfig()
	busConfig.AsyncMode = false
	bus := NewInMemoryEventBus(busConfig)

	config := DefaultDispatcherConfig(bus)
	config.RetryConfig.InitialBackoff = time.Millisecond
	config.RetryConfig.MaxBackoff = 5 * time.Millisecond

	d := NewDispatcher(config)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		_ = d.Stop()
		_ = bus.Close()
	})

	return d, bus
}

func publish(t *testing.T, bus *InMemoryEventBus, event shared.Event) {
	t.Helper()
	require.NoError(t, bus.Publish(event))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_RoutesEventToSubscriber(t *testing.T) {
	d, bus := newTestDispatcher(t)

	var got atomic.Int64
	done := make(chan struct{})
	require.NoError(t, d.Subscribe(shared.EventWeekUnlocked, func(event shared.Event) error {
		got.Add(1)
		close(done)
		return nil
	}))

	publish(t, bus, shared.NewWeekUnlockedEvent("student-1", "cohort-1", "week-1", 2))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
	assert.Equal(t, int64(1), got.Load())
}

func TestDispatcher_SubscribeAllSeesEveryEvent(t *testing.T) {
	d, bus := newTestDispatcher(t)

	var mu sync.Mutex
	var seen []shared.EventType
	var wg sync.WaitGroup
	wg.Add(2)

	require.NoError(t, d.SubscribeAll(func(event shared.Event) error {
		mu.Lock()
		seen = append(seen, event.EventType())
		mu.Unlock()
		wg.Done()
		return nil
	}))

	publish(t, bus, shared.NewWeekUnlockedEvent("student-1", "cohort-1", "week-1", 2))
	publish(t, bus, shared.NewStudentEnrolledEvent("student-1", "cohort-1", 10))

	waitGroupWithin(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []shared.EventType{shared.EventWeekUnlocked, shared.EventStudentEnrolled}, seen)
}

func TestDispatcher_RetriesThenDeadLetters(t *testing.T) {
	d, bus := newTestDispatcher(t)

	var attempts atomic.Int64
	require.NoError(t, d.RegisterHandler(shared.EventWeekUnlocked, HandlerRegistration{
		Name:       "always-fails",
		MaxRetries: 2,
		Timeout:    time.Second,
		Handler: func(event shared.Event) error {
			attempts.Add(1)
			return errors.New("boom")
		},
	}))

	publish(t, bus, shared.NewWeekUnlockedEvent("student-1", "cohort-1", "week-1", 2))

	require.Eventually(t, func() bool {
		return d.DeadLetterQueue().Size() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(3), attempts.Load())

	entry, ok := d.DeadLetterQueue().Pop()
	require.True(t, ok)
	assert.Equal(t, "always-fails", entry.HandlerName)
	assert.Equal(t, 3, entry.Attempts)
}

func TestDispatcher_RecoveryMiddlewareStopsPanic(t *testing.T) {
	d, bus := newTestDispatcher(t)
	d.Use(RecoveryMiddleware(testLogger()))

	require.NoError(t, d.RegisterHandler(shared.EventWeekUnlocked, HandlerRegistration{
		Name:       "panics",
		MaxRetries: 1,
		Timeout:    time.Second,
		Handler: func(event shared.Event) error {
			panic("kaboom")
		},
	}))

	publish(t, bus, shared.NewWeekUnlockedEvent("student-1", "cohort-1", "week-1", 2))

	// The panic converts to an error, retries, and lands in the DLQ
	// instead of crashing the process.
	require.Eventually(t, func() bool {
		return d.DeadLetterQueue().Size() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDeadLetterQueue_BoundedSize(t *testing.T) {
	q := NewDeadLetterQueue(2)

	q.Add(DeadLetterEntry{HandlerName: "a"})
	q.Add(DeadLetterEntry{HandlerName: "b"})
	q.Add(DeadLetterEntry{HandlerName: "c"})

	require.Equal(t, 2, q.Size())
	entries := q.Entries()
	assert.Equal(t, "b", entries[0].HandlerName)
	assert.Equal(t, "c", entries[1].HandlerName)
}

func waitGroupWithin(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for handlers")
	}
}
