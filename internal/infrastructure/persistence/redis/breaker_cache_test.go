package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/circuitbreaker"
)

// flakyBalanceCache fails every call until healed, simulating a Redis
// outage without a server.
type flakyBalanceCache struct {
	failing  bool
	balances map[shared.StudentID]*ledger.Balance
	calls    int
}

func newFlakyBalanceCache() *flakyBalanceCache {
	return &flakyBalanceCache{balances: make(map[shared.StudentID]*ledger.Balance)}
}

var errConnRefused = errors.New("connection refused")

func (c *flakyBalanceCache) GetBalance(_ context.Context, studentID shared.StudentID) (*ledger.Balance, error) {
	c.calls++
	if c.failing {
		return nil, errConnRefused
	}
	b, ok := c.balances[studentID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return b, nil
}

func (c *flakyBalanceCache) SetBalance(_ context.Context, balance *ledger.Balance, _ time.Duration) error {
	c.calls++
	if c.failing {
		return errConnRefused
	}
	c.balances[balance.StudentID] = balance
	return nil
}

func (c *flakyBalanceCache) InvalidateBalance(_ context.Context, studentID shared.StudentID) error {
	c.calls++
	if c.failing {
		return errConnRefused
	}
	delete(c.balances, studentID)
	return nil
}

func TestGuardedBalanceCache_PassesThroughWhenHealthy(t *testing.T) {
	inner := newFlakyBalanceCache()
	guard := NewGuardedBalanceCache(inner, NewCacheBreaker(nil))
	ctx := context.Background()
	studentID := shared.StudentID(uuid.New())

	balance := &ledger.Balance{StudentID: studentID, TotalBalance: 100}
	require.NoError(t, guard.SetBalance(ctx, balance, time.Minute))

	got, err := guard.GetBalance(ctx, studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.Coins(100), got.TotalBalance)
}

func TestGuardedBalanceCache_MissDoesNotTripBreaker(t *testing.T) {
	inner := newFlakyBalanceCache()
	guard := NewGuardedBalanceCache(inner, NewCacheBreaker(nil))
	ctx := context.Background()

	// Well past the failure threshold; every call must still reach Redis.
	for i := 0; i < 10; i++ {
		_, err := guard.GetBalance(ctx, shared.StudentID(uuid.New()))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	}
	assert.Equal(t, 10, inner.calls)
}

func TestGuardedBalanceCache_OpenCircuitDegradesToMiss(t *testing.T) {
	inner := newFlakyBalanceCache()
	inner.failing = true

	var opened bool
	guard := NewGuardedBalanceCache(inner, NewCacheBreaker(func(name string, from, to circuitbreaker.State) {
		opened = true
	}))
	ctx := context.Background()
	studentID := shared.StudentID(uuid.New())

	// Trip the breaker with consecutive connection failures.
	for i := 0; i < 5; i++ {
		_, _ = guard.GetBalance(ctx, studentID)
	}
	require.True(t, opened)

	callsBefore := inner.calls

	// Reads degrade to misses and writes become no-ops, without
	// touching the failing backend.
	_, err := guard.GetBalance(ctx, studentID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = guard.SetBalance(ctx, &ledger.Balance{StudentID: studentID}, time.Minute)
	assert.NoError(t, err)

	assert.Equal(t, callsBefore, inner.calls)

	// Invalidation failures must surface so callers can log them; the
	// TTL is the backstop for the lost invalidation.
	err = guard.InvalidateBalance(ctx, studentID)
	assert.Error(t, err)
}
