package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// CIRCUIT-GUARDED CACHES
// When Redis is down, every cached read path should pay for the outage
// once, not once per request. These decorators route cache calls through
// a shared breaker; an open circuit turns reads into instant misses and
// writes into instant no-ops, so queries fall through to Postgres
// without waiting on Redis timeouts. Invalidations still report their
// error so callers can log the lost delete (the TTL covers it).
// ══════════════════════════════════════════════════════════════════════════════

// NewCacheBreaker builds the breaker both guards share. Cache misses
// surface as shared.ErrNotFound and must not trip the circuit; only
// transport errors count as failures.
func NewCacheBreaker(onStateChange func(name string, from, to circuitbreaker.State)) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.CacheBreaker(onStateChange,
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, shared.ErrNotFound)
		}),
	)
}

// GuardedBalanceCache wraps a ledger.BalanceCache with a circuit breaker.
type GuardedBalanceCache struct {
	inner   ledger.BalanceCache
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedBalanceCache wraps cache with the given breaker. The breaker
// is typically shared with the progress cache guard, since both talk to
// the same Redis.
func NewGuardedBalanceCache(inner ledger.BalanceCache, breaker *circuitbreaker.CircuitBreaker) *GuardedBalanceCache {
	return &GuardedBalanceCache{inner: inner, breaker: breaker}
}

// GetBalance returns the cached balance, or shared.ErrNotFound when the
// key is missing or the circuit is open.
func (g *GuardedBalanceCache) GetBalance(ctx context.Context, studentID shared.StudentID) (*ledger.Balance, error) {
	var balance *ledger.Balance
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		balance, err = g.inner.GetBalance(ctx, studentID)
		return err
	})
	if err != nil {
		if isMissOrOpen(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return balance, nil
}

// SetBalance stores a balance. A no-op while the circuit is open.
func (g *GuardedBalanceCache) SetBalance(ctx context.Context, balance *ledger.Balance, ttl time.Duration) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.SetBalance(ctx, balance, ttl)
	})
	if circuitbreaker.IsCircuitOpen(err) {
		return nil
	}
	return err
}

// InvalidateBalance drops the cached balance.
func (g *GuardedBalanceCache) InvalidateBalance(ctx context.Context, studentID shared.StudentID) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.InvalidateBalance(ctx, studentID)
	})
}

// GuardedProgressCache wraps an enrollment.ProgressCache with a circuit
// breaker.
type GuardedProgressCache struct {
	inner   enrollment.ProgressCache
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedProgressCache wraps cache with the given breaker.
func NewGuardedProgressCache(inner enrollment.ProgressCache, breaker *circuitbreaker.CircuitBreaker) *GuardedProgressCache {
	return &GuardedProgressCache{inner: inner, breaker: breaker}
}

// GetWeekProgress returns the cached rows, or shared.ErrNotFound when the
// key is missing or the circuit is open.
func (g *GuardedProgressCache) GetWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) ([]*enrollment.WeekProgress, error) {
	var rows []*enrollment.WeekProgress
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		rows, err = g.inner.GetWeekProgress(ctx, studentID, cohortID)
		return err
	})
	if err != nil {
		if isMissOrOpen(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return rows, nil
}

// SetWeekProgress stores the rows. A no-op while the circuit is open.
func (g *GuardedProgressCache) SetWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, rows []*enrollment.WeekProgress, ttl time.Duration) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.SetWeekProgress(ctx, studentID, cohortID, rows, ttl)
	})
	if circuitbreaker.IsCircuitOpen(err) {
		return nil
	}
	return err
}

// InvalidateWeekProgress drops the cached rows.
func (g *GuardedProgressCache) InvalidateWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.InvalidateWeekProgress(ctx, studentID, cohortID)
	})
}

// InvalidateStudent drops every cached cohort for the student.
func (g *GuardedProgressCache) InvalidateStudent(ctx context.Context, studentID shared.StudentID) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.InvalidateStudent(ctx, studentID)
	})
}

// isMissOrOpen reports whether the error means "no usable cache entry":
// a plain miss, or a rejected call because the circuit is open.
func isMissOrOpen(err error) bool {
	return errors.Is(err, shared.ErrNotFound) ||
		circuitbreaker.IsCircuitOpen(err)
}
