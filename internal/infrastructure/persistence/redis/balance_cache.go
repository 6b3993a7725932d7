package redis

import (
	"context"
	"errors"
	"time"

	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BALANCE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBalanceTTL bounds staleness on the read path. Ledger writes
// invalidate eagerly, so the TTL only matters when an invalidation is lost.
const DefaultBalanceTTL = 5 * time.Minute

// BalanceCache caches coin balances in Redis. Implements ledger.BalanceCache.
type BalanceCache struct {
	cache *Cache
}

// NewBalanceCache creates a new BalanceCache.
func NewBalanceCache(cache *Cache) *BalanceCache {
	return &BalanceCache{cache: cache}
}

// GetBalance returns the cached balance or shared.ErrNotFound on a miss.
func (bc *BalanceCache) GetBalance(ctx context.Context, studentID shared.StudentID) (*ledger.Balance, error) {
	var balance ledger.Balance
	err := bc.cache.Get(ctx, BalanceKey(studentID.String()), &balance)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// SetBalance stores a balance with the given TTL.
func (bc *BalanceCache) SetBalance(ctx context.Context, balance *ledger.Balance, ttl time.Duration) error {
	if balance == nil {
		return ErrCacheNilValue
	}
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	return bc.cache.Set(ctx, BalanceKey(balance.StudentID.String()), balance, ttl)
}

// InvalidateBalance drops the cached balance after a ledger write.
func (bc *BalanceCache) InvalidateBalance(ctx context.Context, studentID shared.StudentID) error {
	return bc.cache.Delete(ctx, BalanceKey(studentID.String()))
}
