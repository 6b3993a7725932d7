package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// DefaultProgressTTL is short because the dashboard view tolerates little
// staleness between a completion write and the next read.
const DefaultProgressTTL = 2 * time.Minute

// ProgressCache caches per-cohort week progress snapshots in Redis.
// Implements enrollment.ProgressCache.
type ProgressCache struct {
	cache *Cache
}

// NewProgressCache creates a new ProgressCache.
func NewProgressCache(cache *Cache) *ProgressCache {
	return &ProgressCache{cache: cache}
}

// GetWeekProgress returns the cached rows or shared.ErrNotFound on a miss.
func (pc *ProgressCache) GetWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) ([]*enrollment.WeekProgress, error) {
	var rows []*enrollment.WeekProgress
	err := pc.cache.Get(ctx, ProgressKey(studentID.String(), cohortID.String()), &rows)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return rows, nil
}

// SetWeekProgress stores the progress rows with the given TTL.
func (pc *ProgressCache) SetWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID, rows []*enrollment.WeekProgress, ttl time.Duration) error {
	if rows == nil {
		return ErrCacheNilValue
	}
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return pc.cache.Set(ctx, ProgressKey(studentID.String(), cohortID.String()), rows, ttl)
}

// InvalidateWeekProgress drops the cached rows after any progress write.
func (pc *ProgressCache) InvalidateWeekProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) error {
	return pc.cache.Delete(ctx, ProgressKey(studentID.String(), cohortID.String()))
}

// InvalidateStudent drops every cached cohort for the student.
func (pc *ProgressCache) InvalidateStudent(ctx context.Context, studentID shared.StudentID) error {
	return pc.cache.DeleteByPattern(ctx, StudentProgressPattern(studentID.String()))
}
