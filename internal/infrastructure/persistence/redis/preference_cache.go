package redis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/logger"
)

// PreferenceCache is a read-through cache in front of a PreferenceRepository.
// Saves go to the inner repository and evict the cached copy. Redis errors are
// logged and fall through to the repository.
type PreferenceCache struct {
	inner  notification.PreferenceRepository
	cache  *Cache
	ttl    time.Duration
	logger *zap.Logger
}

var _ notification.PreferenceRepository = (*PreferenceCache)(nil)

// NewPreferenceCache wraps inner. A non-positive ttl uses TTLPreferenceCache.
func NewPreferenceCache(inner notification.PreferenceRepository, cache *Cache, ttl time.Duration, log *zap.Logger) *PreferenceCache {
	if ttl <= 0 {
		ttl = TTLPreferenceCache
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PreferenceCache{inner: inner, cache: cache, ttl: ttl, logger: log}
}

// GetOrCreateDefault implements notification.PreferenceRepository.
func (c *PreferenceCache) GetOrCreateDefault(ctx context.Context, accountID shared.AccountID) (*notification.Preference, error) {
	key := PreferenceKey(accountID.String())

	var snapshot notification.PreferenceSnapshot
	err := c.cache.Get(ctx, key, &snapshot)
	switch {
	case err == nil:
		p, restoreErr := notification.ReconstitutePreference(snapshot)
		if restoreErr == nil {
			return p, nil
		}
		c.logger.Warn("discarding unreadable cached preferences", logger.AccountID(accountID.String()), zap.Error(restoreErr))
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("preference cache read failed", logger.AccountID(accountID.String()), zap.Error(err))
	}

	p, err := c.inner.GetOrCreateDefault(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, p.Snapshot(), c.ttl); err != nil {
		c.logger.Warn("preference cache write failed", logger.AccountID(accountID.String()), zap.Error(err))
	}
	return p, nil
}

// Save implements notification.PreferenceRepository.
func (c *PreferenceCache) Save(ctx context.Context, p *notification.Preference) error {
	saveErr := c.inner.Save(ctx, p)
	if saveErr != nil && !shared.IsOptimisticLock(saveErr) {
		return saveErr
	}
	// A lost race means the cached copy is stale too.
	if err := c.cache.Delete(ctx, PreferenceKey(p.AccountID().String())); err != nil {
		c.logger.Warn("preference cache eviction failed", logger.AccountID(p.AccountID().String()), zap.Error(err))
	}
	return saveErr
}
