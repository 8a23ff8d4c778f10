package services

import (
	"context"
	"time"

	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// cachedIn reads through the cache under the tenant's namespace for scope,
// so that invalidating the scope drops the entry. Without a cache, or when
// the namespace cannot be resolved, load is called directly.
func cachedIn[T any](ctx context.Context, c cache.Cache, logger *zap.Logger, tenantID, scope, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	ns, err := cache.Namespace(ctx, c, tenantID, scope)
	if err != nil {
		logger.Warn("Cache namespace unavailable", zap.String("scope", scope), zap.Error(err))
		return load(ctx)
	}
	return cache.Cached(ctx, c, logger, ns+":"+key, ttl, load)
}

// invalidateScope bumps the namespace of a tenant's scope. Failures are
// logged; stale entries then expire with their TTL.
func invalidateScope(ctx context.Context, c cache.Cache, logger *zap.Logger, tenantID, scope string) {
	if c == nil {
		return
	}
	if err := cache.Invalidate(ctx, c, tenantID, scope); err != nil {
		logger.Warn("Cache invalidation failed",
			zap.String("tenant_id", tenantID), zap.String("scope", scope), zap.Error(err))
	}
}
