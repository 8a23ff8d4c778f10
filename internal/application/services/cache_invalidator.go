package services

import (
	"context"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/ports"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// CacheInvalidator drops cached reads when record events arrive. Besides
// the changed entity it invalidates every entity holding a reference to
// it, since expanded listings embed the referenced rows.
type CacheInvalidator struct {
	cache    cache.Cache
	registry *entity.Registry
	logger   *zap.Logger
}

func NewCacheInvalidator(c cache.Cache, registry *entity.Registry, logger *zap.Logger) *CacheInvalidator {
	return &CacheInvalidator{cache: c, registry: registry, logger: logger}
}

// Subscribe registers the invalidator for every record event type.
func (ci *CacheInvalidator) Subscribe(bus ports.EventPublisher) func() {
	var unsubs []func()
	for _, t := range events.RecordEventTypes {
		unsubs = append(unsubs, bus.Subscribe(t, ci.HandleEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleEvent never fails: a missed invalidation only leaves entries to
// expire with their TTL.
func (ci *CacheInvalidator) HandleEvent(ctx context.Context, e *events.RecordEvent) error {
	invalidateScope(ctx, ci.cache, ci.logger, e.TenantID, e.Entity)
	seen := map[string]bool{e.Entity: true}
	for _, ref := range ci.registry.ReferencesTo(e.Entity) {
		if seen[ref.Entity.Name] {
			continue
		}
		seen[ref.Entity.Name] = true
		invalidateScope(ctx, ci.cache, ci.logger, e.TenantID, ref.Entity.Name)
	}
	return nil
}
