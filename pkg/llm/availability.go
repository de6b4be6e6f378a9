package llm

import (
	"context"
	"sync"
	"time"
)

// AvailabilityCache memoizes the provider health probe. The queue
// consults it before dispatching any task; a cached "down" result
// short-circuits submissions without burning a provider call each time.
type AvailabilityCache struct {
	registry *Registry
	ttl      time.Duration

	mu        sync.Mutex
	last      Health
	checkedAt time.Time
}

// NewAvailabilityCache creates a cache over the registry's active
// provider with the given TTL.
func NewAvailabilityCache(registry *Registry, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{registry: registry, ttl: ttl}
}

// Check returns the cached health, refreshing on demand when the TTL
// has lapsed.
func (c *AvailabilityCache) Check(ctx context.Context) Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.checkedAt.IsZero() && time.Since(c.checkedAt) < c.ttl {
		return c.last
	}

	provider := c.registry.Active()
	if provider == nil {
		c.last = Health{Available: false, Reason: "no provider configured"}
	} else {
		c.last = provider.HealthCheck(ctx)
	}
	c.checkedAt = time.Now()
	return c.last
}

// Invalidate drops the cached result so the next Check probes again.
// Called after provider reloads and after permanent failures.
func (c *AvailabilityCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkedAt = time.Time{}
}
