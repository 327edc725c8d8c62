package auth

import (
	"sync"
	"time"
)

// tenantStatusCache remembers whether a tenant is active for a short time
// so bearer verification does not hit the database on every request.
type tenantStatusCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]tenantStatus
}

type tenantStatus struct {
	active    bool
	expiresAt time.Time
}

// maxTenantCacheEntries bounds memory. Expired entries are dropped first,
// then the map is reset.
const maxTenantCacheEntries = 10000

func newTenantStatusCache(ttl time.Duration) *tenantStatusCache {
	return &tenantStatusCache{ttl: ttl, entries: make(map[string]tenantStatus)}
}

func (c *tenantStatusCache) get(tenantID string, now time.Time) (active, found bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[tenantID]
	if !ok || !now.Before(entry.expiresAt) {
		return false, false
	}
	return entry.active, true
}

func (c *tenantStatusCache) set(tenantID string, active bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= maxTenantCacheEntries {
		for id, entry := range c.entries {
			if !now.Before(entry.expiresAt) {
				delete(c.entries, id)
			}
		}
		if len(c.entries) >= maxTenantCacheEntries {
			c.entries = make(map[string]tenantStatus)
		}
	}
	c.entries[tenantID] = tenantStatus{active: active, expiresAt: now.Add(c.ttl)}
}

func (c *tenantStatusCache) invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}
