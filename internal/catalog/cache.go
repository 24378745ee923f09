package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tukangworks/tukang/internal/observability"
	"github.com/tukangworks/tukang/model"
)

// Source fetches an enumeration list for an endpoint given the ancestor
// selections. *Client is the production implementation.
type Source interface {
	Children(ctx context.Context, endpointID string, parents map[string]string) ([]model.Item, error)
}

// Cache memoizes fetched enumeration lists per (endpoint, parent-key) so
// repeated traversal of the same hierarchy within a session costs one
// network call. A failed fetch is never stored; every subsequent call
// retries. Callers avoid overlapping fetches for the same key through the
// resolvers' level-scoped loading flags.
type Cache struct {
	source     Source
	ttl        time.Duration
	maxEntries int
	metrics    *observability.Metrics

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	items     []model.Item
	expiresAt time.Time
}

// NewCache creates a Cache over the given source. metrics may be nil.
func NewCache(source Source, ttl time.Duration, maxEntries int, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	return &Cache{
		source:     source,
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    metrics,
		entries:    make(map[string]cacheEntry),
	}
}

// Children returns the enumeration list for the endpoint and ancestor
// selections, fetching it from the source on first use.
func (c *Cache) Children(ctx context.Context, endpointID string, parents map[string]string) ([]model.Item, error) {
	key := cacheKey(endpointID, parents)

	if items, hit := c.get(key); hit {
		if c.metrics != nil {
			c.metrics.RecordCatalogCacheHit(endpointID)
		}
		return items, nil
	}
	if c.metrics != nil {
		c.metrics.RecordCatalogCacheMiss(endpointID)
	}

	items, err := c.source.Children(ctx, endpointID, parents)
	if err != nil {
		return nil, err
	}

	c.put(key, items)
	return items, nil
}

// Invalidate removes the entry for one (endpoint, parents) pair.
func (c *Cache) Invalidate(endpointID string, parents map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(endpointID, parents))
}

// InvalidateEndpoint removes every entry under the given endpoint.
func (c *Cache) InvalidateEndpoint(endpointID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := endpointID + "?"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of live entries. For testing.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) get(key string) ([]model.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.items, true
}

func (c *Cache) put(key string, items []model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictExpired()
		// Still full: nothing expired, so make room by dropping the entry
		// closest to expiry. TTLs are uniform, so that is the oldest write.
		for len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
	}

	c.entries[key] = cacheEntry{
		items:     items,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evictExpired removes expired entries. Must be called with mu held.
func (c *Cache) evictExpired() {
	now := time.Now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// evictOldest removes the entry with the earliest expiry. Must be called
// with mu held and a non-empty map.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, v := range c.entries {
		if oldestKey == "" || v.expiresAt.Before(oldest) {
			oldestKey = k
			oldest = v.expiresAt
		}
	}
	delete(c.entries, oldestKey)
}

// cacheKey builds a canonical key from the endpoint and ancestor ids.
// Parent keys are sorted so map iteration order cannot split entries.
func cacheKey(endpointID string, parents map[string]string) string {
	if len(parents) == 0 {
		return endpointID + "?"
	}
	keys := make([]string, 0, len(parents))
	for k := range parents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpointID)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(parents[k])
	}
	return b.String()
}
