package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tukangworks/tukang/model"
)

// countingSource counts fetches and can be set to fail.
type countingSource struct {
	mu    sync.Mutex
	calls int
	fail  bool
	items []model.Item
}

func (s *countingSource) Children(_ context.Context, _ string, _ map[string]string) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, errors.New("backend down")
	}
	return s.items, nil
}

func (s *countingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCache_memoizes_per_key(t *testing.T) {
	src := &countingSource{items: []model.Item{{ID: "kl", Label: "Kuala Lumpur"}}}
	c := NewCache(src, time.Minute, 100, nil)

	ctx := context.Background()
	parents := map[string]string{"region": "central"}

	first, err := c.Children(ctx, "states", parents)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	second, err := c.Children(ctx, "states", parents)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}

	if src.callCount() != 1 {
		t.Errorf("source calls = %d, want 1 (second call should hit cache)", src.callCount())
	}
	if len(first) != 1 || len(second) != 1 || second[0].ID != "kl" {
		t.Errorf("unexpected items: %v, %v", first, second)
	}
}

func TestCache_distinct_parents_are_distinct_entries(t *testing.T) {
	src := &countingSource{items: []model.Item{{ID: "x", Label: "X"}}}
	c := NewCache(src, time.Minute, 100, nil)

	ctx := context.Background()
	c.Children(ctx, "states", map[string]string{"region": "central"})
	c.Children(ctx, "states", map[string]string{"region": "north"})

	if src.callCount() != 2 {
		t.Errorf("source calls = %d, want 2", src.callCount())
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_failed_fetch_not_stored(t *testing.T) {
	src := &countingSource{fail: true}
	c := NewCache(src, time.Minute, 100, nil)

	ctx := context.Background()
	if _, err := c.Children(ctx, "regions", nil); err == nil {
		t.Fatal("Children() should propagate source error")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (failures are not cached)", c.Len())
	}

	// Recovers on the next call once the source is healthy.
	src.mu.Lock()
	src.fail = false
	src.items = []model.Item{{ID: "central", Label: "Central"}}
	src.mu.Unlock()

	items, err := c.Children(ctx, "regions", nil)
	if err != nil {
		t.Fatalf("Children() after recovery error = %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %v, want 1 entry", items)
	}
}

func TestCache_expired_entry_refetches(t *testing.T) {
	src := &countingSource{items: []model.Item{{ID: "a", Label: "A"}}}
	c := NewCache(src, 10*time.Millisecond, 100, nil)

	ctx := context.Background()
	c.Children(ctx, "regions", nil)
	time.Sleep(20 * time.Millisecond)
	c.Children(ctx, "regions", nil)

	if src.callCount() != 2 {
		t.Errorf("source calls = %d, want 2 (expired entry should refetch)", src.callCount())
	}
}

func TestCache_invalidate(t *testing.T) {
	src := &countingSource{items: []model.Item{{ID: "a", Label: "A"}}}
	c := NewCache(src, time.Minute, 100, nil)

	ctx := context.Background()
	parents := map[string]string{"region": "central"}
	c.Children(ctx, "states", parents)
	c.Invalidate("states", parents)
	c.Children(ctx, "states", parents)

	if src.callCount() != 2 {
		t.Errorf("source calls = %d, want 2 after Invalidate", src.callCount())
	}
}

func TestCache_invalidate_endpoint(t *testing.T) {
	src := &countingSource{items: []model.Item{{ID: "a", Label: "A"}}}
	c := NewCache(src, time.Minute, 100, nil)

	ctx := context.Background()
	c.Children(ctx, "states", map[string]string{"region": "central"})
	c.Children(ctx, "states", map[string]string{"region": "north"})
	c.Children(ctx, "regions", nil)

	c.InvalidateEndpoint("states")
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (only regions left)", c.Len())
	}
}

func TestCache_cap_evicts_oldest_when_full(t *testing.T) {
	src := &countingSource{items: []model.Item{{ID: "a", Label: "A"}}}
	c := NewCache(src, time.Minute, 2, nil)

	ctx := context.Background()
	c.Children(ctx, "regions", nil)
	time.Sleep(time.Millisecond)
	c.Children(ctx, "states", map[string]string{"region": "central"})
	time.Sleep(time.Millisecond)
	c.Children(ctx, "service_types", nil)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (cap must hold even with no expired entries)", c.Len())
	}

	// The newest entry survives; the oldest was evicted and refetches.
	c.Children(ctx, "service_types", nil)
	if src.callCount() != 3 {
		t.Errorf("source calls = %d, want 3 (newest entry should still be cached)", src.callCount())
	}
	c.Children(ctx, "regions", nil)
	if src.callCount() != 4 {
		t.Errorf("source calls = %d, want 4 (oldest entry should have been evicted)", src.callCount())
	}
}

func TestCacheKey_parent_order_is_canonical(t *testing.T) {
	a := cacheKey("service_types", map[string]string{"region": "central", "state": "kl"})
	b := cacheKey("service_types", map[string]string{"state": "kl", "region": "central"})
	if a != b {
		t.Errorf("cacheKey not canonical: %q vs %q", a, b)
	}
}
