package coltab

import (
	"fmt"
	"slices"
	"testing"
)

func TestLookupCacheBasics(t *testing.T) {
	c := newLookupCache(4)
	if _, ok := c.get("a"); ok {
		t.Errorf("** get on empty cache reported a hit")
	}
	c.put("a", []uint64{1, 2})
	got, ok := c.get("a")
	if !ok || !slices.Equal(got, []uint64{1, 2}) {
		t.Errorf("** get(a) = %v, %v; wanted [1 2], true", got, ok)
	}

	// Updating an existing key replaces the value without growing.
	c.put("a", []uint64{3})
	got, _ = c.get("a")
	if !slices.Equal(got, []uint64{3}) {
		t.Errorf("** get(a) after update = %v, wanted [3]", got)
	}
	if c.len() != 1 {
		t.Errorf("** len = %d, wanted 1", c.len())
	}

	hits, misses := c.stats()
	if hits != 2 || misses != 1 {
		t.Errorf("** stats = %d hits, %d misses; wanted 2, 1", hits, misses)
	}
}

func TestLookupCacheEviction(t *testing.T) {
	c := newLookupCache(3)
	for i := 0; i < 3; i++ {
		c.put(fmt.Sprintf("k%d", i), []uint64{uint64(i)})
	}
	c.get("k0") // k0 becomes most recent; k1 is now the eviction candidate
	c.put("k3", []uint64{3})

	if _, ok := c.get("k1"); ok {
		t.Errorf("** k1 should have been evicted")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if _, ok := c.get(k); !ok {
			t.Errorf("** %s should still be cached", k)
		}
	}
	if c.len() != 3 {
		t.Errorf("** len = %d, wanted 3", c.len())
	}
}

func TestLookupCacheCapacityOne(t *testing.T) {
	c := newLookupCache(1)
	c.put("a", []uint64{1})
	c.put("b", []uint64{2})
	if _, ok := c.get("a"); ok {
		t.Errorf("** a should have been evicted")
	}
	got, ok := c.get("b")
	if !ok || !slices.Equal(got, []uint64{2}) {
		t.Errorf("** get(b) = %v, %v; wanted [2], true", got, ok)
	}
	if c.len() != 1 {
		t.Errorf("** len = %d, wanted 1", c.len())
	}
}

func TestLookupCacheDisabled(t *testing.T) {
	for _, capacity := range []int{0, -5} {
		c := newLookupCache(capacity)
		c.put("a", []uint64{1})
		if _, ok := c.get("a"); ok {
			t.Errorf("** capacity %d: cache should never hit", capacity)
		}
		if c.len() != 0 {
			t.Errorf("** capacity %d: len = %d, wanted 0", capacity, c.len())
		}
	}
}

func TestLookupCacheInvalidate(t *testing.T) {
	c := newLookupCache(4)
	c.put("a", []uint64{1})
	c.put("b", []uint64{2})
	c.invalidate("a")
	c.invalidate("nonexistent")
	if _, ok := c.get("a"); ok {
		t.Errorf("** a should have been invalidated")
	}
	if _, ok := c.get("b"); !ok {
		t.Errorf("** b should still be cached")
	}

	c.clear()
	if c.len() != 0 {
		t.Errorf("** len after clear = %d, wanted 0", c.len())
	}
	if _, ok := c.get("b"); ok {
		t.Errorf("** b should be gone after clear")
	}
}

func TestLookupCacheOwnsEntries(t *testing.T) {
	c := newLookupCache(4)
	stored := []uint64{1, 2}
	c.put("a", stored)
	stored[0] = 999 // the caller's slice is not the cache's

	got, ok := c.get("a")
	if !ok || !slices.Equal(got, []uint64{1, 2}) {
		t.Fatalf("** get(a) = %v, %v; wanted [1 2], true", got, ok)
	}
	got[1] = 888 // neither is the returned one

	got, _ = c.get("a")
	if !slices.Equal(got, []uint64{1, 2}) {
		t.Errorf("** get(a) after mutations = %v, wanted [1 2]", got)
	}
}

func TestLookupCacheNeverExceedsCapacity(t *testing.T) {
	c := newLookupCache(5)
	for i := 0; i < 100; i++ {
		c.put(fmt.Sprintf("k%d", i), []uint64{uint64(i)})
		if c.len() > 5 {
			t.Fatalf("** len = %d after %d puts, capacity 5", c.len(), i+1)
		}
	}
	if c.len() != 5 {
		t.Errorf("** len = %d, wanted 5", c.len())
	}
}
