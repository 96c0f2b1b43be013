package coltab

import (
	"container/list"
	"sync"
)

// lookupCache is a bounded LRU over resolved index lookups, keyed by the
// encoded query prefix. Capacity is an explicit entry count; zero degrades
// to no caching (never to unbounded growth). Safe for concurrent readers;
// eviction and insertion are serialized by the mutex.
type lookupCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key    string
	rowIDs []uint64
}

func newLookupCache(capacity int) *lookupCache {
	if capacity < 0 {
		capacity = 0
	}
	return &lookupCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *lookupCache) get(key string) ([]uint64, bool) {
	if c.capacity == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits++
		c.order.MoveToFront(ent)
		return copyRowIDs(ent.Value.(*cacheEntry).rowIDs), true
	}
	c.misses++
	return nil, false
}

func (c *lookupCache) put(key string, rowIDs []uint64) {
	if c.capacity == 0 {
		return
	}
	// The cache owns its entries: callers are free to sort or edit the
	// slices they got back, so both put and get copy.
	rowIDs = copyRowIDs(rowIDs)
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.order.MoveToFront(ent)
		ent.Value.(*cacheEntry).rowIDs = rowIDs
		return
	}

	for c.order.Len() >= c.capacity {
		last := c.order.Back()
		if last == nil {
			break
		}
		c.removeElement(last)
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, rowIDs: rowIDs})
}

func (c *lookupCache) invalidate(key string) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
	}
}

func (c *lookupCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func copyRowIDs(rowIDs []uint64) []uint64 {
	if rowIDs == nil {
		return nil
	}
	return append([]uint64(nil), rowIDs...)
}

func (c *lookupCache) removeElement(e *list.Element) {
	c.order.Remove(e)
	delete(c.items, e.Value.(*cacheEntry).key)
}

func (c *lookupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lookupCache) stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
