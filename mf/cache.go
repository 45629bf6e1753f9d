package mf

import (
	"container/list"
	"sync"

	"github.com/eak1mov/go-mapsforge/mf/spec"
)

// tileCache is a bounded LRU of decoded tile blocks keyed by zoom interval
// and Hilbert tile code. Cached feature slices are immutable and shared by
// all callers. A nil cache is valid and caches nothing.
type tileCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[cacheKey]*list.Element
	order    *list.List // most recently used at the front
}

type cacheKey struct {
	interval int
	tileCode uint64
}

type cacheEntry struct {
	key      cacheKey
	features []spec.Feature
}

func newTileCache(capacity int) *tileCache {
	if capacity <= 0 {
		return nil
	}
	return &tileCache{
		capacity: capacity,
		entries:  make(map[cacheKey]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *tileCache) get(key cacheKey) ([]spec.Feature, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(element)
	return element.Value.(*cacheEntry).features, true
}

func (c *tileCache) put(key cacheKey, features []spec.Feature) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[key]; ok {
		element.Value.(*cacheEntry).features = features
		c.order.MoveToFront(element)
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, features: features})
	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *tileCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
