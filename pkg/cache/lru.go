// Package cache provides a bounded LRU cache for decoded store values.
//
// The storage engines address terms by content hash, so a decoded term never
// goes stale and can be shared across reads. The cache keeps the hottest ones
// in memory and skips the value-log lookup and JSON decode for them. Entries
// are never invalidated, only evicted.
//
// Features:
// - LRU eviction for bounded memory
// - Thread-safe operations
// - Cache hit/miss statistics
//
// Usage:
//
//	terms := cache.New[termID, rdf.Term](4096)
//
//	if t, ok := terms.Get(id); ok {
//		return t // Cache hit
//	}
//
//	t := decode(id)
//	terms.Put(id, t)
package cache

import (
	"container/list"
	"sync"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 1000

// LRU is a thread-safe least-recently-used cache.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	maxSize int

	// LRU list and map
	list  *list.List
	items map[K]*list.Element

	// Statistics
	hits   uint64
	misses uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache holding up to maxSize entries.
func New[K comparable, V any](maxSize int) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	return &LRU[K, V]{
		maxSize: maxSize,
		list:    list.New(),
		items:   make(map[K]*list.Element, maxSize),
	}
}

// Get returns the cached value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	c.list.MoveToFront(elem)
	c.hits++
	return elem.Value.(*entry[K, V]).value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		oldest := c.list.Back()
		c.list.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[K, V]).key)
	}
	c.items[key] = c.list.PushFront(&entry[K, V]{key: key, value: value})
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Size:    c.list.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}
