package util

import (
	"container/list"
	"fmt"
)

// LRUConfig configures an LRUCache.
type LRUConfig[K comparable, V any] struct {
	// Capacity is the maximum number of entries. Must be positive.
	Capacity int
	// OnEvict, when set, is invoked for every entry dropped by capacity
	// eviction or Remove. It runs while the cache is mutating and must not
	// call back into the cache.
	OnEvict func(key K, value V)
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRUCache is a generic least-recently-used cache. It carries no lock of its
// own; callers that share it across goroutines synchronize around it, which
// lets it sit inside structures that already hold a mutex.
type LRUCache[K comparable, V any] struct {
	config LRUConfig[K, V]
	ll     *list.List
	cache  map[K]*list.Element
}

// NewLRU creates an LRUCache with the given configuration.
func NewLRU[K comparable, V any](config LRUConfig[K, V]) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("lru capacity must be positive, got %d", config.Capacity)
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		cache:  make(map[K]*list.Element),
	}, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	element, ok := c.cache[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(element)
	return element.Value.(*lruEntry[K, V]).value, true
}

// Put inserts or refreshes a key, evicting the least recently used entries
// once the capacity is exceeded.
func (c *LRUCache[K, V]) Put(key K, value V) {
	if element, ok := c.cache[key]; ok {
		element.Value.(*lruEntry[K, V]).value = value
		c.ll.MoveToFront(element)
		return
	}

	element := c.ll.PushFront(&lruEntry[K, V]{key: key, value: value})
	c.cache[key] = element

	for c.ll.Len() > c.config.Capacity {
		c.evict()
	}
}

// Remove drops a key if present, firing OnEvict.
func (c *LRUCache[K, V]) Remove(key K) bool {
	element, ok := c.cache[key]
	if !ok {
		return false
	}
	c.removeElement(element)
	return true
}

// Len returns the number of cached entries.
func (c *LRUCache[K, V]) Len() int {
	return c.ll.Len()
}

// Keys returns all keys from most to least recently used.
func (c *LRUCache[K, V]) Keys() []K {
	keys := make([]K, 0, c.ll.Len())
	for e := c.ll.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry[K, V]).key)
	}
	return keys
}

func (c *LRUCache[K, V]) evict() {
	if back := c.ll.Back(); back != nil {
		c.removeElement(back)
	}
}

func (c *LRUCache[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	entry := e.Value.(*lruEntry[K, V])
	delete(c.cache, entry.key)
	if c.config.OnEvict != nil {
		c.config.OnEvict(entry.key, entry.value)
	}
}
