package storage

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a capacity-bounded map whose entries optionally expire after a
// fixed TTL. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	entries  map[K]cacheEntry[V]
	now      func() time.Time
}

// NewCache creates a cache holding at most capacity entries. A zero ttl
// keeps entries until they are evicted.
func NewCache[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[K]cacheEntry[V], capacity),
		now:      time.Now,
	}
}

func (c *Cache[K, V]) expired(e cacheEntry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.storedAt) > c.ttl
}

// Get returns the cached value, or false when absent or expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e, c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key. When the cache is full and key is new,
// expired entries are purged first and then one arbitrary entry is evicted
// if there is still no room.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		for k, e := range c.entries {
			if c.expired(e, now) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.capacity {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}
	c.entries[key] = cacheEntry[V]{value: value, storedAt: now}
}

// Remove drops key from the cache.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]cacheEntry[V], c.capacity)
}
