package utils

import (
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// TTLCache is a time-indexed map. Expired entries are hidden on read and
// removed by Sweep.
// -----------------------------------------------------------------------------

type ttlEntry[V any] struct {
	value      V
	insertedAt time.Time
}

type TTLCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]ttlEntry[V]
	ttl   time.Duration
	now   func() time.Time
}

// -----------------------------------------------------------------------------

// NewTTLCache creates a cache whose entries live for ttl. A ttl <= 0 never
// expires anything.
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		items: make(map[K]ttlEntry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// -----------------------------------------------------------------------------

// SetClock replaces the time source.
func (c *TTLCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *TTLCache[K, V]) expired(e ttlEntry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.insertedAt) > c.ttl
}

// -----------------------------------------------------------------------------

// Set stores value under key and stamps it with the current time.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.items[key] = ttlEntry[V]{value: value, insertedAt: c.now()}
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Update runs fn on the current value under the write lock. fn returns the new
// value and whether to store it.
func (c *TTLCache[K, V]) Update(key K, fn func(old V, exists bool) (V, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	old, ok := c.items[key]
	exists := ok && !c.expired(old, now)
	next, store := fn(old.value, exists)
	if store {
		c.items[key] = ttlEntry[V]{value: next, insertedAt: now}
	}
	return store
}

// -----------------------------------------------------------------------------

// Get returns the value when present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || c.expired(e, c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// -----------------------------------------------------------------------------

// Delete removes key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Range calls fn for every live entry on a copy taken under the read lock,
// so fn may call back into the cache.
func (c *TTLCache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.RLock()
	now := c.now()
	keys := make([]K, 0, len(c.items))
	values := make([]V, 0, len(c.items))
	for k, e := range c.items {
		if c.expired(e, now) {
			continue
		}
		keys = append(keys, k)
		values = append(values, e.value)
	}
	c.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], values[i]) {
			return
		}
	}
}

// -----------------------------------------------------------------------------

// Len counts live entries.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, e := range c.items {
		if !c.expired(e, now) {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------

// Sweep drops expired entries and returns how many were removed.
func (c *TTLCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.items {
		if c.expired(e, now) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}
