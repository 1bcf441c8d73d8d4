// Package cache provides a bounded in-memory key/value store with per-entry
// expiry and LRU or LFU eviction.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/sglre6355/gatebot/internal/sweep"
)

// Policy selects which entry is evicted when the cache is full.
type Policy int

const (
	// LRU evicts the least recently used entry.
	LRU Policy = iota
	// LFU evicts the entry with the fewest hits, breaking ties by recency.
	LFU
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Options configures a Cache. The zero value is an unbounded cache without expiry.
type Options[K comparable, V any] struct {
	// Name identifies the cache in logs and sweep job names.
	Name string
	// Capacity is the maximum number of entries. Zero means unbounded.
	Capacity int
	// DefaultTTL applies to entries stored with Set. Zero means no expiry.
	DefaultTTL time.Duration
	// ResetTTLOnAccess extends an entry's expiry by its TTL on every hit.
	ResetTTLOnAccess bool
	// CleanupInterval enables a periodic sweep of expired entries.
	CleanupInterval time.Duration
	// Policy selects the eviction policy.
	Policy Policy
	// OnExpire is called once for every entry removed because it expired.
	OnExpire func(key K, value V)
	// OnEvict is called for every entry removed to make room for a new one.
	OnEvict func(key K, value V)
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats holds cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	ttl       time.Duration
	expiresAt time.Time
	hits      uint64
	elem      *list.Element
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a bounded key/value store. It is safe for concurrent use.
// Callbacks are invoked without the internal lock held.
type Cache[K comparable, V any] struct {
	opts Options[K, V]

	mu    sync.Mutex
	items map[K]*entry[K, V]
	// order holds entries from most (front) to least (back) recently used.
	order *list.List
	stats Stats

	sweeper *sweep.Job
}

// New creates a Cache and starts its periodic sweep if CleanupInterval is set.
func New[K comparable, V any](opts Options[K, V]) (*Cache[K, V], error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("cache capacity must not be negative: %d", opts.Capacity)
	}
	if opts.Name == "" {
		opts.Name = "cache"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache[K, V]{
		opts:  opts,
		items: make(map[K]*entry[K, V]),
		order: list.New(),
	}

	if opts.CleanupInterval > 0 {
		job, err := sweep.Every(opts.Name+"-sweep", opts.CleanupInterval, func() { c.Sweep() })
		if err != nil {
			return nil, err
		}
		c.sweeper = job
	}

	return c, nil
}

// Get returns the value for key. An expired entry is removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return zero, false
	}

	now := c.opts.Now()
	if e.expired(now) {
		c.removeLocked(e)
		c.stats.Expirations++
		c.stats.Misses++
		c.mu.Unlock()
		c.notifyExpired(e)
		return zero, false
	}

	e.hits++
	c.stats.Hits++
	c.order.MoveToFront(e.elem)
	if c.opts.ResetTTLOnAccess && e.ttl > 0 {
		e.expiresAt = now.Add(e.ttl)
	}
	value := e.value
	c.mu.Unlock()

	return value, true
}

// Peek returns the value for key without counting as an access: hit counts,
// recency and expiry are left untouched.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || e.expired(c.opts.Now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.opts.DefaultTTL)
}

// SetWithTTL stores value under key, expiring after ttl. A ttl of zero means no expiry.
// Inserting a new key into a full cache evicts exactly one entry first.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	now := c.opts.Now()

	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.ttl = ttl
		e.expiresAt = expiry(now, ttl)
		c.order.MoveToFront(e.elem)
		c.mu.Unlock()
		return
	}

	var evicted *entry[K, V]
	if c.opts.Capacity > 0 && len(c.items) >= c.opts.Capacity {
		evicted = c.victimLocked()
		if evicted != nil {
			c.removeLocked(evicted)
			c.stats.Evictions++
		}
	}

	e := &entry[K, V]{
		key:       key,
		value:     value,
		ttl:       ttl,
		expiresAt: expiry(now, ttl),
	}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
	c.mu.Unlock()

	if evicted != nil && c.opts.OnEvict != nil {
		c.opts.OnEvict(evicted.key, evicted.value)
	}
}

// Has reports whether key holds a live entry. It does not count as an access.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if e.expired(c.opts.Now()) {
		c.removeLocked(e)
		c.stats.Expirations++
		c.mu.Unlock()
		c.notifyExpired(e)
		return false
	}
	c.mu.Unlock()
	return true
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// Clear removes all entries without invoking callbacks.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*entry[K, V])
	c.order.Init()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the stored keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache[K, V]) Sweep() int {
	now := c.opts.Now()

	c.mu.Lock()
	var expired []*entry[K, V]
	for _, e := range c.items {
		if e.expired(now) {
			c.removeLocked(e)
			expired = append(expired, e)
		}
	}
	c.stats.Expirations += uint64(len(expired))
	c.mu.Unlock()

	for _, e := range expired {
		c.notifyExpired(e)
	}
	return len(expired)
}

// Close stops the periodic sweep and releases all entries.
func (c *Cache[K, V]) Close() {
	c.sweeper.Stop()
	c.Clear()
}

func (c *Cache[K, V]) removeLocked(e *entry[K, V]) {
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}

func (c *Cache[K, V]) victimLocked() *entry[K, V] {
	back := c.order.Back()
	if back == nil {
		return nil
	}
	if c.opts.Policy != LFU {
		return back.Value.(*entry[K, V])
	}

	// Walk from least to most recent so ties keep the least recent entry.
	victim := back.Value.(*entry[K, V])
	for el := back.Prev(); el != nil; el = el.Prev() {
		if e := el.Value.(*entry[K, V]); e.hits < victim.hits {
			victim = e
		}
	}
	return victim
}

func (c *Cache[K, V]) notifyExpired(e *entry[K, V]) {
	if c.opts.OnExpire != nil {
		c.opts.OnExpire(e.key, e.value)
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
