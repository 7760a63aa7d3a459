// Package cache provides a thread-safe in-memory cache with TTL support.
//
// The document connector uses it to remember editor display names between fetches.
// Activity itself is never cached here. Nothing touches disk: every process starts empty.
package cache

import (
	"sync"
	"time"
)

// TTLUsers is for user ID to display name lookups, which change rarely.
const TTLUsers = 6 * time.Hour

const cleanupInterval = 5 * time.Minute

// Entry holds a cached value with expiration.
type Entry struct {
	value      any
	expiration time.Time
}

// Cache provides thread-safe caching with TTL.
type Cache struct {
	entries map[string]Entry
	done    chan struct{}
	mu      sync.RWMutex
	ttl     time.Duration
	once    sync.Once
}

// New creates a new cache with the specified default TTL.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		done:    make(chan struct{}),
		ttl:     ttl,
	}
	go c.cleanupExpired()
	return c
}

// Get retrieves a value from cache if not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	if !exists {
		c.mu.RUnlock()
		return nil, false
	}

	if time.Now().After(entry.expiration) {
		c.mu.RUnlock()
		c.mu.Lock()
		// Double-check after lock upgrade; another writer may have refreshed it.
		if e, exists := c.entries[key]; exists && time.Now().After(e.expiration) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	value := entry.value
	c.mu.RUnlock()
	return value, true
}

// Set stores a value in cache with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

// cleanupExpired periodically removes expired entries until Close is called.
func (c *Cache) cleanupExpired() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.purge(time.Now())
		}
	}
}

// purge drops every entry that expired before now.
func (c *Cache) purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiration) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
