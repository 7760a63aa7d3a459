package testutil

import (
	"sync"
	"time"
)

// MockCache implements cache.Store for testing and counts lookups.
type MockCache struct {
	entries map[string]mockEntry
	hits    map[string]int
	misses  map[string]int
	mu      sync.RWMutex
}

type mockEntry struct {
	value      any
	expiration time.Time
}

// NewMockCache creates a new MockCache.
func NewMockCache() *MockCache {
	return &MockCache{
		entries: make(map[string]mockEntry),
		hits:    make(map[string]int),
		misses:  make(map[string]int),
	}
}

// Get retrieves a value from the cache.
func (m *MockCache) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || (!entry.expiration.IsZero() && time.Now().After(entry.expiration)) {
		m.misses[key]++
		return nil, false
	}
	m.hits[key]++
	return entry.value, true
}

// Set stores a value in the cache (no TTL).
func (m *MockCache) Set(key string, value any) {
	m.SetWithTTL(key, value, 0)
}

// SetWithTTL stores a value in the cache with a TTL.
func (m *MockCache) SetWithTTL(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := mockEntry{value: value}
	if ttl > 0 {
		entry.expiration = time.Now().Add(ttl)
	}
	m.entries[key] = entry
}

// Delete removes a key.
func (m *MockCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Hits returns how many lookups of key were served from the cache.
func (m *MockCache) Hits(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits[key]
}

// Misses returns how many lookups of key found nothing.
func (m *MockCache) Misses(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.misses[key]
}

// Len returns the number of entries in the cache.
func (m *MockCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
