package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced time source.
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

// NewClock creates a Clock reading now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the configured current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
