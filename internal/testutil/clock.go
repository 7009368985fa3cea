// Package testutil provides deterministic test doubles shared across
// package tests.
package testutil

import (
	"sync"
	"time"
)

// ManualClock is a gauge.TimeSource that only moves when told to.
//
// Tests drive decay deterministically by advancing it explicitly instead
// of sleeping.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at the given instant.
func NewManualClock(at time.Time) *ManualClock {
	return &ManualClock{now: at}
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to an absolute instant.
func (c *ManualClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}
