// Package testutil holds deterministic clocks and id generators shared by
// tests and the scenario harness.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a wall clock that advances a fixed step on every
// reading.
//
// It stands in for time.Now wherever timestamps end up in test output, so
// the same scenario produces identical snapshots and golden files.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	n    int64
}

// NewDeterministicClock creates a clock whose first reading is base+step.
func NewDeterministicClock(base time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{base: base.UTC(), step: step}
}

// Now advances the clock and returns the new time. Its signature matches
// time.Now so it can be passed as a clock function.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.base.Add(time.Duration(c.n) * c.step)
}

// Readings returns how many times Now was called.
func (c *DeterministicClock) Readings() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock. After Reset, Now returns base+step again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
