package crdt

import (
	"cmp"
	"fmt"
	"sync"
)

// OpID identifies one operation (or one inserted character) in the
// document. IDs are totally ordered by (Clock, Actor), which gives every
// replica the same last-write-wins decision without a central arbiter.
type OpID struct {
	Clock int64  `json:"clock"`
	Actor string `json:"actor"`
}

// IsZero reports whether id is the zero OpID (sequence head).
func (id OpID) IsZero() bool {
	return id.Clock == 0 && id.Actor == ""
}

// Compare orders ids by clock, then by actor for determinism.
func (id OpID) Compare(other OpID) int {
	if c := cmp.Compare(id.Clock, other.Clock); c != 0 {
		return c
	}
	return cmp.Compare(id.Actor, other.Actor)
}

// After reports whether id is newer than other.
func (id OpID) After(other OpID) bool {
	return id.Compare(other) > 0
}

func (id OpID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Actor)
}

// offset returns the id of the i-th rune of a multi-rune insert.
func (id OpID) offset(i int) OpID {
	return OpID{Clock: id.Clock + int64(i), Actor: id.Actor}
}

// LamportClock is the logical clock of one replica.
type LamportClock struct {
	mu      sync.Mutex
	counter int64
	actor   string
}

// NewLamportClock creates a clock for the given actor starting at 0.
func NewLamportClock(actor string) *LamportClock {
	return &LamportClock{actor: actor}
}

// Tick advances the clock for a new local event and returns its id.
func (c *LamportClock) Tick() OpID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter++
	return OpID{Clock: c.counter, Actor: c.actor}
}

// Reserve advances the clock by n and returns the first id of the
// reserved range. Used for multi-rune inserts.
func (c *LamportClock) Reserve(n int) OpID {
	c.mu.Lock()
	defer c.mu.Unlock()

	first := c.counter + 1
	c.counter += int64(n)
	return OpID{Clock: first, Actor: c.actor}
}

// Witness merges a timestamp observed from another replica so the next
// local tick is strictly greater.
func (c *LamportClock) Witness(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts > c.counter {
		c.counter = ts
	}
}

// Current returns the clock value without advancing it.
func (c *LamportClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counter
}

// Actor returns the replica id stamped on every local op.
func (c *LamportClock) Actor() string {
	return c.actor
}
