package engine

import "sync/atomic"

// Clock is the monotonic revision counter of a canvas view.
//
// Every folded view update is stamped with the next revision, so hosts
// can tell whether the view changed since they last rendered it and tests
// can count notifications exactly.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// although only the session loop advances it.
type Clock struct {
	rev atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific revision.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.rev.Store(start)
	return c
}

// Next advances the clock and returns the new revision.
func (c *Clock) Next() int64 {
	return c.rev.Add(1)
}

// Current returns the current revision without advancing.
func (c *Clock) Current() int64 {
	return c.rev.Load()
}
