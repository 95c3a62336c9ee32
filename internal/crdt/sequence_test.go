package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func id(clock int64, actor string) OpID {
	return OpID{Clock: clock, Actor: actor}
}

func TestSequenceInsertAndRemove(t *testing.T) {
	s := newSequence()
	s.insert(OpID{}, id(1, "a"), "helo")
	s.insert(id(3, "a"), id(5, "a"), "l")

	assert.Equal(t, "hello", s.String())

	s.remove([]OpID{id(1, "a")})
	assert.Equal(t, "ello", s.String())
}

func TestSequenceConcurrentInsertsConverge(t *testing.T) {
	base := func() *sequence {
		s := newSequence()
		s.insert(OpID{}, id(1, "a"), "ab")
		return s
	}
	x := func(s *sequence) { s.insert(id(1, "a"), id(3, "a"), "X") }
	y := func(s *sequence) { s.insert(id(1, "a"), id(3, "b"), "Y") }

	s1 := base()
	x(s1)
	y(s1)
	s2 := base()
	y(s2)
	x(s2)

	assert.Equal(t, s1.String(), s2.String())
	assert.Equal(t, "aYXb", s1.String(), "greater id is placed first at a shared anchor")
}

func TestSequenceParksUntilAnchorArrives(t *testing.T) {
	s := newSequence()
	s.insert(id(2, "a"), id(3, "a"), "c")
	assert.Equal(t, "", s.String())

	s.insert(OpID{}, id(1, "a"), "ab")
	assert.Equal(t, "abc", s.String(), "parked insert applied once its anchor exists")
	assert.Empty(t, s.parked)
}

func TestSequenceRemoveBeforeInsert(t *testing.T) {
	s := newSequence()
	s.remove([]OpID{id(2, "a")})
	s.insert(OpID{}, id(1, "a"), "ab")

	assert.Equal(t, "a", s.String())
}

func TestSequenceInsertIdempotent(t *testing.T) {
	s := newSequence()
	s.insert(OpID{}, id(1, "a"), "ab")
	s.insert(OpID{}, id(1, "a"), "ab")

	assert.Equal(t, "ab", s.String())
}

func TestSequenceCloneIsIndependent(t *testing.T) {
	s := newSequence()
	s.insert(OpID{}, id(1, "a"), "ab")
	c := s.clone()
	c.remove([]OpID{id(1, "a")})

	assert.Equal(t, "ab", s.String())
	assert.Equal(t, "b", c.String())
}
