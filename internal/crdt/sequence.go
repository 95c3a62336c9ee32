package crdt

import (
	"maps"
	"slices"
	"strings"
)

// char is one rune of a replicated text sequence. Deleted chars stay in
// place as tombstones so later inserts can still anchor on them.
type char struct {
	id      OpID
	r       rune
	deleted bool
}

// pendingInsert is an insert whose anchor has not arrived yet.
type pendingInsert struct {
	after OpID
	id    OpID
	text  string
}

// sequence is a replicated growable array (RGA). Concurrent inserts at
// the same anchor are ordered by descending id, so every replica
// produces the same character order.
type sequence struct {
	chars   []char
	parked  []pendingInsert
	removed map[OpID]bool // removes that arrived before their target
}

func newSequence() *sequence {
	return &sequence{removed: make(map[OpID]bool)}
}

func (s *sequence) clone() *sequence {
	return &sequence{
		chars:   slices.Clone(s.chars),
		parked:  slices.Clone(s.parked),
		removed: maps.Clone(s.removed),
	}
}

func (s *sequence) indexOf(id OpID) int {
	for i, c := range s.chars {
		if c.id == id {
			return i
		}
	}
	return -1
}

// insert integrates text after the given anchor. It parks the insert
// when the anchor is unknown and retries parked inserts after every
// successful integration. Re-delivered inserts are ignored.
func (s *sequence) insert(after, id OpID, text string) {
	if !s.integrate(after, id, text) {
		s.parked = append(s.parked, pendingInsert{after: after, id: id, text: text})
		return
	}
	for progress := true; progress && len(s.parked) > 0; {
		progress = false
		remaining := s.parked[:0]
		for _, p := range s.parked {
			if s.integrate(p.after, p.id, p.text) {
				progress = true
				continue
			}
			remaining = append(remaining, p)
		}
		s.parked = remaining
	}
}

func (s *sequence) integrate(after, id OpID, text string) bool {
	if s.indexOf(id) >= 0 {
		return true
	}
	pos := 0
	if !after.IsZero() {
		idx := s.indexOf(after)
		if idx < 0 {
			return false
		}
		pos = idx + 1
	}
	i := 0
	for _, r := range text {
		cid := id.offset(i)
		for pos < len(s.chars) && s.chars[pos].id.After(cid) {
			pos++
		}
		c := char{id: cid, r: r}
		if s.removed[cid] {
			c.deleted = true
			delete(s.removed, cid)
		}
		s.chars = slices.Insert(s.chars, pos, c)
		pos++
		i++
	}
	return true
}

// remove tombstones the target chars, remembering targets not yet seen.
func (s *sequence) remove(targets []OpID) {
	for _, t := range targets {
		if idx := s.indexOf(t); idx >= 0 {
			s.chars[idx].deleted = true
			continue
		}
		s.removed[t] = true
	}
}

// String returns the visible text.
func (s *sequence) String() string {
	var b strings.Builder
	for _, c := range s.chars {
		if !c.deleted {
			b.WriteRune(c.r)
		}
	}
	return b.String()
}

// visibleIDs returns the ids of the visible chars in order.
func (s *sequence) visibleIDs() []OpID {
	ids := make([]OpID, 0, len(s.chars))
	for _, c := range s.chars {
		if !c.deleted {
			ids = append(ids, c.id)
		}
	}
	return ids
}
