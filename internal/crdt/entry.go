package crdt

import "maps"

// register is a last-write-wins field value.
type register struct {
	value any
	id    OpID
}

// incarnation is one lifetime of a key, from its add to its delete.
// Sets and deletes may arrive before the add; the incarnation then
// exists with added=false until the add shows up.
type incarnation struct {
	id      OpID
	added   bool
	deleted bool
	fields  map[string]register
	text    *sequence
}

func (inc *incarnation) clone() *incarnation {
	c := *inc
	c.fields = maps.Clone(inc.fields)
	if inc.text != nil {
		c.text = inc.text.clone()
	}
	return &c
}

func (inc *incarnation) live() bool {
	return inc.added && !inc.deleted
}

// setField applies a write if it is newer than the current value.
func (inc *incarnation) setField(field string, value any, id OpID) {
	if cur, ok := inc.fields[field]; ok && !id.After(cur.id) {
		return
	}
	inc.fields[field] = register{value: value, id: id}
}

func (inc *incarnation) values() map[string]any {
	out := make(map[string]any, len(inc.fields))
	for k, r := range inc.fields {
		if r.value != nil {
			out[k] = r.value
		}
	}
	return out
}

// entry holds every incarnation of one key. The visible value is the
// live incarnation with the greatest id, which makes a delete win over
// concurrent edits of the same incarnation while still letting a later
// re-add (undo) bring the key back.
type entry struct {
	incs map[OpID]*incarnation
}

func newEntry() *entry {
	return &entry{incs: make(map[OpID]*incarnation)}
}

func (e *entry) clone() *entry {
	c := newEntry()
	for id, inc := range e.incs {
		c.incs[id] = inc.clone()
	}
	return c
}

func (e *entry) incarnation(id OpID) *incarnation {
	inc, ok := e.incs[id]
	if !ok {
		inc = &incarnation{id: id, fields: make(map[string]register)}
		e.incs[id] = inc
	}
	return inc
}

func (e *entry) visible() *incarnation {
	var best *incarnation
	for _, inc := range e.incs {
		if inc.live() && (best == nil || inc.id.After(best.id)) {
			best = inc
		}
	}
	return best
}

// State is the visible state of one key at a point in time.
type State struct {
	Present bool           `json:"present"`
	Fields  map[string]any `json:"fields,omitempty"`
	Text    string         `json:"text,omitempty"`
}

func (e *entry) state(coll Collection) State {
	if e == nil {
		return State{}
	}
	inc := e.visible()
	if inc == nil {
		return State{}
	}
	if coll == CollText {
		s := State{Present: true}
		if inc.text != nil {
			s.Text = inc.text.String()
		}
		return s
	}
	return State{Present: true, Fields: inc.values()}
}
