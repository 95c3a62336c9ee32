package crdt

import (
	"fmt"
	"maps"
	"slices"
	"unicode/utf8"

	"github.com/roach88/tessera/internal/ir"
)

type touchedKey struct {
	before    State
	beforeInc OpID
	orig      *entry

	fields   map[string]bool
	inserted []OpID
	removed  []OpID
}

// note records what op did to its key so the transaction record can
// describe the change as a delta.
func (t *touchedKey) note(op Op) {
	switch op.Kind {
	case OpSet:
		if t.fields == nil {
			t.fields = make(map[string]bool)
		}
		t.fields[op.Field] = true
	case OpInsert:
		for i := range utf8.RuneCountInString(op.Text) {
			t.inserted = append(t.inserted, op.ID.offset(i))
		}
	case OpRemove:
		for _, id := range op.Targets {
			if i := slices.Index(t.inserted, id); i >= 0 {
				t.inserted = slices.Delete(t.inserted, i, i+1)
				continue
			}
			t.removed = append(t.removed, id)
		}
	}
}

// Txn is a running transaction. It is only valid inside the function
// passed to Doc.Transact.
type Txn struct {
	doc     *Doc
	origin  Origin
	ops     []Op
	touched map[Collection]map[string]touchedKey
}

func newTxn(d *Doc, origin Origin) *Txn {
	tx := &Txn{
		doc:     d,
		origin:  origin,
		touched: make(map[Collection]map[string]touchedKey),
	}
	for _, c := range Collections {
		tx.touched[c] = make(map[string]touchedKey)
	}
	return tx
}

// Origin returns the transaction's origin tag.
func (tx *Txn) Origin() Origin {
	return tx.origin
}

// Get returns the visible fields of a record as seen by this transaction.
func (tx *Txn) Get(coll Collection, key string) (map[string]any, bool) {
	return tx.doc.Get(coll, key)
}

// Has reports whether a key is visible.
func (tx *Txn) Has(coll Collection, key string) bool {
	return tx.doc.Has(coll, key)
}

// Keys returns the visible keys of a collection in sorted order.
func (tx *Txn) Keys(coll Collection) []string {
	return tx.doc.Keys(coll)
}

// Text returns the visible text of a key.
func (tx *Txn) Text(key string) (string, bool) {
	return tx.doc.Text(key)
}

// Add creates a record with the given fields as a new incarnation.
func (tx *Txn) Add(coll Collection, key string, fields map[string]any) error {
	if coll == CollText {
		return fmt.Errorf("add %s: use CreateText for text entries", key)
	}
	if !coll.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, coll)
	}
	id := tx.doc.clock.Tick()
	tx.local(Op{Kind: OpAdd, Coll: coll, Key: key, ID: id, Inc: id, Fields: normalizeFields(fields)})
	return nil
}

// Set writes one field of a visible record. Writing a value equal to the
// current one emits nothing. A nil value removes the field.
func (tx *Txn) Set(coll Collection, key, field string, value any) error {
	inc := tx.visible(coll, key)
	if inc == nil {
		return fmt.Errorf("set %s/%s.%s: %w", coll, key, field, ErrNotFound)
	}
	value = normalizeValue(value)
	cur, ok := inc.fields[field]
	if ok && ir.ValuesEqual(cur.value, value) {
		return nil
	}
	if !ok && value == nil {
		return nil
	}
	tx.local(Op{Kind: OpSet, Coll: coll, Key: key, ID: tx.doc.clock.Tick(), Inc: inc.id, Field: field, Value: value})
	return nil
}

// Put writes one field of a visible record even when it already holds
// value, so the write takes part in last-writer-wins ordering against
// concurrent writes of the same field.
func (tx *Txn) Put(coll Collection, key, field string, value any) error {
	inc := tx.visible(coll, key)
	if inc == nil {
		return fmt.Errorf("put %s/%s.%s: %w", coll, key, field, ErrNotFound)
	}
	tx.local(Op{Kind: OpSet, Coll: coll, Key: key, ID: tx.doc.clock.Tick(), Inc: inc.id, Field: field, Value: normalizeValue(value)})
	return nil
}

// Delete tombstones every live incarnation of a key. It reports whether
// the key was visible.
func (tx *Txn) Delete(coll Collection, key string) bool {
	e, ok := tx.doc.colls[coll][key]
	if !ok || e.visible() == nil {
		return false
	}
	var live []OpID
	for id, inc := range e.incs {
		if inc.live() {
			live = append(live, id)
		}
	}
	slices.SortFunc(live, OpID.Compare)
	for _, inc := range live {
		tx.local(Op{Kind: OpDelete, Coll: coll, Key: key, ID: tx.doc.clock.Tick(), Inc: inc})
	}
	return true
}

// CreateText creates a new text incarnation seeded with text.
func (tx *Txn) CreateText(key, text string) {
	id := tx.doc.clock.Tick()
	tx.local(Op{Kind: OpAdd, Coll: CollText, Key: key, ID: id, Inc: id})
	if text != "" {
		tx.local(Op{Kind: OpInsert, Coll: CollText, Key: key, ID: tx.doc.clock.Reserve(utf8.RuneCountInString(text)), Inc: id, Text: text})
	}
}

// EditText deletes deleteCount runes at index and inserts text there.
func (tx *Txn) EditText(key string, index, deleteCount int, text string) error {
	inc := tx.visible(CollText, key)
	if inc == nil {
		return fmt.Errorf("edit text %s: %w", key, ErrNotFound)
	}
	ids := inc.text.visibleIDs()
	if index < 0 || deleteCount < 0 || index+deleteCount > len(ids) {
		return fmt.Errorf("edit text %s at %d+%d of %d: %w", key, index, deleteCount, len(ids), ErrOutOfRange)
	}
	if deleteCount > 0 {
		targets := append([]OpID(nil), ids[index:index+deleteCount]...)
		tx.local(Op{Kind: OpRemove, Coll: CollText, Key: key, ID: tx.doc.clock.Tick(), Inc: inc.id, Targets: targets})
	}
	if text != "" {
		var after OpID
		if index > 0 {
			after = ids[index-1]
		}
		id := tx.doc.clock.Reserve(utf8.RuneCountInString(text))
		tx.local(Op{Kind: OpInsert, Coll: CollText, Key: key, ID: id, Inc: inc.id, After: after, Text: text})
	}
	return nil
}

// SetText rewrites a text entry to text with a minimal prefix/suffix
// edit, creating the entry when absent.
func (tx *Txn) SetText(key, text string) error {
	cur, ok := tx.Text(key)
	if !ok {
		tx.CreateText(key, text)
		return nil
	}
	index, deleteCount, insert := TextDiff(cur, text)
	if deleteCount == 0 && insert == "" {
		return nil
	}
	return tx.EditText(key, index, deleteCount, insert)
}

// Restore rewrites a key to a previously observed state. Absent keys are
// re-created as a fresh incarnation.
func (tx *Txn) Restore(coll Collection, key string, s State) error {
	if !s.Present {
		tx.Delete(coll, key)
		return nil
	}
	if coll == CollText {
		return tx.SetText(key, s.Text)
	}
	cur, ok := tx.Get(coll, key)
	if !ok {
		return tx.Add(coll, key, s.Fields)
	}
	for k := range cur {
		if _, keep := s.Fields[k]; !keep {
			if err := tx.Set(coll, key, k, nil); err != nil {
				return err
			}
		}
	}
	for k, v := range s.Fields {
		if err := tx.Set(coll, key, k, v); err != nil {
			return err
		}
	}
	return nil
}

// TextDiff returns the single edit turning a into b: delete deleteCount
// runes at index and insert text there.
func TextDiff(a, b string) (index, deleteCount int, text string) {
	ar, br := []rune(a), []rune(b)
	p := 0
	for p < len(ar) && p < len(br) && ar[p] == br[p] {
		p++
	}
	s := 0
	for s < len(ar)-p && s < len(br)-p && ar[len(ar)-1-s] == br[len(br)-1-s] {
		s++
	}
	return p, len(ar) - p - s, string(br[p : len(br)-s])
}

func (tx *Txn) visible(coll Collection, key string) *incarnation {
	e, ok := tx.doc.colls[coll][key]
	if !ok {
		return nil
	}
	return e.visible()
}

func (tx *Txn) local(op Op) {
	tx.touch(op.Coll, op.Key)
	tx.note(op)
	tx.doc.apply(op)
	tx.ops = append(tx.ops, op)
}

func (tx *Txn) touch(coll Collection, key string) {
	if _, ok := tx.touched[coll][key]; ok {
		return
	}
	e := tx.doc.colls[coll][key]
	t := touchedKey{before: e.state(coll)}
	if e != nil {
		t.orig = e.clone()
		if inc := e.visible(); inc != nil {
			t.beforeInc = inc.id
		}
	}
	tx.touched[coll][key] = t
}

func (tx *Txn) note(op Op) {
	t := tx.touched[op.Coll][op.Key]
	t.note(op)
	tx.touched[op.Coll][op.Key] = t
}

func (tx *Txn) rollback() {
	for coll, keys := range tx.touched {
		for key, t := range keys {
			if t.orig == nil {
				delete(tx.doc.colls[coll], key)
				continue
			}
			tx.doc.colls[coll][key] = t.orig
		}
	}
}

func (tx *Txn) record() TxnRecord {
	rec := TxnRecord{
		Origin:  tx.origin,
		Changes: make(map[Collection]map[string]Change),
	}
	for coll, keys := range tx.touched {
		for key, t := range keys {
			e := tx.doc.colls[coll][key]
			after := e.state(coll)
			action, changed := classify(t.before, after, coll)
			if !changed {
				continue
			}
			if rec.Changes[coll] == nil {
				rec.Changes[coll] = make(map[string]Change)
			}
			ch := Change{
				Action:   action,
				Before:   cloneState(t.before),
				After:    after,
				Fields:   slices.Sorted(maps.Keys(t.fields)),
				Inserted: t.inserted,
				Removed:  t.removed,
			}
			if inc := e.visible(); inc != nil {
				ch.Inc = inc.id
			}
			ch.Reincarnated = action == ActionUpdate && ch.Inc != t.beforeInc
			rec.Changes[coll][key] = ch
		}
	}
	return rec
}

func cloneState(s State) State {
	s.Fields = maps.Clone(s.Fields)
	return s
}
