package crdt

import (
	"slices"

	"github.com/roach88/tessera/internal/ir"
)

// Revert undoes one recorded change of a key, touching only what that
// change wrote. Writes made to the key by other transactions since then
// are kept:
//   - an added key is deleted,
//   - a deleted or replaced key is restored to its before-state,
//   - record fields are reset only while they still hold the value the
//     change wrote,
//   - text chars the change inserted are removed and chars it removed
//     are inserted again at their old place.
//
// A key deleted or replaced since the change is left alone.
func (tx *Txn) Revert(coll Collection, key string, ch Change) error {
	switch {
	case ch.Action == ActionAdd:
		tx.Delete(coll, key)
		return nil
	case ch.Action == ActionDelete, ch.Reincarnated:
		return tx.Restore(coll, key, ch.Before)
	}

	inc := tx.visible(coll, key)
	if inc == nil || inc.id != ch.Inc {
		return nil
	}
	if coll == CollText {
		tx.revertText(key, inc, ch)
		return nil
	}
	for _, field := range ch.Fields {
		var cur any
		if r, ok := inc.fields[field]; ok {
			cur = r.value
		}
		if !ir.ValuesEqual(cur, ch.After.Fields[field]) {
			continue
		}
		if err := tx.Set(coll, key, field, ch.Before.Fields[field]); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Txn) revertText(key string, inc *incarnation, ch Change) {
	seq := inc.text
	if seq == nil {
		return
	}

	var targets []OpID
	for _, id := range ch.Inserted {
		if i := seq.indexOf(id); i >= 0 && !seq.chars[i].deleted {
			targets = append(targets, id)
		}
	}
	runs := seq.runs(ch.Removed)

	if len(targets) > 0 {
		tx.local(Op{Kind: OpRemove, Coll: CollText, Key: key, ID: tx.doc.clock.Tick(), Inc: inc.id, Targets: targets})
	}
	for _, run := range runs {
		text := make([]rune, len(run))
		for i, c := range run {
			text[i] = c.r
		}
		id := tx.doc.clock.Reserve(len(text))
		tx.local(Op{Kind: OpInsert, Coll: CollText, Key: key, ID: id, Inc: inc.id, After: run[len(run)-1].id, Text: string(text)})
	}
}

// runs groups the still-deleted chars among ids into maximal runs of
// adjacent chars, in sequence order.
func (s *sequence) runs(ids []OpID) [][]char {
	if len(ids) == 0 {
		return nil
	}
	var (
		out [][]char
		cur []char
	)
	for _, c := range s.chars {
		if c.deleted && slices.Contains(ids, c.id) {
			cur = append(cur, c)
			continue
		}
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
