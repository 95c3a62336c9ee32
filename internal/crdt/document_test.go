package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func local(actor string) Origin {
	return Origin{Actor: actor, Source: SourceLocal}
}

// syncDocs delivers every update from src that dst has not seen.
func syncDocs(t *testing.T, src, dst *Doc) {
	t.Helper()
	for _, u := range src.UpdatesSince(dst.StateVector()) {
		require.NoError(t, dst.ApplyUpdate(u))
	}
}

func addBlock(t *testing.T, d *Doc, key string, x float64) {
	t.Helper()
	err := d.Transact(local(d.Actor()), func(tx *Txn) error {
		return tx.Add(CollBlocks, key, map[string]any{"type": "text", "x": x, "y": 0})
	})
	require.NoError(t, err)
}

func TestTransactEmitsUpdateThenEventsThenRecord(t *testing.T) {
	d := NewDoc("a")
	var trace []string
	var updates []Update
	events := map[Collection][]Event{}

	d.OnUpdate(func(u Update) {
		trace = append(trace, "update")
		updates = append(updates, u)
	})
	for _, c := range Collections {
		d.Observe(c, func(ev Event) {
			trace = append(trace, "event:"+string(ev.Coll))
			events[ev.Coll] = append(events[ev.Coll], ev)
		})
	}
	d.OnTransaction(func(TxnRecord) { trace = append(trace, "txn") })

	err := d.Transact(local("a"), func(tx *Txn) error {
		if err := tx.Add(CollBlocks, "b1", map[string]any{"type": "text", "x": 1}); err != nil {
			return err
		}
		tx.CreateText("b1", "hi")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"update", "event:blocks", "event:text", "txn"}, trace)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1), updates[0].Seq)
	assert.Len(t, updates[0].Ops, 3)

	blockEv := events[CollBlocks][0]
	assert.Equal(t, []string{"b1"}, blockEv.Keys)
	assert.Equal(t, ActionAdd, blockEv.Changes["b1"].Action)
	assert.Equal(t, SourceLocal, blockEv.Origin.Source)
	assert.Equal(t, 1.0, blockEv.Changes["b1"].After.Fields["x"], "numbers are stored as float64")

	textEv := events[CollText][0]
	assert.Equal(t, "hi", textEv.Changes["b1"].After.Text)
	assert.False(t, textEv.Changes["b1"].Before.Present)
}

func TestTransactReadsOwnWrites(t *testing.T) {
	d := NewDoc("a")
	err := d.Transact(local("a"), func(tx *Txn) error {
		require.NoError(t, tx.Add(CollBlocks, "b1", map[string]any{"x": 1}))
		require.NoError(t, tx.Set(CollBlocks, "b1", "x", 2))
		f, ok := tx.Get(CollBlocks, "b1")
		assert.True(t, ok)
		assert.Equal(t, 2.0, f["x"])
		return nil
	})
	require.NoError(t, err)
}

func TestTransactRollsBackOnError(t *testing.T) {
	d := NewDoc("a")
	addBlock(t, d, "b1", 1)

	var events int
	d.Observe(CollBlocks, func(Event) { events++ })
	boom := errors.New("boom")

	err := d.Transact(local("a"), func(tx *Txn) error {
		require.NoError(t, tx.Set(CollBlocks, "b1", "x", 99))
		require.NoError(t, tx.Add(CollBlocks, "b2", map[string]any{"x": 5}))
		tx.Delete(CollBlocks, "b1")
		return boom
	})

	assert.ErrorIs(t, err, boom)
	f, ok := d.Get(CollBlocks, "b1")
	require.True(t, ok)
	assert.Equal(t, 1.0, f["x"])
	assert.False(t, d.Has(CollBlocks, "b2"))
	assert.Zero(t, events)
	assert.Len(t, d.Updates(), 1, "rolled back transaction produced no update")
}

func TestNestedTransactJoinsOuter(t *testing.T) {
	d := NewDoc("a")
	var updates int
	d.OnUpdate(func(Update) { updates++ })

	err := d.Transact(local("a"), func(tx *Txn) error {
		require.NoError(t, tx.Add(CollBlocks, "b1", map[string]any{"x": 1}))
		return d.Transact(local("a"), func(inner *Txn) error {
			assert.Same(t, tx, inner)
			return inner.Add(CollBlocks, "b2", map[string]any{"x": 2})
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, updates)
	assert.Equal(t, []string{"b1", "b2"}, d.Keys(CollBlocks))
}

func TestEmptyTransactionEmitsNothing(t *testing.T) {
	d := NewDoc("a")
	addBlock(t, d, "b1", 1)

	var updates, events, records int
	d.OnUpdate(func(Update) { updates++ })
	d.Observe(CollBlocks, func(Event) { events++ })
	d.OnTransaction(func(TxnRecord) { records++ })

	err := d.Transact(local("a"), func(tx *Txn) error {
		return tx.Set(CollBlocks, "b1", "x", 1)
	})

	require.NoError(t, err)
	assert.Zero(t, updates)
	assert.Zero(t, events)
	assert.Zero(t, records)
}

func TestSetOnMissingKey(t *testing.T) {
	d := NewDoc("a")
	err := d.Transact(local("a"), func(tx *Txn) error {
		return tx.Set(CollBlocks, "nope", "x", 1)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteEventsCarryRemoteOriginAndAreNotRebroadcast(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	addBlock(t, a, "b1", 1)

	var rebroadcast int
	var origin Origin
	b.OnUpdate(func(Update) { rebroadcast++ })
	b.Observe(CollBlocks, func(ev Event) { origin = ev.Origin })

	syncDocs(t, a, b)

	assert.Zero(t, rebroadcast)
	assert.Equal(t, Origin{Actor: "a", Source: SourceRemote}, origin)
	assert.True(t, b.Has(CollBlocks, "b1"))
}

func TestApplyUpdateIgnoresDuplicates(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	addBlock(t, a, "b1", 1)

	var events int
	b.Observe(CollBlocks, func(Event) { events++ })

	u := a.Updates()[0]
	require.NoError(t, b.ApplyUpdate(u))
	require.NoError(t, b.ApplyUpdate(u))
	require.NoError(t, a.ApplyUpdate(u), "own echo is ignored")

	assert.Equal(t, 1, events)
	assert.Len(t, b.Updates(), 1)
	assert.Len(t, a.Updates(), 1)
}

func TestConcurrentFieldWritesConvergeLastWriterWins(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	addBlock(t, a, "b1", 0)
	syncDocs(t, a, b)

	require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
		if err := tx.Set(CollBlocks, "b1", "x", 10); err != nil {
			return err
		}
		return tx.Set(CollBlocks, "b1", "y", 10)
	}))
	require.NoError(t, b.Transact(local("b"), func(tx *Txn) error {
		if err := tx.Set(CollBlocks, "b1", "x", 20); err != nil {
			return err
		}
		return tx.Set(CollBlocks, "b1", "y", 20)
	}))

	syncDocs(t, a, b)
	syncDocs(t, b, a)

	fa, _ := a.Get(CollBlocks, "b1")
	fb, _ := b.Get(CollBlocks, "b1")
	assert.Equal(t, fa, fb)
	assert.Contains(t, []any{10.0, 20.0}, fa["x"])
	assert.Equal(t, fa["x"], fa["y"], "one writer wins both fields, never an average")
}

func TestDeleteWinsOverConcurrentEdit(t *testing.T) {
	for _, deleterFirst := range []bool{true, false} {
		a := NewDoc("a")
		b := NewDoc("b")
		addBlock(t, a, "b1", 0)
		syncDocs(t, a, b)

		require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
			tx.Delete(CollBlocks, "b1")
			return nil
		}))
		require.NoError(t, b.Transact(local("b"), func(tx *Txn) error {
			return tx.Set(CollBlocks, "b1", "x", 50)
		}))

		if deleterFirst {
			syncDocs(t, a, b)
			syncDocs(t, b, a)
		} else {
			syncDocs(t, b, a)
			syncDocs(t, a, b)
		}

		assert.False(t, a.Has(CollBlocks, "b1"))
		assert.False(t, b.Has(CollBlocks, "b1"))
	}
}

func TestConcurrentTextEditsConvergeCharacterWise(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
		tx.CreateText("b1", "hello")
		return nil
	}))
	syncDocs(t, a, b)

	require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
		return tx.EditText("b1", 5, 0, " world")
	}))
	require.NoError(t, b.Transact(local("b"), func(tx *Txn) error {
		return tx.EditText("b1", 0, 1, "J")
	}))

	syncDocs(t, a, b)
	syncDocs(t, b, a)

	ta, _ := a.Text("b1")
	tb, _ := b.Text("b1")
	assert.Equal(t, ta, tb)
	assert.Equal(t, "Jello world", ta)
}

func TestConcurrentTextCreationResolvesToOne(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
		tx.CreateText("b1", "from a")
		return nil
	}))
	require.NoError(t, b.Transact(local("b"), func(tx *Txn) error {
		tx.CreateText("b1", "from b")
		return nil
	}))

	syncDocs(t, a, b)
	syncDocs(t, b, a)

	ta, _ := a.Text("b1")
	tb, _ := b.Text("b1")
	assert.Equal(t, ta, tb)
	assert.Equal(t, []string{"b1"}, a.Keys(CollText))

	require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
		tx.Delete(CollText, "b1")
		return nil
	}))
	assert.False(t, a.Has(CollText, "b1"), "delete removes every concurrent incarnation")
}

func TestApplyUpdateDuringTransactionIsQueued(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	addBlock(t, a, "remote", 1)
	u := a.Updates()[0]

	err := b.Transact(local("b"), func(tx *Txn) error {
		require.NoError(t, b.ApplyUpdate(u))
		assert.False(t, tx.Has(CollBlocks, "remote"), "queued until commit")
		return tx.Add(CollBlocks, "mine", map[string]any{"x": 2})
	})

	require.NoError(t, err)
	assert.True(t, b.Has(CollBlocks, "remote"))
	assert.True(t, b.Has(CollBlocks, "mine"))
}

func TestApplyUpdateFromEventHandlerIsQueued(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	addBlock(t, a, "first", 1)
	addBlock(t, a, "second", 2)
	updates := a.Updates()

	var seen []string
	b.Observe(CollBlocks, func(ev Event) {
		seen = append(seen, ev.Keys...)
		if ev.Keys[0] == "first" {
			require.NoError(t, b.ApplyUpdate(updates[1]))
			assert.False(t, b.Has(CollBlocks, "second"))
		}
	})

	require.NoError(t, b.ApplyUpdate(updates[0]))
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestRestoreReAddsWithFreshIncarnation(t *testing.T) {
	d := NewDoc("a")
	addBlock(t, d, "b1", 7)
	before, _ := d.Get(CollBlocks, "b1")

	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		tx.Delete(CollBlocks, "b1")
		return nil
	}))
	require.False(t, d.Has(CollBlocks, "b1"))

	require.NoError(t, d.Transact(Origin{Actor: "a", Source: SourceUndo}, func(tx *Txn) error {
		return tx.Restore(CollBlocks, "b1", State{Present: true, Fields: before})
	}))

	got, ok := d.Get(CollBlocks, "b1")
	require.True(t, ok)
	assert.Equal(t, before, got)
}

func TestRestoreRemovesExtraFields(t *testing.T) {
	d := NewDoc("a")
	addBlock(t, d, "b1", 7)
	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		return tx.Set(CollBlocks, "b1", "extra", "v")
	}))

	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		return tx.Restore(CollBlocks, "b1", State{Present: true, Fields: map[string]any{"type": "text", "x": 7, "y": 0}})
	}))

	got, _ := d.Get(CollBlocks, "b1")
	assert.Equal(t, map[string]any{"type": "text", "x": 7.0, "y": 0.0}, got)
}

func TestSetTextUsesMinimalEdit(t *testing.T) {
	d := NewDoc("a")
	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		return tx.SetText("b1", "hello")
	}))
	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		return tx.SetText("b1", "hello world")
	}))

	updates := d.Updates()
	require.Len(t, updates, 2)
	require.Len(t, updates[1].Ops, 1)
	assert.Equal(t, OpInsert, updates[1].Ops[0].Kind)
	assert.Equal(t, " world", updates[1].Ops[0].Text)

	text, _ := d.Text("b1")
	assert.Equal(t, "hello world", text)
}

func TestEditTextOutOfRange(t *testing.T) {
	d := NewDoc("a")
	err := d.Transact(local("a"), func(tx *Txn) error {
		tx.CreateText("b1", "abc")
		return tx.EditText("b1", 2, 5, "")
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.False(t, d.Has(CollText, "b1"))
}

func TestTextDiff(t *testing.T) {
	tests := []struct {
		a, b   string
		index  int
		delete int
		insert string
	}{
		{"hello", "hello", 5, 0, ""},
		{"hello", "hello world", 5, 0, " world"},
		{"hello world", "hello", 5, 6, ""},
		{"abc", "aXc", 1, 1, "X"},
		{"", "new", 0, 0, "new"},
		{"aaa", "aa", 2, 1, ""},
	}
	for _, tt := range tests {
		index, del, ins := TextDiff(tt.a, tt.b)
		assert.Equal(t, tt.index, index, "%q -> %q", tt.a, tt.b)
		assert.Equal(t, tt.delete, del, "%q -> %q", tt.a, tt.b)
		assert.Equal(t, tt.insert, ins, "%q -> %q", tt.a, tt.b)
	}
}

func TestStateVectorAndUpdatesSince(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	addBlock(t, a, "b1", 1)
	addBlock(t, a, "b2", 2)
	syncDocs(t, a, b)
	addBlock(t, a, "b3", 3)

	assert.Equal(t, StateVector{"a": 2}, b.StateVector())
	missing := a.UpdatesSince(b.StateVector())
	require.Len(t, missing, 1)
	assert.Equal(t, int64(3), missing[0].Seq)
}

func TestStateVectorIsContiguous(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	addBlock(t, a, "b1", 1)
	addBlock(t, a, "b2", 2)
	updates := a.Updates()

	require.NoError(t, b.ApplyUpdate(updates[1]))
	assert.Equal(t, int64(0), b.StateVector()["a"])

	require.NoError(t, b.ApplyUpdate(updates[0]))
	assert.Equal(t, int64(2), b.StateVector()["a"])
}

func TestLoadContinuesLocalSeq(t *testing.T) {
	a := NewDoc("a")
	addBlock(t, a, "b1", 1)
	addBlock(t, a, "b2", 2)

	restored := NewDoc("a")
	require.NoError(t, restored.Load(a.Updates()))
	addBlock(t, restored, "b3", 3)

	updates := restored.Updates()
	require.Len(t, updates, 3)
	assert.Equal(t, int64(3), updates[2].Seq)
	assert.Greater(t, updates[2].Ops[0].ID.Clock, updates[1].Ops[0].ID.Clock)
}

func TestEncodeDecodeUpdate(t *testing.T) {
	d := NewDoc("a")
	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		if err := tx.Add(CollBlocks, "b1", map[string]any{"type": "text", "x": 1.5}); err != nil {
			return err
		}
		tx.CreateText("b1", "héllo")
		return tx.EditText("b1", 0, 1, "")
	}))
	u := d.Updates()[0]

	data, err := EncodeUpdate(u)
	require.NoError(t, err)
	decoded, err := DecodeUpdate(data)
	require.NoError(t, err)
	assert.Equal(t, u, decoded)

	other := NewDoc("b")
	require.NoError(t, other.ApplyUpdate(decoded))
	text, _ := other.Text("b1")
	assert.Equal(t, "éllo", text)
}

func TestDecodeUpdateRejectsMalformed(t *testing.T) {
	_, err := DecodeUpdate([]byte(`{"actor":"a"}`))
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = DecodeUpdate([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestApplyUpdateRejectsInvalidOps(t *testing.T) {
	d := NewDoc("b")
	err := d.ApplyUpdate(Update{Actor: "a", Seq: 1, Ops: []Op{
		{Kind: "explode", Coll: CollBlocks, Key: "b1", ID: OpID{Clock: 1, Actor: "a"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	err = d.ApplyUpdate(Update{Actor: "a", Seq: 1, Ops: []Op{
		{Kind: OpAdd, Coll: "widgets", Key: "b1", ID: OpID{Clock: 1, Actor: "a"}},
	}})
	assert.ErrorIs(t, err, ErrUnknownCollection)
	assert.Empty(t, d.Updates())
}

func TestTransactionRecordCarriesDelta(t *testing.T) {
	d := NewDoc("a")
	addBlock(t, d, "b1", 0)
	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		tx.CreateText("b1", "abc")
		return nil
	}))

	var rec TxnRecord
	d.OnTransaction(func(r TxnRecord) { rec = r })
	require.NoError(t, d.Transact(local("a"), func(tx *Txn) error {
		if err := tx.Set(CollBlocks, "b1", "x", 5); err != nil {
			return err
		}
		if err := tx.EditText("b1", 1, 1, "XY"); err != nil {
			return err
		}
		// removing one of the chars inserted above cancels it out
		return tx.EditText("b1", 2, 1, "")
	}))

	block := rec.Changes[CollBlocks]["b1"]
	assert.Equal(t, []string{"x"}, block.Fields)
	assert.False(t, block.Reincarnated)

	text := rec.Changes[CollText]["b1"]
	assert.Equal(t, "aXc", text.After.Text)
	assert.Len(t, text.Inserted, 1)
	assert.Len(t, text.Removed, 1)
}

func TestPutWritesUnchangedValue(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
		return tx.Add(CollBlocks, "b1", map[string]any{"owner": "a", "locked": false})
	}))
	syncDocs(t, a, b)

	// a already owns b1, so only Put keeps its owner write in the race.
	require.NoError(t, a.Transact(local("a"), func(tx *Txn) error {
		if err := tx.Put(CollBlocks, "b1", "owner", "a"); err != nil {
			return err
		}
		return tx.Put(CollBlocks, "b1", "locked", true)
	}))
	require.NoError(t, b.Transact(local("b"), func(tx *Txn) error {
		if err := tx.Put(CollBlocks, "b1", "owner", "b"); err != nil {
			return err
		}
		return tx.Put(CollBlocks, "b1", "locked", true)
	}))
	syncDocs(t, a, b)
	syncDocs(t, b, a)

	fa, _ := a.Get(CollBlocks, "b1")
	fb, _ := b.Get(CollBlocks, "b1")
	assert.Equal(t, fa, fb)
	assert.Equal(t, "b", fa["owner"])
	assert.Equal(t, true, fa["locked"])

	err := a.Transact(local("a"), func(tx *Txn) error {
		return tx.Put(CollBlocks, "nope", "x", 1)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
