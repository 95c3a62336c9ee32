package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/crdt"
)

func local(d *crdt.Doc) crdt.Origin {
	return crdt.Origin{Actor: d.Actor(), Source: crdt.SourceLocal}
}

func createWithText(t *testing.T, d *crdt.Doc, key, text string) {
	t.Helper()
	require.NoError(t, d.Transact(local(d), func(tx *crdt.Txn) error {
		if err := tx.Add(crdt.CollBlocks, key, map[string]any{"type": "text", "x": 0, "y": 0}); err != nil {
			return err
		}
		tx.CreateText(key, text)
		return nil
	}))
}

func move(t *testing.T, d *crdt.Doc, key string, x float64) {
	t.Helper()
	require.NoError(t, d.Transact(local(d), func(tx *crdt.Txn) error {
		return tx.Set(crdt.CollBlocks, key, "x", x)
	}))
}

func TestUndoRemovesBlockAndTextTogether(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d)
	createWithText(t, d, "b1", "hello")

	require.True(t, m.CanUndo())
	require.NoError(t, m.Undo())

	assert.False(t, d.Has(crdt.CollBlocks, "b1"))
	assert.False(t, d.Has(crdt.CollText, "b1"))
	assert.False(t, m.CanUndo())
	assert.True(t, m.CanRedo())

	require.NoError(t, m.Redo())

	assert.True(t, d.Has(crdt.CollBlocks, "b1"))
	text, ok := d.Text("b1")
	assert.True(t, ok)
	assert.Equal(t, "hello", text)
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
}

func TestUndoRestoresPreviousField(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d)
	createWithText(t, d, "b1", "")
	move(t, d, "b1", 10)
	move(t, d, "b1", 20)

	require.NoError(t, m.Undo())
	f, _ := d.Get(crdt.CollBlocks, "b1")
	assert.Equal(t, 10.0, f["x"])

	require.NoError(t, m.Undo())
	f, _ = d.Get(crdt.CollBlocks, "b1")
	assert.Equal(t, 0.0, f["x"])

	require.NoError(t, m.Redo())
	f, _ = d.Get(crdt.CollBlocks, "b1")
	assert.Equal(t, 10.0, f["x"])
}

func TestUndoEmitsUndoOriginEvents(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d)
	createWithText(t, d, "b1", "hi")

	var origins []crdt.Source
	d.Observe(crdt.CollBlocks, func(ev crdt.Event) { origins = append(origins, ev.Origin.Source) })

	require.NoError(t, m.Undo())
	require.NoError(t, m.Redo())

	assert.Equal(t, []crdt.Source{crdt.SourceUndo, crdt.SourceUndo}, origins)
}

func TestNewStepClearsRedo(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d)
	createWithText(t, d, "b1", "")
	move(t, d, "b1", 10)

	require.NoError(t, m.Undo())
	require.True(t, m.CanRedo())

	move(t, d, "b1", 30)
	assert.False(t, m.CanRedo())
}

func TestRemoteTransactionsAreNotRecorded(t *testing.T) {
	remote := crdt.NewDoc("r")
	createWithText(t, remote, "b1", "x")

	d := crdt.NewDoc("a")
	m := New(d)
	for _, u := range remote.Updates() {
		require.NoError(t, d.ApplyUpdate(u))
	}

	assert.False(t, m.CanUndo())
}

func TestLimitDropsOldestSteps(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d, WithLimit(2))
	createWithText(t, d, "b1", "")
	move(t, d, "b1", 1)
	move(t, d, "b1", 2)

	undo, _ := m.Counters()
	assert.Equal(t, 2, undo)

	require.NoError(t, m.Undo())
	require.NoError(t, m.Undo())
	assert.ErrorIs(t, m.Undo(), ErrNothingToUndo)
	assert.True(t, d.Has(crdt.CollBlocks, "b1"), "creation step fell off the history")
}

func TestClear(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d)
	createWithText(t, d, "b1", "")
	require.NoError(t, m.Undo())

	m.Clear()

	assert.False(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	assert.ErrorIs(t, m.Redo(), ErrNothingToRedo)
}

func TestDisabledManagerIgnoresTransactions(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d)
	createWithText(t, d, "b1", "")
	m.SetEnabled(false)

	move(t, d, "b1", 5)

	assert.False(t, m.CanUndo())
	assert.ErrorIs(t, m.Undo(), ErrNothingToUndo)

	m.SetEnabled(true)
	undo, _ := m.Counters()
	assert.Equal(t, 1, undo, "only the step recorded before disabling")
}

func TestOnChangeFires(t *testing.T) {
	d := crdt.NewDoc("a")
	m := New(d)
	var calls int
	m.OnChange(func() { calls++ })

	createWithText(t, d, "b1", "")
	require.NoError(t, m.Undo())

	assert.GreaterOrEqual(t, calls, 2)
}

// deliver applies every update of src that dst has not seen.
func deliver(t *testing.T, src, dst *crdt.Doc) {
	t.Helper()
	for _, u := range src.UpdatesSince(dst.StateVector()) {
		require.NoError(t, dst.ApplyUpdate(u))
	}
}

func TestUndoKeepsPeerFieldEditsOnSameBlock(t *testing.T) {
	alice := crdt.NewDoc("alice")
	bob := crdt.NewDoc("bob")
	m := New(alice)
	createWithText(t, alice, "b1", "hi")
	deliver(t, alice, bob)

	move(t, alice, "b1", 40)
	deliver(t, alice, bob)
	require.NoError(t, bob.Transact(local(bob), func(tx *crdt.Txn) error {
		if err := tx.Set(crdt.CollBlocks, "b1", "width", 300); err != nil {
			return err
		}
		return tx.Set(crdt.CollBlocks, "b1", "height", 200)
	}))
	deliver(t, bob, alice)

	require.NoError(t, m.Undo())
	deliver(t, alice, bob)

	for _, d := range []*crdt.Doc{alice, bob} {
		f, ok := d.Get(crdt.CollBlocks, "b1")
		require.True(t, ok)
		assert.Equal(t, 0.0, f["x"], d.Actor())
		assert.Equal(t, 300.0, f["width"], d.Actor())
		assert.Equal(t, 200.0, f["height"], d.Actor())
	}
}

func TestUndoSkipsFieldOverwrittenByPeer(t *testing.T) {
	alice := crdt.NewDoc("alice")
	bob := crdt.NewDoc("bob")
	m := New(alice)
	createWithText(t, alice, "b1", "")
	deliver(t, alice, bob)

	move(t, alice, "b1", 40)
	deliver(t, alice, bob)
	move(t, bob, "b1", 90)
	deliver(t, bob, alice)

	require.NoError(t, m.Undo())

	f, _ := alice.Get(crdt.CollBlocks, "b1")
	assert.Equal(t, 90.0, f["x"], "the later peer write stands")
}

func TestUndoKeepsPeerTextEditsOnSameBlock(t *testing.T) {
	alice := crdt.NewDoc("alice")
	bob := crdt.NewDoc("bob")
	m := New(alice)
	createWithText(t, alice, "b1", "hi")
	deliver(t, alice, bob)

	require.NoError(t, alice.Transact(local(alice), func(tx *crdt.Txn) error {
		return tx.EditText("b1", 2, 0, "!")
	}))
	deliver(t, alice, bob)
	require.NoError(t, bob.Transact(local(bob), func(tx *crdt.Txn) error {
		return tx.EditText("b1", 0, 0, "BOB ")
	}))
	deliver(t, bob, alice)

	require.NoError(t, m.Undo())
	deliver(t, alice, bob)
	for _, d := range []*crdt.Doc{alice, bob} {
		text, _ := d.Text("b1")
		assert.Equal(t, "BOB hi", text, d.Actor())
	}

	require.NoError(t, m.Redo())
	deliver(t, alice, bob)
	for _, d := range []*crdt.Doc{alice, bob} {
		text, _ := d.Text("b1")
		assert.Equal(t, "BOB hi!", text, d.Actor())
	}
}

func TestUndoRestoresRemovedTextInPlace(t *testing.T) {
	alice := crdt.NewDoc("alice")
	bob := crdt.NewDoc("bob")
	m := New(alice)
	createWithText(t, alice, "b1", "hello world")
	deliver(t, alice, bob)

	require.NoError(t, alice.Transact(local(alice), func(tx *crdt.Txn) error {
		return tx.EditText("b1", 5, 6, "")
	}))
	deliver(t, alice, bob)
	require.NoError(t, bob.Transact(local(bob), func(tx *crdt.Txn) error {
		return tx.EditText("b1", 0, 1, "J")
	}))
	deliver(t, bob, alice)

	require.NoError(t, m.Undo())
	deliver(t, alice, bob)
	for _, d := range []*crdt.Doc{alice, bob} {
		text, _ := d.Text("b1")
		assert.Equal(t, "Jello world", text, d.Actor())
	}
}

func TestUndoOfMoveOnPeerDeletedBlockIsNoop(t *testing.T) {
	alice := crdt.NewDoc("alice")
	bob := crdt.NewDoc("bob")
	m := New(alice)
	createWithText(t, alice, "b1", "")
	deliver(t, alice, bob)

	move(t, alice, "b1", 40)
	deliver(t, alice, bob)
	require.NoError(t, bob.Transact(local(bob), func(tx *crdt.Txn) error {
		tx.Delete(crdt.CollBlocks, "b1")
		return nil
	}))
	deliver(t, bob, alice)

	require.NoError(t, m.Undo())
	assert.False(t, alice.Has(crdt.CollBlocks, "b1"))
}
