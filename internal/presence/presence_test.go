package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/prefs"
)

func TestReceive_LastUpdatePerActorWins(t *testing.T) {
	c := New("alice", "Alice")

	assert.True(t, c.Receive(ir.Presence{ActorID: "bob", Seq: 2, TypingBlockID: "b2"}))
	assert.False(t, c.Receive(ir.Presence{ActorID: "bob", Seq: 1, TypingBlockID: "b1"}))
	assert.False(t, c.Receive(ir.Presence{ActorID: "bob", Seq: 2, TypingBlockID: "b3"}))

	users := c.ActiveUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].ActorID)
	assert.Equal(t, "bob", users[1].ActorID)
	assert.Equal(t, "b2", users[1].TypingBlockID)
	assert.Equal(t, ColorFor("bob"), users[1].Color)
}

func TestReceive_NewEpochResetsSeq(t *testing.T) {
	c := New("alice", "Alice")

	require.True(t, c.Receive(ir.Presence{ActorID: "bob", Epoch: "e1", Seq: 40, TypingBlockID: "b1"}))

	// bob restarted: same actor id, Seq back at 1.
	assert.True(t, c.Receive(ir.Presence{ActorID: "bob", Epoch: "e2", Seq: 1, TypingBlockID: "b2"}))
	assert.False(t, c.Receive(ir.Presence{ActorID: "bob", Epoch: "e2", Seq: 1, TypingBlockID: "b3"}))
	assert.True(t, c.Receive(ir.Presence{ActorID: "bob", Epoch: "e2", Seq: 2, TypingBlockID: "b4"}))

	users := c.ActiveUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "e2", users[1].Epoch)
	assert.Equal(t, "b4", users[1].TypingBlockID)
}

func TestChannelsStampDistinctEpochs(t *testing.T) {
	var sent []ir.Presence
	broadcast := func(p ir.Presence) { sent = append(sent, p) }

	New("bob", "Bob", WithBroadcast(broadcast)).OnFocus("b1")
	New("bob", "Bob", WithBroadcast(broadcast)).OnFocus("b1")
	New("bob", "Bob", WithBroadcast(broadcast), WithEpoch("fixed")).OnFocus("b1")

	require.Len(t, sent, 3)
	assert.NotEmpty(t, sent[0].Epoch)
	assert.NotEqual(t, sent[0].Epoch, sent[1].Epoch)
	assert.Equal(t, int64(1), sent[1].Seq)
	assert.Equal(t, "fixed", sent[2].Epoch)

	c := New("alice", "Alice")
	for _, p := range sent[:2] {
		assert.True(t, c.Receive(p))
	}
}

func TestReceive_IgnoresSelf(t *testing.T) {
	c := New("alice", "Alice")
	assert.False(t, c.Receive(ir.Presence{ActorID: "alice", Seq: 99}))
	assert.Len(t, c.ActiveUsers(), 1)
}

func TestLeave(t *testing.T) {
	c := New("alice", "Alice")
	var calls int
	c.OnPresenceChange(func([]ir.Presence) { calls++ })

	c.Receive(ir.Presence{ActorID: "bob", Seq: 1})
	c.Leave("bob")
	c.Leave("bob")

	assert.Len(t, c.ActiveUsers(), 1)
	assert.Equal(t, 2, calls)
}

func TestLocalUpdatesBroadcastWithIncreasingSeq(t *testing.T) {
	var sent []ir.Presence
	c := New("alice", "Alice", WithBroadcast(func(p ir.Presence) { sent = append(sent, p) }))

	c.OnFocus("b1")
	c.OnCaretMove("b1", 3)
	c.OnDragStart("b2")
	c.OnDragEnd()
	c.OnBlur()

	require.Len(t, sent, 5)
	for i, p := range sent {
		assert.Equal(t, int64(i+1), p.Seq)
	}
	assert.True(t, sent[0].IsTyping)
	require.NotNil(t, sent[1].CaretPosition)
	assert.Equal(t, 3, *sent[1].CaretPosition)
	assert.Equal(t, "b2", sent[2].DraggingBlockID)
	assert.Empty(t, sent[3].DraggingBlockID)
	assert.False(t, sent[4].IsTyping)
	assert.Nil(t, sent[4].CaretPosition)
}

func TestShareCursorOptOut(t *testing.T) {
	store := prefs.NewMemory()
	require.NoError(t, store.SetBool(prefs.ShareCursor, false))

	var sent []ir.Presence
	c := New("alice", "Alice",
		WithPrefs(store),
		WithBroadcast(func(p ir.Presence) { sent = append(sent, p) }))
	assert.False(t, c.ShareCursor())

	c.OnPointerMove(10, 20)
	require.Len(t, sent, 1)
	assert.Nil(t, sent[0].Cursor, "cursor is stripped from outgoing presence")
	require.NotNil(t, c.Self().Cursor)

	assert.True(t, c.Receive(ir.Presence{ActorID: "bob", Seq: 1, Cursor: &ir.Cursor{X: 1, Y: 2}}))
	users := c.ActiveUsers()
	require.NotNil(t, users[1].Cursor, "receipt is unaffected")

	require.NoError(t, c.SetShareCursor(true))
	stored, err := store.Bool(prefs.ShareCursor, false)
	require.NoError(t, err)
	assert.True(t, stored)
	require.Len(t, sent, 2)
	assert.NotNil(t, sent[1].Cursor)
}

func TestColorForIsDeterministic(t *testing.T) {
	assert.Equal(t, ColorFor("bob"), ColorFor("bob"))
	assert.Contains(t, Palette, ColorFor("carol"))
}
