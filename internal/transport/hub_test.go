package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
)

func collect(p *Peer) *[]Message {
	var got []Message
	p.Subscribe(func(m Message) { got = append(got, m) })
	return &got
}

func TestHub_DeliversToOthersOnly(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice, bob, carol := hub.Join("alice"), hub.Join("bob"), hub.Join("carol")
	aliceGot, bobGot, carolGot := collect(alice), collect(bob), collect(carol)

	require.NoError(t, alice.Send(ctx, Message{Kind: KindUpdate, Update: &crdt.Update{Actor: "alice", Seq: 1}}))

	assert.Empty(t, *aliceGot)
	require.Len(t, *bobGot, 1)
	assert.Equal(t, "alice", (*bobGot)[0].From)
	assert.Len(t, *carolGot, 1)
}

func TestHub_AddressedMessage(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice, bob, carol := hub.Join("alice"), hub.Join("bob"), hub.Join("carol")
	_ = collect(alice)
	bobGot, carolGot := collect(bob), collect(carol)

	require.NoError(t, alice.Send(ctx, Message{Kind: KindSyncResponse, To: "bob"}))

	assert.Len(t, *bobGot, 1)
	assert.Empty(t, *carolGot)
}

func TestHub_PauseHoldsMessagesInOrder(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice, bob := hub.Join("alice"), hub.Join("bob")
	bobGot := collect(bob)

	hub.Pause()
	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, alice.Send(ctx, Message{Kind: KindUpdate, Update: &crdt.Update{Actor: "alice", Seq: seq}}))
	}
	assert.Empty(t, *bobGot)
	assert.Equal(t, 3, hub.Held())

	hub.Resume()
	require.Len(t, *bobGot, 3)
	for i, m := range *bobGot {
		assert.Equal(t, int64(i+1), m.Update.Seq)
	}
	assert.Zero(t, hub.Held())
}

func TestHub_CloseAnnouncesLeave(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice, bob := hub.Join("alice"), hub.Join("bob")
	bobGot := collect(bob)

	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())

	require.Len(t, *bobGot, 1)
	assert.Equal(t, KindLeave, (*bobGot)[0].Kind)
	assert.Equal(t, "alice", (*bobGot)[0].From)
	assert.ErrorIs(t, alice.Send(ctx, Message{Kind: KindLeave}), ErrClosed)
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"update", Message{Kind: KindUpdate, From: "a", Update: &crdt.Update{Actor: "a", Seq: 1}}, false},
		{"presence", Message{Kind: KindPresence, From: "a", Presence: &ir.Presence{ActorID: "a"}}, false},
		{"sync request", Message{Kind: KindSyncRequest, From: "a", StateVector: crdt.StateVector{"b": 2}}, false},
		{"unknown kind", Message{Kind: "gossip", From: "a"}, true},
		{"missing sender", Message{Kind: KindLeave}, true},
		{"update without body", Message{Kind: KindUpdate, From: "a"}, true},
		{"presence without body", Message{Kind: KindPresence, From: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	m := Message{
		Kind: KindUpdate,
		From: "alice",
		Update: &crdt.Update{Actor: "alice", Seq: 1, Ops: []crdt.Op{{
			Kind: crdt.OpSet, Coll: crdt.CollBlocks, Key: "b1",
			ID: crdt.OpID{Clock: 4, Actor: "alice"}, Inc: crdt.OpID{Clock: 1, Actor: "alice"},
			Field: "x", Value: 10.0,
		}}},
	}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = Decode([]byte(`{"kind":"update","from":"alice"}`))
	assert.Error(t, err)
}
