// Package transport carries replicated updates and presence records
// between sessions.
//
// Three implementations share the Transport contract: an in-memory Hub
// for tests and scenarios, a websocket Client, and the Relay server the
// clients connect to. Messages are JSON frames.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
)

// Kind discriminates transport messages.
type Kind string

const (
	// KindUpdate carries one replicated update.
	KindUpdate Kind = "update"
	// KindPresence carries one presence record.
	KindPresence Kind = "presence"
	// KindLeave announces that an actor disconnected.
	KindLeave Kind = "leave"
	// KindSyncRequest asks peers for updates missing from StateVector.
	KindSyncRequest Kind = "sync-request"
	// KindSyncResponse answers a sync request with Updates.
	KindSyncResponse Kind = "sync-response"
)

var validKinds = map[Kind]bool{
	KindUpdate:       true,
	KindPresence:     true,
	KindLeave:        true,
	KindSyncRequest:  true,
	KindSyncResponse: true,
}

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New("transport closed")

// Message is one frame exchanged between sessions of a room.
// To, when set, addresses a single actor.
type Message struct {
	Kind        Kind             `json:"kind"`
	Room        string           `json:"room,omitempty"`
	From        string           `json:"from"`
	To          string           `json:"to,omitempty"`
	Update      *crdt.Update     `json:"update,omitempty"`
	Updates     []crdt.Update    `json:"updates,omitempty"`
	Presence    *ir.Presence     `json:"presence,omitempty"`
	StateVector crdt.StateVector `json:"stateVector,omitempty"`
}

// Encode serializes a message into a frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind, err)
	}
	return data, nil
}

// Decode parses and validates a frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks that a message carries the body its kind requires.
func (m Message) Validate() error {
	if !validKinds[m.Kind] {
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	if m.From == "" {
		return fmt.Errorf("%s message without sender", m.Kind)
	}
	switch m.Kind {
	case KindUpdate:
		if m.Update == nil {
			return fmt.Errorf("update message without update")
		}
	case KindPresence:
		if m.Presence == nil {
			return fmt.Errorf("presence message without presence")
		}
	}
	return nil
}

// addressedTo reports whether actor should receive m.
func (m Message) addressedTo(actor string) bool {
	if actor == m.From {
		return false
	}
	return m.To == "" || m.To == actor
}

// Transport sends messages to the other sessions of a room and delivers
// theirs. Handlers may run on any goroutine.
type Transport interface {
	Send(ctx context.Context, m Message) error
	Subscribe(h func(Message))
	Close() error
}
