package crdt

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Collection names one of the three replicated collections.
type Collection string

const (
	CollBlocks Collection = "blocks"
	CollLinks  Collection = "links"
	CollText   Collection = "text"
)

// Collections lists every collection in event dispatch order.
var Collections = []Collection{CollBlocks, CollLinks, CollText}

func (c Collection) valid() bool {
	return c == CollBlocks || c == CollLinks || c == CollText
}

// OpKind discriminates the operation variants.
type OpKind string

const (
	// OpAdd creates a new incarnation of a key. For records it carries
	// the initial fields; for text it creates an empty sequence.
	OpAdd OpKind = "add"
	// OpSet writes one field of a record incarnation.
	OpSet OpKind = "set"
	// OpDelete tombstones an incarnation.
	OpDelete OpKind = "delete"
	// OpInsert inserts runes into a text incarnation after a character.
	OpInsert OpKind = "insert"
	// OpRemove tombstones characters of a text incarnation.
	OpRemove OpKind = "remove"
)

// Op is one replicated operation.
//
// ID is the op's own identity. Inc names the incarnation the op targets
// (for OpAdd it equals ID). For OpInsert, rune i of Text gets the id
// ID.Clock+i so a multi-rune insert consumes a contiguous clock range.
type Op struct {
	Kind    OpKind         `json:"kind"`
	Coll    Collection     `json:"coll"`
	Key     string         `json:"key"`
	ID      OpID           `json:"id"`
	Inc     OpID           `json:"inc,omitzero"`
	Field   string         `json:"field,omitempty"`
	Value   any            `json:"value,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	After   OpID           `json:"after,omitzero"`
	Text    string         `json:"text,omitempty"`
	Targets []OpID         `json:"targets,omitempty"`
}

// maxClock returns the largest clock value the op consumes.
func (o Op) maxClock() int64 {
	if o.Kind == OpInsert {
		if n := utf8.RuneCountInString(o.Text); n > 0 {
			return o.ID.Clock + int64(n) - 1
		}
	}
	return o.ID.Clock
}

func (o Op) validate() error {
	if !o.Coll.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, o.Coll)
	}
	if o.Key == "" {
		return fmt.Errorf("%w: %s op without key", ErrInvalidUpdate, o.Kind)
	}
	if o.ID.Clock <= 0 || o.ID.Actor == "" {
		return fmt.Errorf("%w: %s op %q has no id", ErrInvalidUpdate, o.Kind, o.Key)
	}
	switch o.Kind {
	case OpAdd:
	case OpSet:
		if o.Coll == CollText || o.Field == "" {
			return fmt.Errorf("%w: malformed set on %s/%s", ErrInvalidUpdate, o.Coll, o.Key)
		}
	case OpDelete:
	case OpInsert, OpRemove:
		if o.Coll != CollText {
			return fmt.Errorf("%w: %s on non-text collection %s", ErrInvalidUpdate, o.Kind, o.Coll)
		}
	default:
		return fmt.Errorf("%w: unknown op kind %q", ErrInvalidUpdate, o.Kind)
	}
	return nil
}

// Update is the unit of replication: every op committed by one
// transaction of one actor. Seq counts the actor's updates from 1.
type Update struct {
	Actor string `json:"actor"`
	Seq   int64  `json:"seq"`
	Ops   []Op   `json:"ops"`
}

// EncodeUpdate serializes an update for transport or storage.
func EncodeUpdate(u Update) ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode update %s/%d: %w", u.Actor, u.Seq, err)
	}
	return data, nil
}

// DecodeUpdate parses an encoded update.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	if u.Actor == "" || u.Seq <= 0 {
		return Update{}, fmt.Errorf("%w: missing actor or seq", ErrInvalidUpdate)
	}
	return u, nil
}

// StateVector maps each actor to the highest update seq seen without gaps.
type StateVector map[string]int64
