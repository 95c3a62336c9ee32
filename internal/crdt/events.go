package crdt

import "github.com/roach88/tessera/internal/ir"

// Source classifies where a transaction came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceUndo   Source = "undo"
)

// Origin tags a transaction with its actor and source.
type Origin struct {
	Actor  string `json:"actor"`
	Source Source `json:"source"`
}

// Action classifies the effect of a transaction on one key.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one key's transition within a transaction.
//
// Besides the before and after states it carries the delta the
// transaction wrote: the record fields it set, the text chars it
// inserted and the chars it removed. Inc is the visible incarnation
// after the transaction; Reincarnated is set when an update replaced
// the incarnation instead of editing it.
type Change struct {
	Action Action `json:"action"`
	Before State  `json:"before"`
	After  State  `json:"after"`

	Fields       []string `json:"fields,omitempty"`
	Inserted     []OpID   `json:"inserted,omitempty"`
	Removed      []OpID   `json:"removed,omitempty"`
	Inc          OpID     `json:"inc,omitzero"`
	Reincarnated bool     `json:"reincarnated,omitempty"`
}

// Event is the batch of changes one transaction made to one collection.
// Keys lists the changed keys in sorted order.
type Event struct {
	Coll    Collection
	Origin  Origin
	Keys    []string
	Changes map[string]Change
}

// TxnRecord is the transaction-level view delivered to transaction
// observers after every collection event has been dispatched.
type TxnRecord struct {
	Origin  Origin
	Changes map[Collection]map[string]Change
}

// Empty reports whether the transaction changed nothing visible.
func (r TxnRecord) Empty() bool {
	for _, changes := range r.Changes {
		if len(changes) > 0 {
			return false
		}
	}
	return true
}

func classify(before, after State, coll Collection) (Action, bool) {
	switch {
	case !before.Present && after.Present:
		return ActionAdd, true
	case before.Present && !after.Present:
		return ActionDelete, true
	case !before.Present && !after.Present:
		return "", false
	}
	if coll == CollText {
		if before.Text == after.Text {
			return "", false
		}
		return ActionUpdate, true
	}
	if ir.FieldsEqual(before.Fields, after.Fields) {
		return "", false
	}
	return ActionUpdate, true
}
