// Package history provides a bounded undo/redo stack over a replicated
// document.
//
// Every committed local transaction becomes one step covering all three
// collections, so an undo reverts a block, its links and its text
// together. Undo and redo run as transactions tagged SourceUndo; the
// projection re-applies them like remote changes.
package history

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/tessera/internal/crdt"
)

// DefaultLimit is the history depth used when none is configured.
const DefaultLimit = 100

// ErrNothingToUndo and ErrNothingToRedo report an empty stack.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

type step struct {
	changes map[crdt.Collection]map[string]crdt.Change
}

type direction int

const (
	idle direction = iota
	undoing
	redoing
)

// Manager records local transactions of one document and reverts them.
type Manager struct {
	doc     *crdt.Doc
	limit   int
	enabled bool
	logger  *slog.Logger

	undo []step
	redo []step
	mode direction

	onChange []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit bounds the number of undo steps kept. Non-positive values
// select DefaultLimit.
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New attaches a manager to doc. Only transactions whose origin actor is
// the document's local actor are recorded.
func New(doc *crdt.Doc, opts ...Option) *Manager {
	m := &Manager{
		doc:     doc,
		limit:   DefaultLimit,
		enabled: true,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	doc.OnTransaction(m.observe)
	return m
}

// OnChange registers a handler called whenever CanUndo or CanRedo may
// have changed.
func (m *Manager) OnChange(h func()) {
	m.onChange = append(m.onChange, h)
}

func (m *Manager) observe(rec crdt.TxnRecord) {
	if rec.Origin.Actor != m.doc.Actor() {
		return
	}
	s := step{changes: rec.Changes}
	switch {
	case rec.Origin.Source == crdt.SourceUndo && m.mode == undoing:
		m.redo = append(m.redo, s)
	case rec.Origin.Source == crdt.SourceUndo && m.mode == redoing:
		m.push(s)
	case rec.Origin.Source == crdt.SourceLocal && m.enabled:
		m.push(s)
		m.redo = nil
	default:
		return
	}
	m.notify()
}

func (m *Manager) push(s step) {
	m.undo = append(m.undo, s)
	if len(m.undo) > m.limit {
		m.undo = m.undo[len(m.undo)-m.limit:]
	}
}

// Undo reverts the most recent local step.
func (m *Manager) Undo() error {
	if !m.CanUndo() {
		return ErrNothingToUndo
	}
	s := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	return m.revert(s, undoing)
}

// Redo reapplies the most recently undone step.
func (m *Manager) Redo() error {
	if !m.CanRedo() {
		return ErrNothingToRedo
	}
	s := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	return m.revert(s, redoing)
}

// revert undoes the writes of s in one transaction. Only what s wrote is
// reverted, so edits peers made to the same keys afterwards survive. The
// resulting record lands on the opposite stack.
func (m *Manager) revert(s step, mode direction) error {
	m.mode = mode
	defer func() { m.mode = idle }()

	origin := crdt.Origin{Actor: m.doc.Actor(), Source: crdt.SourceUndo}
	err := m.doc.Transact(origin, func(tx *crdt.Txn) error {
		for _, coll := range crdt.Collections {
			changes := s.changes[coll]
			for _, key := range slices.Sorted(maps.Keys(changes)) {
				if err := tx.Revert(coll, key, changes[key]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("undo transaction failed", "error", err)
		return err
	}
	m.notify()
	return nil
}

// CanUndo reports whether an undo step is available.
func (m *Manager) CanUndo() bool {
	return m.enabled && len(m.undo) > 0
}

// CanRedo reports whether a redo step is available.
func (m *Manager) CanRedo() bool {
	return m.enabled && len(m.redo) > 0
}

// Counters returns the sizes of the undo and redo stacks.
func (m *Manager) Counters() (undo, redo int) {
	return len(m.undo), len(m.redo)
}

// Clear wipes both stacks.
func (m *Manager) Clear() {
	m.undo = nil
	m.redo = nil
	m.notify()
}

// SetEnabled turns recording and undo/redo on or off. While disabled,
// local transactions are not recorded and Undo/Redo report nothing to do.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
	m.notify()
}

// Enabled reports whether the manager is active.
func (m *Manager) Enabled() bool {
	return m.enabled
}

func (m *Manager) notify() {
	for _, h := range m.onChange {
		h()
	}
}
