package engine

import (
	"log/slog"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/history"
	"github.com/roach88/tessera/internal/ir"
)

// Config holds the recognized canvas options.
type Config struct {
	// ShareCursor controls whether the local pointer is broadcast.
	ShareCursor bool

	// UndoHistoryLimit bounds the undo stack (history.DefaultLimit if <= 0).
	UndoHistoryLimit int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		ShareCursor:      true,
		UndoHistoryLimit: history.DefaultLimit,
	}
}

// Viewport is the host's camera. The canvas calls it once, on the first
// materialization of the view.
type Viewport interface {
	CenterOn(p ir.Position)
	Fit(blocks []ir.Block)
}

// PresenceSource supplies the live presence records merged into the view
// at read time.
type PresenceSource interface {
	ActiveUsers() []ir.Presence
}

// BlockUpdate computes the next block collection from the previous one.
type BlockUpdate func(prev []ir.Block) []ir.Block

// LinkUpdate computes the next link collection from the previous one.
type LinkUpdate func(prev []ir.Link) []ir.Link

// ReplaceBlocks adapts a full replacement collection into a BlockUpdate.
func ReplaceBlocks(blocks []ir.Block) BlockUpdate {
	return func([]ir.Block) []ir.Block { return blocks }
}

// ReplaceLinks adapts a full replacement collection into a LinkUpdate.
func ReplaceLinks(links []ir.Link) LinkUpdate {
	return func([]ir.Link) []ir.Link { return links }
}

// Canvas is the state reconciliation core of one session.
//
// It owns the replicated document, writes local commands to it as
// transactions and folds every non-local change event into the local
// view. The view is only ever mutated by the writer (for its own
// transactions) and by the projection (for remote and undo transactions).
//
// CRITICAL: Canvas is not safe for concurrent use. A Session loop is the
// only caller in production; tests drive it directly from one goroutine.
type Canvas struct {
	actor    string
	config   Config
	doc      *crdt.Doc
	history  *history.Manager
	ids      IDGenerator
	viewport Viewport
	presence PresenceSource
	logger   *slog.Logger
	clock    *Clock

	blocks       []ir.Block
	links        []ir.Link
	materialized bool
	dirty        bool
	preview      *ir.Snapshot

	handlers []func(View)
}

// Option allows configuration of a Canvas.
type Option func(*Canvas)

// WithConfig sets the canvas configuration.
func WithConfig(cfg Config) Option {
	return func(c *Canvas) {
		c.config = cfg
	}
}

// WithUndoLimit overrides Config.UndoHistoryLimit.
func WithUndoLimit(n int) Option {
	return func(c *Canvas) {
		c.config.UndoHistoryLimit = n
	}
}

// WithLogger sets the logger for the canvas and its document.
func WithLogger(l *slog.Logger) Option {
	return func(c *Canvas) {
		c.logger = l
	}
}

// WithViewport injects the host camera.
func WithViewport(v Viewport) Option {
	return func(c *Canvas) {
		c.viewport = v
	}
}

// WithIDGenerator sets the generator for new block and link ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Canvas) {
		c.ids = g
	}
}

// WithPresence sets the presence source merged into View.
func WithPresence(p PresenceSource) Option {
	return func(c *Canvas) {
		c.presence = p
	}
}

// New creates a canvas for the local actor over an empty document.
func New(actor string, opts ...Option) *Canvas {
	c := &Canvas{
		actor:  actor,
		config: DefaultConfig(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		clock:  NewClock(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.doc = crdt.NewDoc(actor, crdt.WithLogger(c.logger))
	c.history = history.New(c.doc,
		history.WithLimit(c.config.UndoHistoryLimit),
		history.WithLogger(c.logger))
	c.subscribe()
	return c
}

// Actor returns the local actor id.
func (c *Canvas) Actor() string {
	return c.actor
}

// Config returns the canvas configuration.
func (c *Canvas) Config() Config {
	return c.config
}

// Doc exposes the replicated document for transport and persistence
// wiring. Local code must mutate it only through the canvas commands.
func (c *Canvas) Doc() *crdt.Doc {
	return c.doc
}

// SetPresence replaces the presence source.
func (c *Canvas) SetPresence(p PresenceSource) {
	c.presence = p
}

// OnDocumentChange registers a handler called once per folded view
// update with the new view.
func (c *Canvas) OnDocumentChange(h func(View)) {
	c.handlers = append(c.handlers, h)
}

// Revision returns the number of view updates published so far.
func (c *Canvas) Revision() int64 {
	return c.clock.Current()
}

// PresenceChanged republishes the view after presence moved.
func (c *Canvas) PresenceChanged() {
	c.flush()
}

// Undo reverts the most recent local transaction.
func (c *Canvas) Undo() error {
	if err := c.guard("undo"); err != nil {
		return err
	}
	return c.history.Undo()
}

// Redo reapplies the most recently undone transaction.
func (c *Canvas) Redo() error {
	if err := c.guard("redo"); err != nil {
		return err
	}
	return c.history.Redo()
}

// CanUndo reports whether Undo has a step to revert.
func (c *Canvas) CanUndo() bool {
	return c.history.CanUndo()
}

// CanRedo reports whether Redo has a step to reapply.
func (c *Canvas) CanRedo() bool {
	return c.history.CanRedo()
}

// ClearHistory wipes the undo and redo stacks.
func (c *Canvas) ClearHistory() {
	c.history.Clear()
}

func (c *Canvas) flush() {
	c.dirty = false
	c.clock.Next()
	if len(c.handlers) == 0 {
		return
	}
	v := c.View()
	for _, h := range c.handlers {
		h(v)
	}
}

// protected reports whether b is locked by someone other than the
// local actor.
func (c *Canvas) protected(b ir.Block) bool {
	return b.Data.IsLocked && b.Data.OwnerID != "" && b.Data.OwnerID != c.actor
}

func (c *Canvas) guard(command string) error {
	if c.preview != nil {
		return NewPreviewError(command)
	}
	return nil
}
