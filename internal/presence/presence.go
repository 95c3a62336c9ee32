// Package presence implements the ephemeral side channel carrying each
// connected actor's cursor, typing and dragging status.
//
// Presence is never written to the replicated document. Each actor owns
// its own record; the latest record per actor (by Seq) wins. A record from
// a new epoch, published after the actor reconnected, replaces the held
// one whatever its Seq.
package presence

import (
	"cmp"
	"hash/fnv"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/prefs"
)

// Palette is the set of colors assigned to actors.
var Palette = []string{
	"#e5484d", "#f76b15", "#ffc53d", "#46a758",
	"#12a594", "#0090ff", "#6e56cf", "#d6409f",
}

// ColorFor picks a palette color deterministically from an actor id.
func ColorFor(actorID string) string {
	h := fnv.New32a()
	h.Write([]byte(actorID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// Patch mutates the local presence record.
type Patch func(p *ir.Presence)

// Channel tracks the local actor's presence and every remote record.
//
// Thread-safety: Channel is safe for concurrent use. Handlers and the
// broadcaster are called without the lock held.
type Channel struct {
	mu          sync.Mutex
	self        ir.Presence
	peers       map[string]ir.Presence
	shareCursor bool

	prefs     prefs.Store
	broadcast func(ir.Presence)
	handlers  []func([]ir.Presence)
	logger    *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithPrefs sets the preference store holding the cursor-sharing flag.
func WithPrefs(s prefs.Store) Option {
	return func(c *Channel) {
		c.prefs = s
	}
}

// WithBroadcast sets the function that publishes outgoing records.
func WithBroadcast(fn func(ir.Presence)) Option {
	return func(c *Channel) {
		c.broadcast = fn
	}
}

// WithShareCursor sets the cursor-sharing default used when the
// preference store holds no choice yet.
func WithShareCursor(share bool) Option {
	return func(c *Channel) {
		c.shareCursor = share
	}
}

// WithEpoch fixes the epoch stamped on outgoing records. By default each
// channel picks a random one.
func WithEpoch(epoch string) Option {
	return func(c *Channel) {
		c.self.Epoch = epoch
	}
}

// WithLogger sets the channel logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

// New creates a channel for the local actor. The cursor-sharing flag is
// read from the preference store once, here.
func New(actorID, name string, opts ...Option) *Channel {
	c := &Channel{
		self: ir.Presence{
			ActorID: actorID,
			Name:    name,
			Color:   ColorFor(actorID),
			Epoch:   uuid.NewString(),
		},
		peers:       make(map[string]ir.Presence),
		shareCursor: true,
		prefs:       prefs.NewMemory(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	share, err := c.prefs.Bool(prefs.ShareCursor, c.shareCursor)
	if err != nil {
		c.logger.Warn("reading cursor preference failed", "error", err)
	}
	c.shareCursor = share
	return c
}

// Self returns the local record as last published.
func (c *Channel) Self() ir.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// ShareCursor reports whether the local cursor is broadcast.
func (c *Channel) ShareCursor() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shareCursor
}

// SetShareCursor toggles cursor sharing and persists the choice. Receipt
// of other actors' cursors is unaffected.
func (c *Channel) SetShareCursor(share bool) error {
	c.mu.Lock()
	c.shareCursor = share
	c.mu.Unlock()
	if err := c.prefs.SetBool(prefs.ShareCursor, share); err != nil {
		return err
	}
	c.publish(nil)
	return nil
}

// UpdateMyPresence applies patch to the local record and broadcasts it.
func (c *Channel) UpdateMyPresence(patch Patch) {
	c.publish(patch)
}

// OnPointerMove records the local pointer over the bare canvas.
func (c *Channel) OnPointerMove(x, y float64) {
	c.publish(func(p *ir.Presence) {
		p.Cursor = &ir.Cursor{X: x, Y: y, Index: -1}
	})
}

// OnPointerOver records the local pointer over the block at a stacking index.
func (c *Channel) OnPointerOver(x, y float64, index int) {
	c.publish(func(p *ir.Presence) {
		p.Cursor = &ir.Cursor{X: x, Y: y, Index: index}
	})
}

// OnFocus marks the local actor as typing into a block.
func (c *Channel) OnFocus(blockID string) {
	c.publish(func(p *ir.Presence) {
		p.IsTyping = true
		p.TypingBlockID = blockID
	})
}

// OnBlur clears the typing indicator and caret.
func (c *Channel) OnBlur() {
	c.publish(func(p *ir.Presence) {
		p.IsTyping = false
		p.TypingBlockID = ""
		p.CaretPosition = nil
	})
}

// OnCaretMove records the caret offset inside a block.
func (c *Channel) OnCaretMove(blockID string, pos int) {
	c.publish(func(p *ir.Presence) {
		p.IsTyping = true
		p.TypingBlockID = blockID
		p.CaretPosition = &pos
	})
}

// OnDragStart marks a block as being dragged by the local actor.
func (c *Channel) OnDragStart(blockID string) {
	c.publish(func(p *ir.Presence) {
		p.DraggingBlockID = blockID
	})
}

// OnDragEnd clears the dragging indicator.
func (c *Channel) OnDragEnd() {
	c.publish(func(p *ir.Presence) {
		p.DraggingBlockID = ""
	})
}

// Receive merges a remote record. Records older than the one held for
// the same actor in the same epoch, and echoes of the local actor, are
// ignored. It reports whether the record was accepted.
func (c *Channel) Receive(p ir.Presence) bool {
	c.mu.Lock()
	if p.ActorID == "" || p.ActorID == c.self.ActorID {
		c.mu.Unlock()
		return false
	}
	if cur, ok := c.peers[p.ActorID]; ok {
		if p.Epoch == cur.Epoch && p.Seq <= cur.Seq {
			c.mu.Unlock()
			c.logger.Debug("dropping stale presence",
				"actor_id", p.ActorID,
				"seq", p.Seq,
				"current_seq", cur.Seq)
			return false
		}
		if p.Epoch != cur.Epoch {
			c.logger.Debug("presence epoch changed",
				"actor_id", p.ActorID,
				"epoch", p.Epoch,
				"previous_epoch", cur.Epoch)
		}
	}
	if p.Color == "" {
		p.Color = ColorFor(p.ActorID)
	}
	c.peers[p.ActorID] = p
	c.mu.Unlock()

	c.notify()
	return true
}

// Leave drops an actor's record, typically on disconnect.
func (c *Channel) Leave(actorID string) {
	c.mu.Lock()
	_, ok := c.peers[actorID]
	delete(c.peers, actorID)
	c.mu.Unlock()
	if ok {
		c.notify()
	}
}

// ActiveUsers returns every known record, the local one included, sorted
// by actor id.
func (c *Channel) ActiveUsers() []ir.Presence {
	c.mu.Lock()
	users := slices.Collect(maps.Values(c.peers))
	users = append(users, c.self)
	c.mu.Unlock()

	slices.SortFunc(users, func(a, b ir.Presence) int {
		return cmp.Compare(a.ActorID, b.ActorID)
	})
	return users
}

// OnPresenceChange registers a handler called with ActiveUsers after
// every accepted change.
func (c *Channel) OnPresenceChange(h func([]ir.Presence)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Channel) publish(patch Patch) {
	c.mu.Lock()
	if patch != nil {
		patch(&c.self)
	}
	c.self.Seq++
	out := c.self
	if !c.shareCursor {
		out.Cursor = nil
	}
	broadcast := c.broadcast
	c.mu.Unlock()

	if broadcast != nil {
		broadcast(out)
	}
	c.notify()
}

func (c *Channel) notify() {
	c.mu.Lock()
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()
	if len(handlers) == 0 {
		return
	}
	users := c.ActiveUsers()
	for _, h := range handlers {
		h(users)
	}
}
