package engine

import (
	"cmp"
	"slices"

	"github.com/roach88/tessera/internal/ir"
)

// RenderBlock is a block enriched with read-time presence data. None of
// the enrichment is ever written to the document.
type RenderBlock struct {
	ir.Block

	// TypingUsers are the other actors typing into this block.
	TypingUsers []ir.Presence

	// MovingUserColor is the color of another actor dragging this block.
	MovingUserColor string

	// LockedForMe reports a lock held by another actor.
	LockedForMe bool
}

// View is the render-ready projection of the canvas.
type View struct {
	Blocks   []RenderBlock
	Links    []ir.Link
	Preview  bool
	Revision int64
}

// Block returns the render block with the given id.
func (v View) Block(id string) (RenderBlock, bool) {
	for _, b := range v.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return RenderBlock{}, false
}

// View returns the current projection. In preview mode it shows the
// previewed snapshot instead of the live document.
func (c *Canvas) View() View {
	blocks, links := c.blocks, c.links
	if c.preview != nil {
		blocks = make([]ir.Block, 0, len(c.preview.Blocks))
		for _, b := range c.preview.Blocks {
			blocks = append(blocks, ir.NormalizeBlock(b))
		}
		links = c.preview.Links
	}

	var users []ir.Presence
	if c.presence != nil && c.preview == nil {
		users = c.presence.ActiveUsers()
	}

	v := View{
		Blocks:   make([]RenderBlock, 0, len(blocks)),
		Links:    make([]ir.Link, 0, len(links)),
		Preview:  c.preview != nil,
		Revision: c.clock.Current(),
	}
	present := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		present[b.ID] = true
		v.Blocks = append(v.Blocks, c.enrich(b, users))
	}
	for _, l := range links {
		if present[l.Source] && present[l.Target] {
			v.Links = append(v.Links, l)
		}
	}
	return v
}

func (c *Canvas) enrich(b ir.Block, users []ir.Presence) RenderBlock {
	rb := RenderBlock{Block: b, LockedForMe: c.protected(b)}
	for _, u := range users {
		if u.ActorID == c.actor {
			continue
		}
		if u.IsTyping && u.TypingBlockID == b.ID {
			rb.TypingUsers = append(rb.TypingUsers, u)
		}
		if u.DraggingBlockID == b.ID && rb.MovingUserColor == "" {
			rb.MovingUserColor = u.Color
		}
	}
	slices.SortFunc(rb.TypingUsers, func(a, b ir.Presence) int {
		return cmp.Compare(a.ActorID, b.ActorID)
	})
	return rb
}

// Graph returns the live blocks and links, without ephemeral fields.
// Preview mode does not affect it.
func (c *Canvas) Graph() ir.Graph {
	g := ir.Graph{
		Blocks: make([]ir.Block, 0, len(c.blocks)),
		Links:  make([]ir.Link, 0, len(c.links)),
	}
	present := make(map[string]bool, len(c.blocks))
	for _, b := range c.blocks {
		b.Selected = false
		present[b.ID] = true
		g.Blocks = append(g.Blocks, b)
	}
	for _, l := range c.links {
		if present[l.Source] && present[l.Target] {
			l.Selected = false
			g.Links = append(g.Links, l)
		}
	}
	return g
}
