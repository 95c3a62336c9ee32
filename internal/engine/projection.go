package engine

import (
	"slices"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
)

// subscribe wires the projection to the document's three event streams.
func (c *Canvas) subscribe() {
	c.doc.Observe(crdt.CollBlocks, c.onBlocks)
	c.doc.Observe(crdt.CollLinks, c.onLinks)
	c.doc.Observe(crdt.CollText, c.onText)
	c.doc.OnTransaction(c.onTransaction)
}

// accepts reports whether an event must be folded into the view. Local
// transactions were already applied by the writer; undo transactions
// are local too but nothing applied them yet.
func accepts(origin crdt.Origin) bool {
	return origin.Source != crdt.SourceLocal
}

func (c *Canvas) onBlocks(ev crdt.Event) {
	if !accepts(ev.Origin) {
		return
	}
	for _, id := range ev.Keys {
		if ev.Changes[id].Action == crdt.ActionDelete {
			c.removeBlock(id)
			continue
		}
		b, ok := c.recordBlock(id)
		if !ok {
			c.removeBlock(id)
			continue
		}
		c.upsertBlock(b)
	}
	c.dirty = true
}

func (c *Canvas) onLinks(ev crdt.Event) {
	if !accepts(ev.Origin) {
		return
	}
	for _, id := range ev.Keys {
		if ev.Changes[id].Action == crdt.ActionDelete {
			c.removeLink(id)
			continue
		}
		l, ok := c.recordLink(id)
		if !ok {
			c.removeLink(id)
			continue
		}
		c.upsertLink(l)
	}
	c.dirty = true
}

// onText refreshes only the derived content of the owning block, and
// only when it actually differs.
func (c *Canvas) onText(ev crdt.Event) {
	if !accepts(ev.Origin) {
		return
	}
	for _, id := range ev.Keys {
		i := c.blockIndex(id)
		if i < 0 {
			continue
		}
		content := ev.Changes[id].After.Text
		if c.blocks[i].Data.Content == content {
			continue
		}
		c.blocks[i].Data.Content = content
		c.dirty = true
	}
}

// onTransaction publishes one view update per transaction, however many
// keyed changes it folded.
func (c *Canvas) onTransaction(rec crdt.TxnRecord) {
	if !accepts(rec.Origin) || !c.dirty {
		return
	}
	c.flush()
}

func (c *Canvas) blockIndex(id string) int {
	return slices.IndexFunc(c.blocks, func(b ir.Block) bool { return b.ID == id })
}

func (c *Canvas) linkIndex(id string) int {
	return slices.IndexFunc(c.links, func(l ir.Link) bool { return l.ID == id })
}

// upsertBlock replaces a block in place, keeping its selection, or
// appends it when new.
func (c *Canvas) upsertBlock(b ir.Block) {
	if i := c.blockIndex(b.ID); i >= 0 {
		b.Selected = c.blocks[i].Selected
		c.blocks[i] = b
		return
	}
	c.blocks = append(c.blocks, b)
}

func (c *Canvas) removeBlock(id string) {
	if i := c.blockIndex(id); i >= 0 {
		c.blocks = slices.Delete(c.blocks, i, i+1)
	}
}

func (c *Canvas) upsertLink(l ir.Link) {
	if i := c.linkIndex(l.ID); i >= 0 {
		l.Selected = c.links[i].Selected
		c.links[i] = l
		return
	}
	c.links = append(c.links, l)
}

func (c *Canvas) removeLink(id string) {
	if i := c.linkIndex(id); i >= 0 {
		c.links = slices.Delete(c.links, i, i+1)
	}
}

// Materialize rebuilds the whole view from the document in one pass.
// The first call also positions the viewport: centered on the core
// block when there is one, otherwise fitted to all blocks.
func (c *Canvas) Materialize() View {
	c.rematerialize()
	if !c.materialized {
		c.materialized = true
		c.positionViewport()
	}
	c.flush()
	return c.View()
}

func (c *Canvas) rematerialize() {
	selectedBlocks := make(map[string]bool)
	for _, b := range c.blocks {
		selectedBlocks[b.ID] = b.Selected
	}
	selectedLinks := make(map[string]bool)
	for _, l := range c.links {
		selectedLinks[l.ID] = l.Selected
	}

	blocks := make([]ir.Block, 0, len(c.blocks))
	for _, id := range c.doc.Keys(crdt.CollBlocks) {
		if b, ok := c.recordBlock(id); ok {
			b.Selected = selectedBlocks[id]
			blocks = append(blocks, b)
		}
	}
	links := make([]ir.Link, 0, len(c.links))
	for _, id := range c.doc.Keys(crdt.CollLinks) {
		if l, ok := c.recordLink(id); ok {
			l.Selected = selectedLinks[id]
			links = append(links, l)
		}
	}
	c.blocks = blocks
	c.links = links
}

func (c *Canvas) positionViewport() {
	if c.viewport == nil {
		return
	}
	for _, b := range c.blocks {
		if b.Type == ir.BlockCore {
			c.viewport.CenterOn(b.Position)
			return
		}
	}
	if len(c.blocks) > 0 {
		c.viewport.Fit(slices.Clone(c.blocks))
	}
}
