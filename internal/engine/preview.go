package engine

import "github.com/roach88/tessera/internal/ir"

// EnterPreview overlays a snapshot on the view. The live document keeps
// merging underneath; commands fail and undo is disabled until exit.
func (c *Canvas) EnterPreview(snap ir.Snapshot) {
	c.preview = &snap
	c.history.SetEnabled(false)
	c.logger.Debug("entered preview", "snapshot_id", snap.ID)
	c.flush()
}

// ExitPreview returns to the live view. It is a no-op outside preview.
func (c *Canvas) ExitPreview() {
	if c.preview == nil {
		return
	}
	c.logger.Debug("exited preview", "snapshot_id", c.preview.ID)
	c.preview = nil
	c.history.SetEnabled(true)
	c.flush()
}

// Previewing returns the previewed snapshot, if any.
func (c *Canvas) Previewing() (ir.Snapshot, bool) {
	if c.preview == nil {
		return ir.Snapshot{}, false
	}
	return *c.preview, true
}

// ApplySnapshot leaves preview and replaces the live document with the
// snapshot's graph. Like every full replace it clears undo history.
func (c *Canvas) ApplySnapshot(snap ir.Snapshot) error {
	c.ExitPreview()
	return c.ReplaceGraph(snap.Blocks, snap.Links)
}
