package engine

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
)

// SetBlocks writes the block collection produced by update.
//
// Each block is diffed against its record and only changed fields are
// written. Blocks missing from the result are deleted together with
// their text and every link touching them; the core block and blocks
// locked by other actors are never deleted and never modified.
func (c *Canvas) SetBlocks(update BlockUpdate) error {
	if err := c.guard("setBlocks"); err != nil {
		return err
	}
	next := update(slices.Clone(c.blocks))

	err := c.transact("setBlocks", func(tx *crdt.Txn) error {
		seen := make(map[string]bool, len(next))
		for _, b := range next {
			if seen[b.ID] {
				return NewInvalidError(b.ID, "duplicate block id")
			}
			seen[b.ID] = true
			if err := c.writeBlock(tx, b); err != nil {
				if IsLockedError(err) || IsUploadingError(err) {
					c.logger.Debug("skipping protected block", "block_id", b.ID, "error", err)
					continue
				}
				return err
			}
		}
		for _, id := range tx.Keys(crdt.CollBlocks) {
			if seen[id] {
				continue
			}
			cur, ok := c.recordBlock(id)
			if !ok || cur.Type == ir.BlockCore || c.protected(cur) {
				continue
			}
			c.deleteBlock(tx, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.reconcileBlocks(next)
	c.reconcileLinks(c.links)
	c.flush()
	return nil
}

// SetLinks writes the link collection produced by update. Links whose
// endpoints do not exist are skipped; links missing from the result are
// deleted.
func (c *Canvas) SetLinks(update LinkUpdate) error {
	if err := c.guard("setLinks"); err != nil {
		return err
	}
	next := update(slices.Clone(c.links))

	err := c.transact("setLinks", func(tx *crdt.Txn) error {
		seen := make(map[string]bool, len(next))
		for _, l := range next {
			if seen[l.ID] {
				return NewInvalidError(l.ID, "duplicate link id")
			}
			seen[l.ID] = true
			if err := c.writeLink(tx, l); err != nil {
				return err
			}
		}
		for _, id := range tx.Keys(crdt.CollLinks) {
			if !seen[id] {
				tx.Delete(crdt.CollLinks, id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.reconcileLinks(next)
	c.flush()
	return nil
}

// DeleteBlocks deletes the given blocks, their text and their links.
// Unknown ids, the core block and blocks locked by others are skipped.
func (c *Canvas) DeleteBlocks(ids ...string) error {
	if err := c.guard("deleteBlocks"); err != nil {
		return err
	}
	err := c.transact("deleteBlocks", func(tx *crdt.Txn) error {
		for _, id := range ids {
			cur, ok := c.recordBlock(id)
			if !ok || cur.Type == ir.BlockCore {
				continue
			}
			if c.protected(cur) {
				c.logger.Debug("skipping locked block", "block_id", id)
				continue
			}
			c.deleteBlock(tx, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.reconcileBlocks(c.blocks)
	c.reconcileLinks(c.links)
	c.flush()
	return nil
}

// DeleteLinks deletes the given links.
func (c *Canvas) DeleteLinks(ids ...string) error {
	if err := c.guard("deleteLinks"); err != nil {
		return err
	}
	err := c.transact("deleteLinks", func(tx *crdt.Txn) error {
		for _, id := range ids {
			tx.Delete(crdt.CollLinks, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.reconcileLinks(c.links)
	c.flush()
	return nil
}

// ReplaceGraph clears all three collections and writes the given graph
// in one transaction, then clears the undo history. It is not undoable.
func (c *Canvas) ReplaceGraph(blocks []ir.Block, links []ir.Link) error {
	if err := c.guard("replaceGraph"); err != nil {
		return err
	}
	if err := checkGraph(blocks); err != nil {
		return err
	}

	err := c.transact("replaceGraph", func(tx *crdt.Txn) error {
		for _, coll := range crdt.Collections {
			for _, key := range tx.Keys(coll) {
				tx.Delete(coll, key)
			}
		}
		for _, b := range blocks {
			if err := c.writeBlock(tx, b); err != nil {
				return err
			}
		}
		for _, l := range links {
			if err := c.writeLink(tx, l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.history.Clear()
	c.rematerialize()
	c.flush()
	return nil
}

// checkGraph rejects graphs that break block identity invariants.
func checkGraph(blocks []ir.Block) error {
	seen := make(map[string]bool, len(blocks))
	cores := 0
	for _, b := range blocks {
		if seen[b.ID] {
			return NewInvalidError(b.ID, "duplicate block id")
		}
		seen[b.ID] = true
		if b.Type == ir.BlockCore {
			cores++
		}
	}
	if cores > 1 {
		return NewInvalidError("", "graph has more than one core block")
	}
	return nil
}

func (c *Canvas) transact(command string, fn func(tx *crdt.Txn) error) error {
	origin := crdt.Origin{Actor: c.actor, Source: crdt.SourceLocal}
	err := c.doc.Transact(origin, fn)
	if err == nil {
		return nil
	}
	var ce *CanvasError
	if errors.As(err, &ce) {
		return err
	}
	c.logger.Error("transaction failed",
		"command", command,
		"actor", c.actor,
		"error", err)
	return NewTransactionError(command, err)
}

// recordBlock rebuilds a block from its record and text entry.
func (c *Canvas) recordBlock(id string) (ir.Block, bool) {
	f, ok := c.doc.Get(crdt.CollBlocks, id)
	if !ok {
		return ir.Block{}, false
	}
	b, err := ir.BlockFromFields(id, f)
	if err != nil {
		c.logger.Warn("skipping malformed block record", "block_id", id, "error", err)
		return ir.Block{}, false
	}
	if text, ok := c.doc.Text(id); ok {
		b.Data.Content = text
	}
	return b, true
}

func (c *Canvas) recordLink(id string) (ir.Link, bool) {
	f, ok := c.doc.Get(crdt.CollLinks, id)
	if !ok {
		return ir.Link{}, false
	}
	l, err := ir.LinkFromFields(id, f)
	if err != nil {
		c.logger.Warn("skipping malformed link record", "link_id", id, "error", err)
		return ir.Link{}, false
	}
	return l, true
}

// findCore returns the id of the core block record, if any.
func (c *Canvas) findCore() (string, bool) {
	for _, id := range c.doc.Keys(crdt.CollBlocks) {
		if f, ok := c.doc.Get(crdt.CollBlocks, id); ok && f[ir.FieldType] == string(ir.BlockCore) {
			return id, true
		}
	}
	return "", false
}

// writeBlock diffs b against its record and writes the changed fields.
// The text entry is created lazily, seeded from Data.Content.
func (c *Canvas) writeBlock(tx *crdt.Txn, b ir.Block) error {
	if b.ID == "" {
		return NewInvalidError("", "block without id")
	}
	if !ir.ValidBlockTypes[b.Type] {
		return NewInvalidError(b.ID, "unknown block type "+string(b.Type))
	}
	b = ir.NormalizeBlock(b)
	fields := b.Fields()

	cur, exists := c.recordBlock(b.ID)
	switch {
	case !exists:
		if b.Type == ir.BlockCore {
			if coreID, ok := c.findCore(); ok && coreID != b.ID {
				return NewInvalidError(b.ID, "core block already exists")
			}
		}
		if err := tx.Add(crdt.CollBlocks, b.ID, fields); err != nil {
			return err
		}
	case c.protected(cur):
		return NewLockedError(b.ID, cur.Data.OwnerID)
	case cur.Type != b.Type:
		return NewInvalidError(b.ID, "block type cannot change")
	default:
		curFields, _ := tx.Get(crdt.CollBlocks, b.ID)
		var changed []string
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			if !ir.ValuesEqual(curFields[k], fields[k]) {
				changed = append(changed, k)
			}
		}
		if uploading(cur) && !payloadOnly(changed, b.Data.Content != cur.Data.Content) {
			return NewUploadingError(b.ID)
		}
		for _, k := range changed {
			if err := tx.Set(crdt.CollBlocks, b.ID, k, fields[k]); err != nil {
				return err
			}
		}
	}

	text, hasText := tx.Text(b.ID)
	switch {
	case !hasText && (b.Type == ir.BlockText || b.Data.Content != ""):
		tx.CreateText(b.ID, b.Data.Content)
	case hasText && text != b.Data.Content:
		return tx.SetText(b.ID, b.Data.Content)
	}
	return nil
}

// payloadOnly reports whether a write touches nothing but payload
// fields: no geometry, ownership, lock or text.
func payloadOnly(fields []string, textChanged bool) bool {
	if textChanged {
		return false
	}
	for _, k := range fields {
		if !strings.HasPrefix(k, "data.") || k == ir.FieldOwnerID || k == ir.FieldIsLocked {
			return false
		}
	}
	return true
}

// writeLink adds or updates a link whose endpoints both exist.
func (c *Canvas) writeLink(tx *crdt.Txn, l ir.Link) error {
	if l.ID == "" {
		return NewInvalidError("", "link without id")
	}
	if l.Source == l.Target || !tx.Has(crdt.CollBlocks, l.Source) || !tx.Has(crdt.CollBlocks, l.Target) {
		c.logger.Debug("skipping dangling link",
			"link_id", l.ID,
			"source", l.Source,
			"target", l.Target)
		return nil
	}
	fields := l.Fields()
	cur, ok := tx.Get(crdt.CollLinks, l.ID)
	if !ok {
		return tx.Add(crdt.CollLinks, l.ID, fields)
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if ir.ValuesEqual(cur[k], fields[k]) {
			continue
		}
		if err := tx.Set(crdt.CollLinks, l.ID, k, fields[k]); err != nil {
			return err
		}
	}
	return nil
}

// deleteBlock removes a block, its text entry and every link touching it.
func (c *Canvas) deleteBlock(tx *crdt.Txn, id string) {
	tx.Delete(crdt.CollBlocks, id)
	tx.Delete(crdt.CollText, id)
	for _, lid := range tx.Keys(crdt.CollLinks) {
		l, ok := c.recordLink(lid)
		if ok && (l.Source == id || l.Target == id) {
			tx.Delete(crdt.CollLinks, lid)
		}
	}
}

// reconcileBlocks rebuilds the local view after a local transaction:
// blocks in next keep their order and selection, other blocks already in
// the view follow, and anything no longer in the document is dropped.
func (c *Canvas) reconcileBlocks(next []ir.Block) {
	selected := make(map[string]bool, len(next))
	order := make([]string, 0, len(next)+len(c.blocks))
	for _, b := range next {
		if _, dup := selected[b.ID]; dup {
			continue
		}
		selected[b.ID] = b.Selected
		order = append(order, b.ID)
	}
	for _, b := range c.blocks {
		if _, ok := selected[b.ID]; !ok {
			selected[b.ID] = b.Selected
			order = append(order, b.ID)
		}
	}

	view := make([]ir.Block, 0, len(order))
	for _, id := range order {
		b, ok := c.recordBlock(id)
		if !ok {
			continue
		}
		b.Selected = selected[id]
		view = append(view, b)
	}
	c.blocks = view
}

func (c *Canvas) reconcileLinks(next []ir.Link) {
	selected := make(map[string]bool, len(next))
	order := make([]string, 0, len(next)+len(c.links))
	for _, l := range next {
		if _, dup := selected[l.ID]; dup {
			continue
		}
		selected[l.ID] = l.Selected
		order = append(order, l.ID)
	}
	for _, l := range c.links {
		if _, ok := selected[l.ID]; !ok {
			selected[l.ID] = l.Selected
			order = append(order, l.ID)
		}
	}

	view := make([]ir.Link, 0, len(order))
	for _, id := range order {
		l, ok := c.recordLink(id)
		if !ok {
			continue
		}
		l.Selected = selected[id]
		view = append(view, l)
	}
	c.links = view
}
