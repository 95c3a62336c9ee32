package engine

import (
	"slices"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
)

// CreateBlock adds a block of type t at pos and returns its id.
func (c *Canvas) CreateBlock(t ir.BlockType, pos ir.Position, data ir.BlockData) (string, error) {
	if err := c.guard("createBlock"); err != nil {
		return "", err
	}
	if !ir.ValidBlockTypes[t] {
		return "", NewInvalidError("", "unknown block type "+string(t))
	}
	if t == ir.BlockCore {
		if id, ok := c.findCore(); ok {
			return "", NewInvalidError(id, "core block already exists")
		}
	}
	id := c.ids.Generate()
	b := ir.Block{ID: id, Type: t, Position: pos, Data: data}
	err := c.SetBlocks(func(prev []ir.Block) []ir.Block {
		return append(prev, b)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// MoveBlock sets a block's position. The core block stays pinned.
func (c *Canvas) MoveBlock(id string, pos ir.Position) error {
	return c.PatchBlock(id, func(b *ir.Block) {
		b.Position = pos
	})
}

// ResizeBlock sets a block's size.
func (c *Canvas) ResizeBlock(id string, width, height float64) error {
	return c.PatchBlock(id, func(b *ir.Block) {
		b.Width = width
		b.Height = height
	})
}

// PatchBlock applies fn to one block and writes the result.
func (c *Canvas) PatchBlock(id string, fn func(b *ir.Block)) error {
	if err := c.guard("patchBlock"); err != nil {
		return err
	}
	if err := c.checkWritable(id); err != nil {
		return err
	}
	return c.patch(id, fn)
}

// CompleteUpload writes the final payload of a file placeholder. It is
// the one write an uploading placeholder accepts.
func (c *Canvas) CompleteUpload(id string, p ir.FilePayload) error {
	if err := c.guard("completeUpload"); err != nil {
		return err
	}
	cur, ok := c.recordBlock(id)
	if !ok {
		return NewNotFoundError("block", id)
	}
	if cur.Type != ir.BlockFile {
		return NewInvalidError(id, "not a file block")
	}
	return c.patch(id, func(b *ir.Block) {
		b.Data.Payload = p
	})
}

func (c *Canvas) patch(id string, fn func(b *ir.Block)) error {
	return c.SetBlocks(func(prev []ir.Block) []ir.Block {
		for i := range prev {
			if prev[i].ID == id {
				fn(&prev[i])
			}
		}
		return prev
	})
}

// EditText deletes deleteCount runes at index of a block's text and
// inserts text there. The text entry is created on first edit.
func (c *Canvas) EditText(id string, index, deleteCount int, text string) error {
	if err := c.guard("editText"); err != nil {
		return err
	}
	if err := c.checkWritable(id); err != nil {
		return err
	}
	err := c.transact("editText", func(tx *crdt.Txn) error {
		if !tx.Has(crdt.CollText, id) {
			tx.CreateText(id, "")
		}
		if err := tx.EditText(id, index, deleteCount, text); err != nil {
			return NewInvalidError(id, err.Error())
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.reconcileBlocks(c.blocks)
	c.flush()
	return nil
}

// ToggleLock locks or unlocks a block on behalf of the local actor.
//
// Only the owner of a locked block may unlock it. Both the owner and the
// lock field are written on every toggle, even when the owner is
// unchanged, with consecutive op ids. Concurrent claims therefore resolve
// to the same single writer for both fields on every replica.
func (c *Canvas) ToggleLock(id string) error {
	if err := c.guard("toggleLock"); err != nil {
		return err
	}
	if err := c.checkWritable(id); err != nil {
		return err
	}
	cur, _ := c.recordBlock(id)
	err := c.transact("toggleLock", func(tx *crdt.Txn) error {
		if err := tx.Put(crdt.CollBlocks, id, ir.FieldOwnerID, c.actor); err != nil {
			return err
		}
		return tx.Put(crdt.CollBlocks, id, ir.FieldIsLocked, !cur.Data.IsLocked)
	})
	if err != nil {
		return err
	}
	c.reconcileBlocks(c.blocks)
	c.flush()
	return nil
}

// Connect links source to target and returns the new link id.
func (c *Canvas) Connect(source, target string) (string, error) {
	if err := c.guard("connect"); err != nil {
		return "", err
	}
	for _, id := range []string{source, target} {
		if !c.doc.Has(crdt.CollBlocks, id) {
			return "", NewNotFoundError("block", id)
		}
	}
	if source == target {
		return "", NewInvalidError(source, "cannot link a block to itself")
	}
	id := c.ids.Generate()
	err := c.SetLinks(func(prev []ir.Link) []ir.Link {
		return append(prev, ir.Link{ID: id, Source: source, Target: target})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Select marks exactly the given blocks as selected. Selection is local
// and never reaches the document.
func (c *Canvas) Select(ids ...string) error {
	return c.SetBlocks(func(prev []ir.Block) []ir.Block {
		for i := range prev {
			prev[i].Selected = slices.Contains(ids, prev[i].ID)
		}
		return prev
	})
}

func (c *Canvas) checkWritable(id string) error {
	cur, ok := c.recordBlock(id)
	if !ok {
		return NewNotFoundError("block", id)
	}
	if c.protected(cur) {
		return NewLockedError(id, cur.Data.OwnerID)
	}
	if uploading(cur) {
		return NewUploadingError(id)
	}
	return nil
}

// uploading reports whether b is a file placeholder waiting for its
// upload to finish.
func uploading(b ir.Block) bool {
	p, ok := b.Data.Payload.(ir.FilePayload)
	return ok && p.Status == ir.FileUploading
}
