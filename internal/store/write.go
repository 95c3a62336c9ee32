package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
)

// AppendUpdate appends an update to a room's log.
// Uses ON CONFLICT DO NOTHING for idempotency - re-delivered updates are
// silently ignored.
func (s *Store) AppendUpdate(ctx context.Context, room string, u crdt.Update) error {
	body, digest, err := marshalUpdate(u)
	if err != nil {
		return fmt.Errorf("append update: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO updates (room, actor, seq, digest, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room, actor, seq) DO NOTHING
	`, room, u.Actor, u.Seq, digest, body)
	if err != nil {
		return fmt.Errorf("append update %s/%d: %w", u.Actor, u.Seq, err)
	}
	return nil
}

// writeSnapshot inserts a snapshot row. The snapshot must carry its id,
// hash and creation time.
func (s *Store) writeSnapshot(ctx context.Context, room string, snap ir.Snapshot) error {
	content, err := marshalGraph(snap.Blocks, snap.Links)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, room, intent, content, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ID, room, snap.Intent, content, snap.Hash, snap.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// renameSnapshot updates a snapshot's intent and reports whether it exists.
func (s *Store) renameSnapshot(ctx context.Context, room, id, intent string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET intent = ? WHERE room = ? AND id = ?
	`, intent, room, id)
	if err != nil {
		return false, fmt.Errorf("rename snapshot %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename snapshot %s: %w", id, err)
	}
	return n > 0, nil
}

// deleteSnapshot removes a snapshot and reports whether it existed.
func (s *Store) deleteSnapshot(ctx context.Context, room, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE room = ? AND id = ?
	`, room, id)
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return n > 0, nil
}

// markApplied records when a snapshot was last restored.
func (s *Store) markApplied(ctx context.Context, room, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET applied_at = ? WHERE room = ? AND id = ?
	`, at.UnixMilli(), room, id)
	if err != nil {
		return fmt.Errorf("mark snapshot %s applied: %w", id, err)
	}
	return nil
}
