package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/snapshot"
)

// ReadUpdates returns a room's update log in application order.
//
// Returns an empty slice (not nil) if the room has no updates.
func (s *Store) ReadUpdates(ctx context.Context, room string) ([]crdt.Update, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, digest
		FROM updates
		WHERE room = ?
		ORDER BY pos ASC
	`, room)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	updates := []crdt.Update{}
	for rows.Next() {
		var body, digest string
		if err := rows.Scan(&body, &digest); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		u, err := unmarshalUpdate(body, digest)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return updates, nil
}

// CountUpdates returns the number of logged updates of a room.
func (s *Store) CountUpdates(ctx context.Context, room string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM updates WHERE room = ?`, room).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count updates: %w", err)
	}
	return n, nil
}

// readSnapshot returns one snapshot with its content.
func (s *Store) readSnapshot(ctx context.Context, room, id string) (ir.Snapshot, error) {
	var (
		snap    ir.Snapshot
		content string
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, intent, content, hash, created_at
		FROM snapshots
		WHERE room = ? AND id = ?
	`, room, id).Scan(&snap.ID, &snap.Intent, &content, &snap.Hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Snapshot{}, fmt.Errorf("%w: %s", snapshot.ErrNotFound, id)
	}
	if err != nil {
		return ir.Snapshot{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}

	g, err := unmarshalGraph(content)
	if err != nil {
		return ir.Snapshot{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	snap.Blocks = g.Blocks
	snap.Links = g.Links
	snap.CreatedAt = time.UnixMilli(created).UTC()
	return snap, nil
}

// listSnapshots returns a room's snapshots, newest first.
//
// Ordering: ORDER BY created_at DESC, id DESC COLLATE BINARY.
func (s *Store) listSnapshots(ctx context.Context, room string) ([]ir.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent, hash, created_at
		FROM snapshots
		WHERE room = ?
		ORDER BY created_at DESC, id COLLATE BINARY DESC
	`, room)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	infos := []ir.SnapshotInfo{}
	for rows.Next() {
		var (
			info    ir.SnapshotInfo
			created int64
		)
		if err := rows.Scan(&info.ID, &info.Intent, &info.Hash, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.CreatedAt = time.UnixMilli(created).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return infos, nil
}
