package store

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/snapshot"
)

// SnapshotService serves one room's snapshots from the store.
type SnapshotService struct {
	store *Store
	room  string
	now   func() time.Time
	newID func() string
}

// SnapshotOption configures a SnapshotService.
type SnapshotOption func(*SnapshotService)

// WithClock sets the time source for creation and apply times.
func WithClock(now func() time.Time) SnapshotOption {
	return func(s *SnapshotService) {
		s.now = now
	}
}

// WithIDs sets the snapshot id generator.
func WithIDs(newID func() string) SnapshotOption {
	return func(s *SnapshotService) {
		s.newID = newID
	}
}

// Snapshots returns the snapshot service of a room. Snapshot ids are
// ULIDs, so they sort by creation time.
func (s *Store) Snapshots(room string, opts ...SnapshotOption) *SnapshotService {
	svc := &SnapshotService{
		store: s,
		room:  room,
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

var _ snapshot.Service = (*SnapshotService)(nil)

// Create implements snapshot.Service. A missing hash is computed.
func (s *SnapshotService) Create(ctx context.Context, snap ir.Snapshot) (ir.Snapshot, error) {
	if snap.Hash == "" {
		hash, err := ir.GraphDigest(snap.Blocks, snap.Links)
		if err != nil {
			return ir.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
		}
		snap.Hash = hash
	}
	snap.ID = s.newID()
	snap.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	if err := s.store.writeSnapshot(ctx, s.room, snap); err != nil {
		return ir.Snapshot{}, err
	}
	return snap, nil
}

// Rename implements snapshot.Service.
func (s *SnapshotService) Rename(ctx context.Context, id, intent string) error {
	ok, err := s.store.renameSnapshot(ctx, s.room, id, intent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", snapshot.ErrNotFound, id)
	}
	return nil
}

// Delete implements snapshot.Service.
func (s *SnapshotService) Delete(ctx context.Context, id string) error {
	ok, err := s.store.deleteSnapshot(ctx, s.room, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", snapshot.ErrNotFound, id)
	}
	return nil
}

// Apply implements snapshot.Service.
func (s *SnapshotService) Apply(ctx context.Context, id string) (ir.Snapshot, error) {
	snap, err := s.store.readSnapshot(ctx, s.room, id)
	if err != nil {
		return ir.Snapshot{}, err
	}
	if err := s.store.markApplied(ctx, s.room, id, s.now()); err != nil {
		return ir.Snapshot{}, err
	}
	return snap, nil
}

// List implements snapshot.Service.
func (s *SnapshotService) List(ctx context.Context) ([]ir.SnapshotInfo, error) {
	return s.store.listSnapshots(ctx, s.room)
}

// Get implements snapshot.Service.
func (s *SnapshotService) Get(ctx context.Context, id string) (ir.Snapshot, error) {
	return s.store.readSnapshot(ctx, s.room, id)
}
