// Package snapshot reconciles named point-in-time copies of a canvas with
// its live state.
//
// Saves are skipped when the graph digest equals the last successfully
// saved digest, and applying a snapshot whose digest equals the live
// digest is reported as a no-op.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tessera/internal/ir"
)

var (
	// ErrForbidden reports an authorization failure from the service.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound reports an unknown snapshot id.
	ErrNotFound = errors.New("snapshot not found")
)

// Service persists snapshots. Implementations: the SQLite store and the
// HTTP client.
type Service interface {
	// Create persists snap and returns it with ID and CreatedAt set.
	Create(ctx context.Context, snap ir.Snapshot) (ir.Snapshot, error)
	Rename(ctx context.Context, id, intent string) error
	Delete(ctx context.Context, id string) error
	// Apply marks a snapshot as restored and returns its content.
	Apply(ctx context.Context, id string) (ir.Snapshot, error)
	List(ctx context.Context) ([]ir.SnapshotInfo, error)
	Get(ctx context.Context, id string) (ir.Snapshot, error)
}

// SaveResult is the outcome of Reconciler.Save.
type SaveResult string

const (
	Saved     SaveResult = "saved"
	NoChanges SaveResult = "no-changes"
)

// ApplyDecision is the outcome of Reconciler.CheckApply.
type ApplyDecision string

const (
	ApplyNeeded    ApplyDecision = "apply"
	AlreadyApplied ApplyDecision = "already-applied"
)

// Digest hashes a graph's persisted content. It is independent of entity
// order and ignores ephemeral fields.
func Digest(blocks []ir.Block, links []ir.Link) (string, error) {
	return ir.GraphDigest(blocks, links)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// WithLastDigest seeds the digest of the most recent snapshot, e.g. from
// the service's list on startup.
func WithLastDigest(d string) Option {
	return func(r *Reconciler) {
		r.lastDigest = d
	}
}

// Reconciler wraps a Service with digest bookkeeping.
//
// Thread-safety: saves are serialized; the last digest is updated only
// after the service confirmed the save.
type Reconciler struct {
	svc    Service
	logger *slog.Logger

	mu         sync.Mutex
	lastDigest string
}

// New creates a reconciler over svc.
func New(svc Service, opts ...Option) *Reconciler {
	r := &Reconciler{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LastDigest returns the digest of the last successful save or apply.
func (r *Reconciler) LastDigest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastDigest
}

// Save persists g under intent unless it is unchanged since the last
// successful save.
func (r *Reconciler) Save(ctx context.Context, intent string, g ir.Graph) (SaveResult, ir.Snapshot, error) {
	digest, err := Digest(g.Blocks, g.Links)
	if err != nil {
		return "", ir.Snapshot{}, fmt.Errorf("digest graph: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if digest == r.lastDigest {
		r.logger.Debug("snapshot save skipped", "digest", digest)
		return NoChanges, ir.Snapshot{}, nil
	}

	snap, err := r.svc.Create(ctx, ir.Snapshot{
		Intent: intent,
		Blocks: g.Blocks,
		Links:  g.Links,
		Hash:   digest,
	})
	if err != nil {
		return "", ir.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	r.lastDigest = digest
	r.logger.Info("snapshot saved", "snapshot_id", snap.ID, "digest", digest)
	return Saved, snap, nil
}

// CheckApply compares the live graph with a snapshot's content.
func (r *Reconciler) CheckApply(live ir.Graph, snap ir.Snapshot) (ApplyDecision, error) {
	liveDigest, err := Digest(live.Blocks, live.Links)
	if err != nil {
		return "", fmt.Errorf("digest live graph: %w", err)
	}
	snapDigest, err := Digest(snap.Blocks, snap.Links)
	if err != nil {
		return "", fmt.Errorf("digest snapshot %s: %w", snap.ID, err)
	}
	if liveDigest == snapDigest {
		return AlreadyApplied, nil
	}
	return ApplyNeeded, nil
}

// Apply asks the service to restore a snapshot and returns its content.
// After a successful apply the live state equals the snapshot, so its
// digest becomes the last saved digest.
func (r *Reconciler) Apply(ctx context.Context, id string) (ir.Snapshot, error) {
	snap, err := r.svc.Apply(ctx, id)
	if err != nil {
		return ir.Snapshot{}, fmt.Errorf("apply snapshot %s: %w", id, err)
	}
	digest, err := Digest(snap.Blocks, snap.Links)
	if err != nil {
		return ir.Snapshot{}, fmt.Errorf("digest snapshot %s: %w", id, err)
	}
	r.mu.Lock()
	r.lastDigest = digest
	r.mu.Unlock()
	return snap, nil
}

// Rename changes a snapshot's intent.
func (r *Reconciler) Rename(ctx context.Context, id, intent string) error {
	if err := r.svc.Rename(ctx, id, intent); err != nil {
		return fmt.Errorf("rename snapshot %s: %w", id, err)
	}
	return nil
}

// Delete removes a snapshot.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	if err := r.svc.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// List returns every snapshot, newest first.
func (r *Reconciler) List(ctx context.Context) ([]ir.SnapshotInfo, error) {
	infos, err := r.svc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return infos, nil
}

// Get fetches a snapshot's content.
func (r *Reconciler) Get(ctx context.Context, id string) (ir.Snapshot, error) {
	snap, err := r.svc.Get(ctx, id)
	if err != nil {
		return ir.Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// Notice converts the failure of a snapshot operation into a
// user-visible notice. Authorization failures get a distinct message.
func Notice(op string, err error) ir.Notice {
	if errors.Is(err, ErrForbidden) {
		return ir.Notice{
			Kind:    ir.NoticeForbidden,
			Op:      op,
			Message: fmt.Sprintf("You do not have permission to %s snapshots.", op),
		}
	}
	return ir.Notice{
		Kind:    ir.NoticeError,
		Op:      op,
		Message: fmt.Sprintf("Could not %s the snapshot. Please try again.", op),
	}
}

// Info builds an informational notice, used for no-op outcomes.
func Info(op, message string) ir.Notice {
	return ir.Notice{Kind: ir.NoticeInfo, Op: op, Message: message}
}
