package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/ir"
)

// fakeService keeps snapshots in memory. gate, when set, blocks Create
// until it is closed.
type fakeService struct {
	mu     sync.Mutex
	snaps  []ir.Snapshot
	err    error
	gate   chan struct{}
	called int
}

func (f *fakeService) Create(_ context.Context, snap ir.Snapshot) (ir.Snapshot, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if f.err != nil {
		return ir.Snapshot{}, f.err
	}
	snap.ID = fmt.Sprintf("s%d", len(f.snaps)+1)
	snap.CreatedAt = time.Date(2026, 1, 1, 0, 0, len(f.snaps), 0, time.UTC)
	f.snaps = append(f.snaps, snap)
	return snap, nil
}

func (f *fakeService) find(id string) (int, error) {
	for i, s := range f.snaps {
		if s.ID == id {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

func (f *fakeService) Rename(_ context.Context, id, intent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(id)
	if err != nil {
		return err
	}
	f.snaps[i].Intent = intent
	return nil
}

func (f *fakeService) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(id)
	if err != nil {
		return err
	}
	f.snaps = append(f.snaps[:i], f.snaps[i+1:]...)
	return nil
}

func (f *fakeService) Apply(ctx context.Context, id string) (ir.Snapshot, error) {
	if f.err != nil {
		return ir.Snapshot{}, f.err
	}
	return f.Get(ctx, id)
}

func (f *fakeService) List(context.Context) ([]ir.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ir.SnapshotInfo
	for _, s := range f.snaps {
		out = append(out, ir.SnapshotInfo{ID: s.ID, Intent: s.Intent, Hash: s.Hash, CreatedAt: s.CreatedAt})
	}
	return out, nil
}

func (f *fakeService) Get(_ context.Context, id string) (ir.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(id)
	if err != nil {
		return ir.Snapshot{}, err
	}
	return f.snaps[i], nil
}

func textGraph(content string) ir.Graph {
	return ir.Graph{Blocks: []ir.Block{{
		ID:   "b1",
		Type: ir.BlockText,
		Data: ir.BlockData{Content: content},
	}}}
}

func TestSave_SkipsUnchangedDigest(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	r := New(svc)

	res, snap, err := r.Save(ctx, "first", textGraph("hello"))
	require.NoError(t, err)
	assert.Equal(t, Saved, res)
	assert.Equal(t, "s1", snap.ID)
	assert.Equal(t, r.LastDigest(), snap.Hash)

	res, _, err = r.Save(ctx, "again", textGraph("hello"))
	require.NoError(t, err)
	assert.Equal(t, NoChanges, res)
	assert.Equal(t, 1, svc.called)
}

func TestSave_FailureKeepsLastDigest(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	r := New(svc)

	_, first, err := r.Save(ctx, "first", textGraph("hello"))
	require.NoError(t, err)

	svc.err = errors.New("connection reset")
	_, _, err = r.Save(ctx, "second", textGraph("hello world"))
	require.Error(t, err)
	assert.Equal(t, first.Hash, r.LastDigest())

	svc.err = nil
	res, _, err := r.Save(ctx, "second", textGraph("hello world"))
	require.NoError(t, err)
	assert.Equal(t, Saved, res)
}

func TestSave_ConcurrentSavesDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{gate: make(chan struct{})}
	r := New(svc)

	results := make(chan SaveResult, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := r.Save(ctx, "intent", textGraph("hello"))
			assert.NoError(t, err)
			results <- res
		}()
	}
	close(svc.gate)
	wg.Wait()
	close(results)

	var got []SaveResult
	for res := range results {
		got = append(got, res)
	}
	assert.ElementsMatch(t, []SaveResult{Saved, NoChanges}, got)
	assert.Len(t, svc.snaps, 1)
}

func TestApplyScenario(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	r := New(svc)

	_, s1, err := r.Save(ctx, "hello", textGraph("hello"))
	require.NoError(t, err)
	_, s2, err := r.Save(ctx, "hello world", textGraph("hello world"))
	require.NoError(t, err)
	assert.NotEqual(t, s1.Hash, s2.Hash)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	decision, err := r.CheckApply(textGraph("hello world"), s1)
	require.NoError(t, err)
	assert.Equal(t, ApplyNeeded, decision)

	applied, err := r.Apply(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.Hash, r.LastDigest())

	live := ir.Graph{Blocks: applied.Blocks, Links: applied.Links}
	decision, err = r.CheckApply(live, s1)
	require.NoError(t, err)
	assert.Equal(t, AlreadyApplied, decision)
}

func TestCheckApply_IgnoresSelection(t *testing.T) {
	r := New(&fakeService{})
	live := textGraph("hello")
	live.Blocks[0].Selected = true
	snap := ir.Snapshot{ID: "s1", Blocks: textGraph("hello").Blocks}

	decision, err := r.CheckApply(live, snap)
	require.NoError(t, err)
	assert.Equal(t, AlreadyApplied, decision)
}

func TestRenameDelete(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	r := New(svc)
	_, s1, err := r.Save(ctx, "draft", textGraph("x"))
	require.NoError(t, err)

	require.NoError(t, r.Rename(ctx, s1.ID, "final"))
	got, err := r.Get(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Intent)

	require.NoError(t, r.Delete(ctx, s1.ID))
	_, err = r.Get(ctx, s1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, s1.ID), ErrNotFound)
}

func TestNotice(t *testing.T) {
	n := Notice("save", fmt.Errorf("save snapshot: %w", ErrForbidden))
	assert.Equal(t, ir.NoticeForbidden, n.Kind)
	assert.Equal(t, "save", n.Op)

	n = Notice("apply", errors.New("dial tcp: refused"))
	assert.Equal(t, ir.NoticeError, n.Kind)
	assert.NotContains(t, n.Message, "refused")
}
