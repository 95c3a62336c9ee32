package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/paste"
	"github.com/roach88/tessera/internal/prefs"
	"github.com/roach88/tessera/internal/presence"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/snapshot"
	"github.com/roach88/tessera/internal/transport"
)

// ErrSessionClosed is returned for work submitted to a stopped session.
var ErrSessionClosed = errors.New("session closed")

// UpdateLog persists replicated updates so a session can restart offline.
// Implemented by store.Store.
type UpdateLog interface {
	AppendUpdate(ctx context.Context, room string, u crdt.Update) error
	ReadUpdates(ctx context.Context, room string) ([]crdt.Update, error)
}

// reconnector is implemented by transports that re-establish their
// connection, such as transport.Client.
type reconnector interface {
	OnReconnect(h func())
}

// Session is the single-writer event loop around one Canvas.
//
// Commands, remote messages, presence changes and the continuations of
// asynchronous calls are tasks processed in FIFO order by Run.
//
// CRITICAL: the Canvas is only touched from the Run goroutine.
//
// Thread-safety model:
//   - Do(), Submit() and every exported method: safe from any goroutine,
//     but never from inside a task (Do would wait on itself)
//   - Run(): must be called from exactly one goroutine
//   - Presence(): the channel is safe for concurrent use
type Session struct {
	canvas    *Canvas
	presence  *presence.Channel
	queue     *taskQueue
	room      string
	transport transport.Transport
	log       UpdateLog
	snapshots *snapshot.Reconciler
	ingestor  *paste.Ingestor
	logger    *slog.Logger

	// Fields below are loop-owned.
	ctx        context.Context
	previewGen uint64
	deferred   []filePatch

	mu             sync.Mutex
	viewHandlers   []func(View)
	noticeHandlers []func(ir.Notice)

	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error

	name     string
	prefs    prefs.Store
	uploader paste.Uploader

	processed atomic.Uint64
	done      chan struct{}
	closeMu   sync.Once
}

type filePatch struct {
	id      string
	payload ir.FilePayload
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRoom names the room used for persistence and transport frames.
func WithRoom(room string) SessionOption {
	return func(s *Session) {
		s.room = room
	}
}

// WithTransport connects the session to other sessions of its room. The
// session closes the transport when it is closed.
func WithTransport(t transport.Transport) SessionOption {
	return func(s *Session) {
		s.transport = t
	}
}

// WithUpdateLog persists every local and remote update, and replays the
// log when Run starts.
func WithUpdateLog(l UpdateLog) SessionOption {
	return func(s *Session) {
		s.log = l
	}
}

// WithSnapshots enables the snapshot operations.
func WithSnapshots(r *snapshot.Reconciler) SessionOption {
	return func(s *Session) {
		s.snapshots = r
	}
}

// WithUploader sets the uploader used for pasted files.
func WithUploader(u paste.Uploader) SessionOption {
	return func(s *Session) {
		s.uploader = u
	}
}

// WithDisplayName sets the name shown in presence.
func WithDisplayName(name string) SessionOption {
	return func(s *Session) {
		s.name = name
	}
}

// WithPrefs sets the preference store of the presence channel.
func WithPrefs(p prefs.Store) SessionOption {
	return func(s *Session) {
		s.prefs = p
	}
}

// WithSessionLogger sets the logger for the session and its components.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// NewSession wraps a canvas in an event loop. The canvas must not be used
// directly afterwards; go through Do.
func NewSession(c *Canvas, opts ...SessionOption) *Session {
	s := &Session{
		canvas: c,
		queue:  newTaskQueue(),
		room:   "default",
		logger: c.logger,
		ctx:    context.Background(),
		prefs:  prefs.NewMemory(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.presence = presence.New(c.Actor(), s.name,
		presence.WithPrefs(s.prefs),
		presence.WithShareCursor(c.Config().ShareCursor),
		presence.WithBroadcast(s.broadcastPresence),
		presence.WithLogger(s.logger))
	s.presence.OnPresenceChange(func([]ir.Presence) {
		s.queue.Enqueue(task{name: "presence", run: c.PresenceChanged})
	})
	c.SetPresence(s.presence)

	s.ingestor = paste.NewIngestor(s.uploader, paste.WithLogger(s.logger))

	c.OnDocumentChange(s.dispatchView)
	c.Doc().OnUpdate(s.onLocalUpdate)

	if s.transport != nil {
		s.transport.Subscribe(s.onMessage)
		if r, ok := s.transport.(reconnector); ok {
			r.OnReconnect(func() {
				s.queue.Enqueue(task{name: "resync", run: s.requestSync})
			})
		}
	}
	return s
}

// Actor returns the local actor id.
func (s *Session) Actor() string {
	return s.canvas.Actor()
}

// Room returns the session's room.
func (s *Session) Room() string {
	return s.room
}

// Presence returns the session's presence channel.
func (s *Session) Presence() *presence.Channel {
	return s.presence
}

// Pending returns the number of queued tasks.
func (s *Session) Pending() int {
	return s.queue.Len()
}

// OnView registers a handler for every published view. Handlers run on
// the loop goroutine.
func (s *Session) OnView(h func(View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewHandlers = append(s.viewHandlers, h)
}

// OnNotice registers a handler for user-visible notices. Handlers run on
// the loop goroutine.
func (s *Session) OnNotice(h func(ir.Notice)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noticeHandlers = append(s.noticeHandlers, h)
}

func (s *Session) dispatchView(v View) {
	s.mu.Lock()
	handlers := slices.Clone(s.viewHandlers)
	s.mu.Unlock()
	for _, h := range handlers {
		h(v)
	}
}

// notify queues a notice for delivery on the loop.
func (s *Session) notify(n ir.Notice) {
	s.queue.Enqueue(task{name: "notice", run: func() {
		s.mu.Lock()
		handlers := slices.Clone(s.noticeHandlers)
		s.mu.Unlock()
		for _, h := range handlers {
			h(n)
		}
	}})
}

// Run processes tasks until ctx is cancelled or Close is called.
//
// On start it replays the update log, publishes the first view, asks
// peers for missing updates and announces the local presence.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.ctx = ctx
	slog.Info("session starting",
		"actor", s.Actor(),
		"room", s.room)

	if err := s.start(ctx); err != nil {
		s.queue.Close()
		return err
	}

	for {
		t, ok := s.queue.TryDequeue()
		if ok {
			s.processed.Add(1)
			t.run()
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("session stopping: context cancelled", "actor", s.Actor())
			s.queue.Close()
			return ctx.Err()

		case _, open := <-s.queue.Wait():
			// A stale signal can arrive for a task already taken.
			if !open && s.queue.Len() == 0 {
				slog.Info("session stopping: queue closed", "actor", s.Actor())
				return nil
			}
		}
	}
}

func (s *Session) start(ctx context.Context) error {
	if s.log != nil {
		updates, err := s.log.ReadUpdates(ctx, s.room)
		if err != nil {
			return fmt.Errorf("read update log: %w", err)
		}
		if err := s.canvas.Doc().Load(updates); err != nil {
			return fmt.Errorf("replay update log: %w", err)
		}
		slog.Debug("update log replayed",
			"room", s.room,
			"updates", len(updates))
	}
	s.canvas.Materialize()
	s.requestSync()
	s.presence.UpdateMyPresence(nil)
	return nil
}

// Close stops the loop and closes the transport. Queued tasks that did
// not run fail with ErrSessionClosed.
func (s *Session) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.queue.Close()
		if s.transport != nil {
			err = s.transport.Close()
		}
	})
	return err
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Submit queues fn without waiting for it.
func (s *Session) Submit(name string, fn func(c *Canvas)) bool {
	return s.queue.Enqueue(task{name: name, run: func() { fn(s.canvas) }})
}

// Do runs fn on the loop and returns its error.
func (s *Session) Do(ctx context.Context, fn func(c *Canvas) error) error {
	result := make(chan error, 1)
	ok := s.queue.Enqueue(task{name: "do", run: func() {
		result <- fn(s.canvas)
	}})
	if !ok {
		return ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// maxSettleRounds bounds Settle for sessions that never go quiet.
const maxSettleRounds = 1000

// Settle runs no-op rounds over the sessions until a round in which no
// session processed anything else. With synchronous transports such as
// transport.Hub every message exchanged between them has then been
// handled.
func Settle(ctx context.Context, sessions ...*Session) error {
	noop := func(*Canvas) error { return nil }
	count := func() uint64 {
		var n uint64
		for _, s := range sessions {
			n += s.processed.Load()
		}
		return n
	}
	for range maxSettleRounds {
		before := count()
		for _, s := range sessions {
			if err := s.Do(ctx, noop); err != nil {
				return err
			}
		}
		if count()-before == uint64(len(sessions)) {
			return nil
		}
	}
	return fmt.Errorf("sessions did not settle after %d rounds", maxSettleRounds)
}

// View returns the current view.
func (s *Session) View(ctx context.Context) (View, error) {
	var v View
	err := s.Do(ctx, func(c *Canvas) error {
		v = c.View()
		return nil
	})
	return v, err
}

// Graph returns the live graph.
func (s *Session) Graph(ctx context.Context) (ir.Graph, error) {
	var g ir.Graph
	err := s.Do(ctx, func(c *Canvas) error {
		g = c.Graph()
		return nil
	})
	return g, err
}

// onLocalUpdate persists and broadcasts an update committed on this
// replica. Called on the loop from inside Doc.Transact.
func (s *Session) onLocalUpdate(u crdt.Update) {
	s.persist(u)
	if s.transport == nil {
		return
	}
	err := s.transport.Send(s.ctx, transport.Message{
		Kind:   transport.KindUpdate,
		Room:   s.room,
		From:   s.Actor(),
		Update: &u,
	})
	if err != nil {
		s.logger.Warn("update broadcast failed",
			"actor", s.Actor(),
			"seq", u.Seq,
			"error", err)
	}
}

func (s *Session) persist(u crdt.Update) {
	if s.log == nil {
		return
	}
	if err := s.log.AppendUpdate(s.ctx, s.room, u); err != nil {
		s.logger.Error("update persist failed",
			"room", s.room,
			"update_actor", u.Actor,
			"seq", u.Seq,
			"error", err)
	}
}

func (s *Session) broadcastPresence(p ir.Presence) {
	if s.transport == nil {
		return
	}
	err := s.transport.Send(context.Background(), transport.Message{
		Kind:     transport.KindPresence,
		Room:     s.room,
		From:     s.Actor(),
		Presence: &p,
	})
	if err != nil {
		s.logger.Debug("presence broadcast failed", "error", err)
	}
}

func (s *Session) requestSync() {
	if s.transport == nil {
		return
	}
	err := s.transport.Send(s.ctx, transport.Message{
		Kind:        transport.KindSyncRequest,
		Room:        s.room,
		From:        s.Actor(),
		StateVector: s.canvas.Doc().StateVector(),
	})
	if err != nil {
		s.logger.Warn("sync request failed", "error", err)
	}
}

// onMessage runs on the transport's goroutine and only enqueues.
func (s *Session) onMessage(m transport.Message) {
	s.queue.Enqueue(task{name: string(m.Kind), run: func() { s.handleMessage(m) }})
}

func (s *Session) handleMessage(m transport.Message) {
	switch m.Kind {
	case transport.KindUpdate:
		s.applyRemote(*m.Update)

	case transport.KindSyncResponse:
		for _, u := range m.Updates {
			s.applyRemote(u)
		}

	case transport.KindSyncRequest:
		missing := s.canvas.Doc().UpdatesSince(m.StateVector)
		err := s.transport.Send(s.ctx, transport.Message{
			Kind:    transport.KindSyncResponse,
			Room:    s.room,
			From:    s.Actor(),
			To:      m.From,
			Updates: missing,
		})
		if err != nil {
			s.logger.Warn("sync response failed",
				"to", m.From,
				"error", err)
		}
		// Newcomers have not seen our presence yet.
		s.presence.UpdateMyPresence(nil)

	case transport.KindPresence:
		p := *m.Presence
		p.ActorID = m.From
		s.presence.Receive(p)

	case transport.KindLeave:
		s.presence.Leave(m.From)
	}
}

func (s *Session) applyRemote(u crdt.Update) {
	if err := s.canvas.Doc().ApplyUpdate(u); err != nil {
		s.logger.Warn("remote update rejected",
			"update_actor", u.Actor,
			"seq", u.Seq,
			"error", err)
		return
	}
	s.persist(u)
}

// CreateBlock implements paste.Sink.
func (s *Session) CreateBlock(ctx context.Context, t ir.BlockType, pos ir.Position, data ir.BlockData) (string, error) {
	var id string
	err := s.Do(ctx, func(c *Canvas) error {
		var err error
		id, err = c.CreateBlock(t, pos, data)
		return err
	})
	return id, err
}

// UpdateFile implements paste.Sink. While a snapshot is previewed the
// patch is held and applied on exit.
func (s *Session) UpdateFile(ctx context.Context, id string, p ir.FilePayload) (bool, error) {
	var found bool
	err := s.Do(ctx, func(c *Canvas) error {
		if !c.doc.Has(crdt.CollBlocks, id) {
			return nil
		}
		found = true
		if _, previewing := c.Previewing(); previewing {
			s.deferred = append(s.deferred, filePatch{id: id, payload: p})
			return nil
		}
		return s.patchFile(c, id, p)
	})
	return found, err
}

// UploadFailed implements paste.Sink by raising a notice for the failed
// upload.
func (s *Session) UploadFailed(_ context.Context, id string, a ir.Attachment, err error) {
	s.logger.Debug("upload failure notice",
		"block_id", id,
		"file_name", a.Name)
	s.notify(uploadNotice(a.Name, err))
}

// uploadNotice converts an upload failure into a user-visible notice.
// Authorization failures get a distinct message, like snapshot.Notice.
func uploadNotice(name string, err error) ir.Notice {
	switch {
	case errors.Is(err, snapshot.ErrForbidden):
		return ir.Notice{
			Kind:    ir.NoticeForbidden,
			Op:      "upload",
			Message: "You do not have permission to upload files.",
		}
	case errors.Is(err, paste.ErrNoUploader):
		return ir.Notice{
			Kind:    ir.NoticeError,
			Op:      "upload",
			Message: "File uploads are not available.",
		}
	}
	return ir.Notice{
		Kind:    ir.NoticeError,
		Op:      "upload",
		Message: fmt.Sprintf("Could not upload %s. Please try again.", name),
	}
}

func (s *Session) patchFile(c *Canvas, id string, p ir.FilePayload) error {
	return c.CompleteUpload(id, p)
}

// flushDeferred applies file patches held during preview. Patches for
// blocks that disappeared meanwhile are dropped.
func (s *Session) flushDeferred(c *Canvas) {
	pending := s.deferred
	s.deferred = nil
	for _, fp := range pending {
		if !c.doc.Has(crdt.CollBlocks, fp.id) {
			continue
		}
		if err := s.patchFile(c, fp.id, fp.payload); err != nil {
			s.logger.Warn("deferred file update failed",
				"block_id", fp.id,
				"error", err)
		}
	}
}

// Paste creates one block from a clipboard payload. File uploads finish in
// the background.
func (s *Session) Paste(ctx context.Context, p paste.Payload, pos ir.Position) (string, error) {
	id, err := s.ingestor.Paste(ctx, p, pos, s)
	if err != nil && !errors.Is(err, paste.ErrEmpty) {
		s.notify(ir.Notice{Kind: ir.NoticeError, Op: "paste", Message: "Could not paste the clipboard content."})
	}
	return id, err
}

// WaitUploads blocks until every pasted file upload has been resolved.
func (s *Session) WaitUploads() {
	s.ingestor.Wait()
}

// ImportGraph validates a JSON graph document and replaces the live graph
// with it. The import clears undo history.
func (s *Session) ImportGraph(ctx context.Context, filename string, data []byte) error {
	s.validatorOnce.Do(func() {
		s.validator, s.validatorErr = schema.New()
	})
	if s.validatorErr != nil {
		return s.validatorErr
	}
	g, err := s.validator.Validate(filename, data)
	if err != nil {
		return err
	}
	return s.Do(ctx, func(c *Canvas) error {
		return c.ReplaceGraph(g.Blocks, g.Links)
	})
}

var errNoSnapshots = errors.New("snapshots are not configured")

func (s *Session) requireSnapshots() error {
	if s.snapshots == nil {
		return errNoSnapshots
	}
	return nil
}

// SaveSnapshot saves the live graph under intent unless it is unchanged
// since the last save.
func (s *Session) SaveSnapshot(ctx context.Context, intent string) (snapshot.SaveResult, ir.Snapshot, error) {
	if err := s.requireSnapshots(); err != nil {
		return "", ir.Snapshot{}, err
	}
	g, err := s.Graph(ctx)
	if err != nil {
		return "", ir.Snapshot{}, err
	}
	res, snap, err := s.snapshots.Save(ctx, intent, g)
	if err != nil {
		s.notify(snapshot.Notice("save", err))
		return "", ir.Snapshot{}, err
	}
	if res == snapshot.NoChanges {
		s.notify(snapshot.Info("save", "No changes since the last snapshot."))
	}
	return res, snap, nil
}

// PreviewSnapshot fetches a snapshot and shows it read-only. A fetch
// that completes after ExitPreview, or after a newer preview request,
// is discarded.
func (s *Session) PreviewSnapshot(ctx context.Context, id string) error {
	if err := s.requireSnapshots(); err != nil {
		return err
	}
	var gen uint64
	if err := s.Do(ctx, func(*Canvas) error {
		s.previewGen++
		gen = s.previewGen
		return nil
	}); err != nil {
		return err
	}

	snap, err := s.snapshots.Get(ctx, id)
	if err != nil {
		s.notify(snapshot.Notice("preview", err))
		return err
	}

	return s.Do(ctx, func(c *Canvas) error {
		if gen != s.previewGen {
			s.logger.Debug("stale preview discarded", "snapshot_id", id)
			return nil
		}
		c.EnterPreview(snap)
		return nil
	})
}

// ExitPreview returns to the live view.
func (s *Session) ExitPreview(ctx context.Context) error {
	return s.Do(ctx, func(c *Canvas) error {
		s.exitPreview(c)
		return nil
	})
}

func (s *Session) exitPreview(c *Canvas) {
	s.previewGen++
	c.ExitPreview()
	s.flushDeferred(c)
}

// ApplyPreview restores the previewed snapshot. When the live graph
// already equals it, preview is left with an informational notice and
// the service is not called.
func (s *Session) ApplyPreview(ctx context.Context) (snapshot.ApplyDecision, error) {
	if err := s.requireSnapshots(); err != nil {
		return "", err
	}
	var (
		snap     ir.Snapshot
		decision snapshot.ApplyDecision
	)
	err := s.Do(ctx, func(c *Canvas) error {
		var ok bool
		snap, ok = c.Previewing()
		if !ok {
			return NewInvalidError("", "no snapshot is being previewed")
		}
		var err error
		decision, err = s.snapshots.CheckApply(c.Graph(), snap)
		if err != nil {
			return err
		}
		if decision == snapshot.AlreadyApplied {
			s.exitPreview(c)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if decision == snapshot.AlreadyApplied {
		s.notify(snapshot.Info("apply", "The canvas already matches this snapshot."))
		return decision, nil
	}

	applied, err := s.snapshots.Apply(ctx, snap.ID)
	if err != nil {
		s.notify(snapshot.Notice("apply", err))
		return "", err
	}
	err = s.Do(ctx, func(c *Canvas) error {
		s.previewGen++
		if err := c.ApplySnapshot(applied); err != nil {
			return err
		}
		s.flushDeferred(c)
		return nil
	})
	if err != nil {
		return "", err
	}
	return decision, nil
}

// ListSnapshots lists the room's snapshots, newest first.
func (s *Session) ListSnapshots(ctx context.Context) ([]ir.SnapshotInfo, error) {
	if err := s.requireSnapshots(); err != nil {
		return nil, err
	}
	infos, err := s.snapshots.List(ctx)
	if err != nil {
		s.notify(snapshot.Notice("list", err))
	}
	return infos, err
}

// RenameSnapshot changes a snapshot's intent.
func (s *Session) RenameSnapshot(ctx context.Context, id, intent string) error {
	if err := s.requireSnapshots(); err != nil {
		return err
	}
	if err := s.snapshots.Rename(ctx, id, intent); err != nil {
		s.notify(snapshot.Notice("rename", err))
		return err
	}
	return nil
}

// DeleteSnapshot deletes a snapshot, leaving preview if it was shown.
func (s *Session) DeleteSnapshot(ctx context.Context, id string) error {
	if err := s.requireSnapshots(); err != nil {
		return err
	}
	if err := s.snapshots.Delete(ctx, id); err != nil {
		s.notify(snapshot.Notice("delete", err))
		return err
	}
	return s.Do(ctx, func(c *Canvas) error {
		if snap, ok := c.Previewing(); ok && snap.ID == id {
			s.exitPreview(c)
		}
		return nil
	})
}
