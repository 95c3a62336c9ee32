package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tessera/internal/api"
	"github.com/roach88/tessera/internal/config"
	"github.com/roach88/tessera/internal/engine"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/snapshot"
	"github.com/roach88/tessera/internal/store"
)

// sessionEnv describes the offline session a command runs against.
type sessionEnv struct {
	cfg       config.Config
	store     *store.Store
	snapshots *snapshot.Reconciler
	onNotice  func(ir.Notice)
}

// openStore opens the configured database.
func openStore(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// snapshotService picks the remote snapshot API when one is configured
// and the local store otherwise.
func snapshotService(cfg config.Config, st *store.Store) snapshot.Service {
	if cfg.API.URL != "" {
		return api.NewClient(cfg.API.URL, cfg.Room, api.WithBearer(cfg.API.Token))
	}
	return st.Snapshots(cfg.Room)
}

// newReconciler wraps svc, seeding the last digest from the newest
// snapshot so an unchanged graph is not saved twice across runs.
func newReconciler(ctx context.Context, svc snapshot.Service) *snapshot.Reconciler {
	var opts []snapshot.Option
	infos, err := svc.List(ctx)
	if err != nil {
		slog.Debug("snapshot list unavailable, save-skip disabled", "error", err)
	} else if len(infos) > 0 {
		opts = append(opts, snapshot.WithLastDigest(infos[0].Hash))
	}
	return snapshot.New(svc, opts...)
}

// runSession starts an offline session over the room's update log, calls
// fn on it and shuts it down. Updates committed by fn are persisted
// before runSession returns.
func runSession(ctx context.Context, env sessionEnv, fn func(ctx context.Context, s *engine.Session) error) error {
	c := engine.New(env.cfg.Actor, engine.WithConfig(env.cfg.Engine()))
	opts := []engine.SessionOption{
		engine.WithRoom(env.cfg.Room),
		engine.WithUpdateLog(env.store),
		engine.WithDisplayName(env.cfg.Name),
	}
	if env.snapshots != nil {
		opts = append(opts, engine.WithSnapshots(env.snapshots))
	}
	s := engine.NewSession(c, opts...)
	if env.onNotice != nil {
		s.OnNotice(env.onNotice)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx)
	}()

	fnErr := fn(ctx, s)
	if err := engine.Settle(ctx, s); err != nil && fnErr == nil && !errors.Is(err, engine.ErrSessionClosed) {
		fnErr = err
	}
	s.Close()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session: %w", err)
	}
	return fnErr
}
