package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/api"
	"github.com/roach88/tessera/internal/config"
	"github.com/roach88/tessera/internal/engine"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/prefs"
	"github.com/roach88/tessera/internal/snapshot"
	"github.com/roach88/tessera/internal/store"
	"github.com/roach88/tessera/internal/transport"
)

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	var listen, redisURL string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the websocket relay and the snapshot API",
		Long: `Serve the update relay, the snapshot and upload API and the uploaded
files on one address.

Routes:
  GET    /rooms/{room}/ws                websocket relay
  GET    /rooms/{room}/snapshots         list snapshots
  POST   /rooms/{room}/snapshots         create a snapshot
  GET    /rooms/{room}/snapshots/{id}    fetch a snapshot
  PATCH  /rooms/{room}/snapshots/{id}    rename a snapshot
  DELETE /rooms/{room}/snapshots/{id}    delete a snapshot
  POST   /rooms/{room}/snapshots/{id}/apply
  POST   /rooms/{room}/files             upload a file
  GET    /files/{room}/{name}            uploaded files
  GET    /healthz

With --redis, rooms are shared with every relay on the same Redis.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.Config()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			if redisURL != "" {
				cfg.Relay.Redis = redisURL
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			relayOpts := []transport.RelayOption{transport.WithRelaySettings(relaySettings(cfg))}
			if cfg.Relay.Redis != "" {
				opt, err := redis.ParseURL(cfg.Relay.Redis)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid redis URL", err)
				}
				rdb := redis.NewClient(opt)
				defer rdb.Close()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return WrapExitError(ExitCommandError, "redis unreachable", err)
				}
				relayOpts = append(relayOpts, transport.WithFanout(
					transport.NewRedisFanout(rdb, cfg.Relay.ChannelPrefix, slog.Default())))
			}

			router := newRelayRouter(transport.NewRelay(relayOpts...), newAPIServer(cfg, st), cfg.API.UploadsDir)
			err = transport.Serve(ctx, cfg.Relay.Listen, router, slog.Default())
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return WrapExitError(ExitCommandError, "relay failed", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&redisURL, "redis", "", "redis URL for multi-instance fanout (overrides config)")
	return cmd
}

// relaySettings derives relay timeouts from the config. Reads time out
// after two missed pings.
func relaySettings(cfg config.Config) transport.RelaySettings {
	s := transport.DefaultRelaySettings()
	if cfg.Relay.PingInterval > 0 {
		s.PingInterval = cfg.Relay.PingInterval
		s.ReadTimeout = 2 * cfg.Relay.PingInterval
	}
	if cfg.Relay.WriteTimeout > 0 {
		s.WriteTimeout = cfg.Relay.WriteTimeout
	}
	return s
}

func newAPIServer(cfg config.Config, st *store.Store) *api.Server {
	return api.NewServer(
		api.SnapshotsFunc(func(room string) snapshot.Service { return st.Snapshots(room) }),
		api.WithToken(cfg.API.Token),
		api.WithFiles(api.DirFiles{Root: cfg.API.UploadsDir, BaseURL: "/files"}),
	)
}

// newRelayRouter mounts the relay, the API and the uploaded files on one
// router.
func newRelayRouter(relay *transport.Relay, server *api.Server, uploadsDir string) *mux.Router {
	r := mux.NewRouter()
	relay.Register(r)
	server.Register(r)
	r.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(uploadsDir))))
	return r
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	var relayURL string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Mirror a room from the relay into the local database",
		Long: `Join a room through the relay as a headless replica.

The replica catches up from its local update log and from its peers,
persists every update it sees and keeps running until interrupted.
Cursor sharing follows the preference set with "tessera cursor".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.Config()
			if err != nil {
				return err
			}
			if relayURL != "" {
				cfg.Relay.URL = relayURL
			}
			if cfg.Relay.URL == "" {
				return NewExitError(ExitCommandError, "relay URL is required (--relay or relay.url)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return join(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&relayURL, "relay", "", "relay base URL, e.g. ws://localhost:8080 (overrides config)")
	return cmd
}

func join(ctx context.Context, cfg config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := prefs.Open(cfg.Prefs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open preferences", err)
	}
	defer p.Close()

	client, err := transport.Dial(ctx, roomURL(cfg.Relay.URL, cfg.Room), cfg.Actor)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reach relay", err)
	}

	svc := snapshotService(cfg, st)
	opts := []engine.SessionOption{
		engine.WithRoom(cfg.Room),
		engine.WithTransport(client),
		engine.WithUpdateLog(st),
		engine.WithPrefs(p),
		engine.WithDisplayName(cfg.Name),
		engine.WithSnapshots(newReconciler(ctx, svc)),
	}
	if c, ok := svc.(*api.Client); ok {
		opts = append(opts, engine.WithUploader(c))
	}
	s := engine.NewSession(engine.New(cfg.Actor, engine.WithConfig(cfg.Engine())), opts...)
	s.OnNotice(func(n ir.Notice) {
		slog.Info("notice", "kind", n.Kind, "op", n.Op, "message", n.Message)
	})
	s.OnView(func(v engine.View) {
		slog.Debug("view updated",
			"revision", v.Revision,
			"blocks", len(v.Blocks),
			"links", len(v.Links))
	})
	defer s.Close()

	slog.Info("joined room", "room", cfg.Room, "actor", cfg.Actor, "relay", cfg.Relay.URL)
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// roomURL returns the websocket endpoint of room on the relay at base.
func roomURL(base, room string) string {
	return strings.TrimRight(base, "/") + "/rooms/" + url.PathEscape(room) + "/ws"
}
