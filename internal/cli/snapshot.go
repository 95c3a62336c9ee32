package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/engine"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/snapshot"
)

// SaveOutput is the JSON payload of snapshot save.
type SaveOutput struct {
	Result   snapshot.SaveResult `json:"result"`
	Snapshot *ir.SnapshotInfo    `json:"snapshot,omitempty"`
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, inspect and restore snapshots of a room",
		Long: `Manage the named snapshots of a room.

Snapshots are kept in the local database, or by the snapshot API when
api.url is configured.`,
	}

	cmd.AddCommand(newSnapshotSaveCommand(rootOpts))
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	cmd.AddCommand(newSnapshotShowCommand(rootOpts))
	cmd.AddCommand(newSnapshotRenameCommand(rootOpts))
	cmd.AddCommand(newSnapshotDeleteCommand(rootOpts))
	cmd.AddCommand(newSnapshotApplyCommand(rootOpts))
	return cmd
}

// withSnapshots runs fn on an offline session wired to the room's
// snapshot service. Session notices are collected by f.
func withSnapshots(cmd *cobra.Command, rootOpts *RootOptions, f *OutputFormatter, fn func(ctx context.Context, s *engine.Session, svc snapshot.Service) error) error {
	cfg, err := rootOpts.Config()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := snapshotService(cfg, st)
	env := sessionEnv{
		cfg:       cfg,
		store:     st,
		snapshots: newReconciler(cmd.Context(), svc),
		onNotice:  f.Notice,
	}
	return runSession(cmd.Context(), env, func(ctx context.Context, s *engine.Session) error {
		return fn(ctx, s, svc)
	})
}

func newSnapshotSaveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save <intent>",
		Short: "Save the live graph",
		Long: `Save the room's live graph under an intent.

Nothing is saved when the graph is unchanged since the newest snapshot.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			intent := strings.Join(args, " ")

			var (
				res  snapshot.SaveResult
				snap ir.Snapshot
			)
			err := withSnapshots(cmd, rootOpts, f, func(ctx context.Context, s *engine.Session, _ snapshot.Service) error {
				var err error
				res, snap, err = s.SaveSnapshot(ctx, intent)
				return err
			})
			if err != nil {
				return f.Fail("snapshot save failed", err)
			}

			out := SaveOutput{Result: res}
			if res == snapshot.Saved {
				out.Snapshot = &ir.SnapshotInfo{ID: snap.ID, Intent: snap.Intent, Hash: snap.Hash, CreatedAt: snap.CreatedAt}
			}
			if f.Format == "json" {
				return f.Success(out)
			}
			if res == snapshot.Saved {
				return f.Success(fmt.Sprintf("✓ saved %s (%s)", snap.ID, snap.Intent))
			}
			return f.Success("no changes")
		},
	}
}

func newSnapshotListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List snapshots, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			var infos []ir.SnapshotInfo
			err := withSnapshots(cmd, rootOpts, f, func(ctx context.Context, s *engine.Session, _ snapshot.Service) error {
				var err error
				infos, err = s.ListSnapshots(ctx)
				return err
			})
			if err != nil {
				return f.Fail("snapshot list failed", err)
			}
			if infos == nil {
				infos = []ir.SnapshotInfo{}
			}
			if f.Format == "json" {
				return f.Success(infos)
			}
			if len(infos) == 0 {
				return f.Success("No snapshots.")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tINTENT")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, info.CreatedAt.Format(time.RFC3339), info.Intent)
			}
			return tw.Flush()
		},
	}
}

func newSnapshotShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Print a snapshot's content",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			var snap ir.Snapshot
			err := withSnapshots(cmd, rootOpts, f, func(ctx context.Context, _ *engine.Session, svc snapshot.Service) error {
				var err error
				snap, err = svc.Get(ctx, args[0])
				return err
			})
			if err != nil {
				return f.Fail("snapshot show failed", err)
			}
			if f.Format == "json" {
				return f.Success(snap)
			}
			return f.Success(fmt.Sprintf("%s  %s\nintent: %s\nhash:   %s\nblocks: %d  links: %d",
				snap.ID, snap.CreatedAt.Format(time.RFC3339), snap.Intent, snap.Hash, len(snap.Blocks), len(snap.Links)))
		},
	}
}

func newSnapshotRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rename <id> <intent>",
		Short:         "Change a snapshot's intent",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			intent := strings.Join(args[1:], " ")
			err := withSnapshots(cmd, rootOpts, f, func(ctx context.Context, s *engine.Session, _ snapshot.Service) error {
				return s.RenameSnapshot(ctx, args[0], intent)
			})
			if err != nil {
				return f.Fail("snapshot rename failed", err)
			}
			return f.Success(fmt.Sprintf("✓ renamed %s", args[0]))
		},
	}
}

func newSnapshotDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a snapshot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			err := withSnapshots(cmd, rootOpts, f, func(ctx context.Context, s *engine.Session, _ snapshot.Service) error {
				return s.DeleteSnapshot(ctx, args[0])
			})
			if err != nil {
				return f.Fail("snapshot delete failed", err)
			}
			return f.Success(fmt.Sprintf("✓ deleted %s", args[0]))
		},
	}
}

func newSnapshotApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <id>",
		Short: "Restore the room's graph from a snapshot",
		Long: `Preview a snapshot and apply it to the room's live graph.

When the live graph already matches the snapshot nothing is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			var decision snapshot.ApplyDecision
			err := withSnapshots(cmd, rootOpts, f, func(ctx context.Context, s *engine.Session, _ snapshot.Service) error {
				if err := s.PreviewSnapshot(ctx, args[0]); err != nil {
					return err
				}
				var err error
				decision, err = s.ApplyPreview(ctx)
				return err
			})
			if err != nil {
				return f.Fail("snapshot apply failed", err)
			}
			if f.Format == "json" {
				return f.Success(map[string]any{"id": args[0], "decision": decision})
			}
			if decision == snapshot.AlreadyApplied {
				return f.Success("already applied")
			}
			return f.Success(fmt.Sprintf("✓ applied %s", args[0]))
		},
	}
}
