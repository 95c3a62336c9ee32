package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/engine"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/schema"
)

// GraphSummary describes a validated graph document.
type GraphSummary struct {
	Valid  bool   `json:"valid"`
	Blocks int    `json:"blocks"`
	Links  int    `json:"links"`
	Digest string `json:"digest,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.json>",
		Short: "Validate a graph document",
		Long: `Validate a JSON graph document against the canvas schema.

Checks block types, positions and payload fields, then the graph
invariants: unique ids, at most one core block, no dangling or
self-referencing links.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			g, err := loadGraph(args[0])
			if err != nil {
				return f.Fail("graph invalid", err)
			}
			if f.Format == "json" {
				return f.Success(GraphSummary{Valid: true, Blocks: len(g.Blocks), Links: len(g.Links)})
			}
			return f.Success(fmt.Sprintf("✓ graph valid (%d blocks, %d links)", len(g.Blocks), len(g.Links)))
		},
	}
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "digest <graph.json>",
		Short: "Print the content digest of a graph document",
		Long: `Print the digest snapshot saves are compared by.

Two documents have the same digest exactly when they hold the same
blocks and links, regardless of their order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			g, err := loadGraph(args[0])
			if err != nil {
				return f.Fail("graph invalid", err)
			}
			digest, err := ir.GraphDigest(g.Blocks, g.Links)
			if err != nil {
				return f.Fail("digest failed", err)
			}
			if f.Format == "json" {
				return f.Success(GraphSummary{Valid: true, Blocks: len(g.Blocks), Links: len(g.Links), Digest: digest})
			}
			return f.Success(digest)
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <graph.json>",
		Short: "Replace the room's graph with a document",
		Long: `Validate a graph document and replace the room's live graph with it.

The replacement is written to the room's update log as one transaction,
so replicas that sync later receive it like any other edit.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return f.Fail("failed to read graph", err)
			}
			cfg, err := rootOpts.Config()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var g ir.Graph
			err = runSession(cmd.Context(), sessionEnv{cfg: cfg, store: st}, func(ctx context.Context, s *engine.Session) error {
				if err := s.ImportGraph(ctx, args[0], data); err != nil {
					return err
				}
				g, err = s.Graph(ctx)
				return err
			})
			if err != nil {
				return f.Fail("import failed", err)
			}
			if f.Format == "json" {
				return f.Success(GraphSummary{Valid: true, Blocks: len(g.Blocks), Links: len(g.Links)})
			}
			return f.Success(fmt.Sprintf("✓ imported %d blocks and %d links into room %s", len(g.Blocks), len(g.Links), cfg.Room))
		},
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the room's graph as a document",
		Long: `Replay the room's update log and write the live graph as JSON.

The output is accepted by import and validate.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			cfg, err := rootOpts.Config()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var g ir.Graph
			err = runSession(cmd.Context(), sessionEnv{cfg: cfg, store: st}, func(ctx context.Context, s *engine.Session) error {
				g, err = s.Graph(ctx)
				return err
			})
			if err != nil {
				return f.Fail("export failed", err)
			}

			data, err := json.MarshalIndent(g, "", "  ")
			if err != nil {
				return f.Fail("export failed", err)
			}
			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
				return f.Fail("failed to write graph", err)
			}
			f.VerboseLog("wrote %d blocks and %d links to %s", len(g.Blocks), len(g.Links), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

// loadGraph reads and validates a graph document.
func loadGraph(path string) (ir.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Graph{}, err
	}
	v, err := schema.New()
	if err != nil {
		return ir.Graph{}, err
	}
	return v.Validate(path, data)
}
