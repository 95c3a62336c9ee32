package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/config"
	"github.com/roach88/tessera/internal/engine"
)

// DefaultConfigPath is read when --config is not given. It may be absent.
const DefaultConfigPath = "tessera.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Room and Database override the config file when set.
	Room     string
	Database string

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tessera CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tessera",
		Short: "tessera - collaborative canvas state",
		Long:  "Reconcile, persist and relay the shared state of collaborative block canvases.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			slog.SetDefault(opts.Logger(cmd.ErrOrStderr()))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "config file")
	cmd.PersistentFlags().StringVar(&opts.Room, "room", "", "room id (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDigestCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Config loads the configuration once and applies flag overrides. The
// default config path may be missing; an explicit one may not.
func (o *RootOptions) Config() (config.Config, error) {
	if o.cfg != nil {
		return *o.cfg, nil
	}

	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		cfg, err = config.Load(o.ConfigPath, o.ConfigPath == DefaultConfigPath)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if o.Room != "" {
		cfg.Room = o.Room
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if cfg.Actor == "" {
		cfg.Actor = engine.UUIDv7Generator{}.Generate()
	}
	o.cfg = &cfg
	return cfg, nil
}

// Logger returns a text logger on w; --verbose switches it to debug level.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
