package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/prefs"
)

// NewCursorCommand creates the cursor command.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cursor [on|off]",
		Short: "Show or set whether your cursor is shared",
		Long: `Show or set the cursor-sharing preference.

The preference is stored in the prefs file and outlives sessions. When
it is off, joined sessions never broadcast the local pointer.`,
		Args:          cobra.MaximumNArgs(1),
		ValidArgs:     []string{"on", "off"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := NewFormatter(rootOpts, cmd)
			cfg, err := rootOpts.Config()
			if err != nil {
				return err
			}
			p, err := prefs.Open(cfg.Prefs)
			if err != nil {
				return f.Fail("failed to open preferences", err)
			}
			defer p.Close()

			if len(args) == 1 {
				var share bool
				switch args[0] {
				case "on":
					share = true
				case "off":
				default:
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid value %q: must be on or off", args[0]))
				}
				if err := p.SetBool(prefs.ShareCursor, share); err != nil {
					return f.Fail("failed to save preference", err)
				}
			}

			share, err := p.Bool(prefs.ShareCursor, cfg.Canvas.ShareCursor)
			if err != nil {
				return f.Fail("failed to read preference", err)
			}
			if f.Format == "json" {
				return f.Success(map[string]bool{"share_cursor": share})
			}
			if share {
				return f.Success("cursor sharing: on")
			}
			return f.Success("cursor sharing: off")
		},
	}
}
