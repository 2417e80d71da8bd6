package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the database",
		Long: `Open the configured database, creating the schema or upgrading it to the
requested version, and report the resulting version and layout.

Examples:
  netstat init --db netstat.db
  netstat init --db netstat.db --layout unified --schema-version 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	st, cfg, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cmd, st)

	version, layout, err := st.Current(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read schema version", err)
	}

	data := map[string]any{
		"path":    cfg.Database,
		"version": version,
		"layout":  string(layout),
	}
	return opts.Formatter(cmd).Render(data, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s: schema version %d, %s layout\n", cfg.Database, version, layout)
		return err
	})
}
