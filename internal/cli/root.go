// Package cli implements the netstat command-line interface.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/netstat/internal/config"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath    string
	Database      string
	Layout        string
	SchemaVersion int
	ReadOnly      bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the netstat CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "netstat",
		Short: "netstat - connectivity event store",
		Long: `Record, query and reconcile connectivity events in a local SQLite store.

Settings are read from defaults, the --config file, NETSTAT_* environment
variables and finally the flags below, each overriding the previous.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.Database, "db", "", "path to the SQLite database")
	flags.StringVar(&opts.Layout, "layout", "", "collection layout (split|unified)")
	flags.IntVar(&opts.SchemaVersion, "schema-version", 0, "requested schema version")
	flags.BoolVar(&opts.ReadOnly, "read-only", false, "open the database read-only")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewTypeCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Config resolves the effective settings for cmd: config.Load followed by
// every global flag set on the command line.
func (o *RootOptions) Config(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = o.Database
	}
	if flags.Changed("layout") {
		cfg.Layout = contract.Layout(o.Layout)
	}
	if flags.Changed("schema-version") {
		cfg.SchemaVersion = o.SchemaVersion
	}
	if flags.Changed("read-only") {
		cfg.ReadOnly = o.ReadOnly
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// Logger returns a text logger on the command's error stream. Verbose
// enables debug records.
func (o *RootOptions) Logger(cmd *cobra.Command) *slog.Logger {
	logLevel := slog.LevelInfo
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// Formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) Formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openStore opens the configured database, creating or upgrading its schema.
// The caller closes the store.
func (o *RootOptions) openStore(cmd *cobra.Command) (*store.Store, config.Config, error) {
	cfg, err := o.Config(cmd)
	if err != nil {
		return nil, config.Config{}, err
	}

	logger := o.Logger(cmd)
	logger.Debug("opening database", "path", cfg.Database, "layout", string(cfg.Layout), "version", cfg.SchemaVersion)
	st, err := store.Open(cmd.Context(), cfg.Database, store.Options{
		Version:  cfg.SchemaVersion,
		Layout:   cfg.Layout,
		ReadOnly: cfg.ReadOnly,
		Logger:   logger,
	})
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, cfg, nil
}

// closeStore closes st, logging instead of failing the command.
func closeStore(cmd *cobra.Command, st *store.Store) {
	if err := st.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error closing database: %v\n", err)
	}
}
