package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/netstat/internal/address"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/predicate"
	"github.com/roach88/netstat/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where   []string
	Order   []string
	Columns []string
	Limit   int
}

// QueryResult is the JSON payload of the query command.
type QueryResult struct {
	Address string            `json:"address"`
	Columns []string          `json:"columns"`
	Rows    []contract.Values `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <uri>",
		Short: "Query records",
		Long: `Print the records at a collection or item address.

Collections are ordered newest first unless --order is given.

Examples:
  netstat query org.pixmob.freemobile.netstat/phoneEvents --limit 10
  netstat query org.pixmob.freemobile.netstat/events \
    --where 'sync_status=0' --order timestamp --columns _id,timestamp,sync_id`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter condition (repeatable, ANDed)")
	cmd.Flags().StringArrayVar(&opts.Order, "order", nil, "order by column[:asc|:desc] (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "columns to print (comma separated)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 = no limit)")

	return cmd
}

// NewTypeCommand creates the type command.
func NewTypeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "type <uri>",
		Short: "Print the type tag of an address",
		Long: `Resolve an address against the configured layout and print its type tag.
The database is not opened.

Example:
  netstat type content://org.pixmob.freemobile.netstat/phoneEvent/3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.Config(cmd)
			if err != nil {
				return err
			}
			tag, err := address.NewResolver(cfg.Layout).TypeOf(args[0])
			if err != nil {
				return storeError("type", err)
			}
			data := map[string]any{"uri": args[0], "type": tag}
			return rootOpts.Formatter(cmd).Render(data, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, tag)
				return err
			})
		},
	}
}

func runQuery(opts *QueryOptions, uri string, cmd *cobra.Command) error {
	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cmd, st)

	addr, err := st.Resolver().Resolve(uri)
	if err != nil {
		return storeError("query", err)
	}
	where, err := parseWhere(addr.Collection, opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "query rejected", err)
	}
	var order []predicate.Order
	for _, s := range opts.Order {
		o, err := predicate.ParseOrder(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "query rejected", err)
		}
		order = append(order, o)
	}

	rows, err := st.Query(cmd.Context(), uri, store.QueryOptions{
		Projection: opts.Columns,
		Where:      where,
		OrderBy:    order,
		Limit:      opts.Limit,
	})
	if err != nil {
		return storeError("query", err)
	}
	defer rows.Close()

	result := QueryResult{
		Address: addr.String(),
		Columns: rows.Columns(),
		Rows:    rows.All(),
	}

	f := opts.Formatter(cmd)
	f.VerboseLog("%d row(s) from %s", len(result.Rows), result.Address)
	return f.Render(result, func(io.Writer) error {
		return f.Table(result.Columns, result.Rows)
	})
}
