package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/netstat/internal/contract"
)

// WriteOptions holds flags for the insert, update and delete commands.
type WriteOptions struct {
	*RootOptions
	Set   []string
	Where []string

	// Now supplies the default timestamp of inserted records (for testing).
	// If nil, defaults to time.Now.
	Now func() time.Time
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert <collection-uri>",
		Short: "Insert a record",
		Long: `Insert one record into a collection.

timestamp defaults to the current time, sync_id to a fresh UUIDv7 and
sync_status to 0 (pending). Every other NOT NULL column must be set.

Example:
  netstat insert org.pixmob.freemobile.netstat/phoneEvents \
    --set mobile_enabled=true --set mobile_roaming=false --set mobile_operator=Free`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "column=value (repeatable)")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <uri>",
		Short: "Update records",
		Long: `Set columns on the records at a collection or item address.

Example:
  netstat update org.pixmob.freemobile.netstat/phoneEvents \
    --set sync_status=1 --where 'sync_id=0190c2a4-...'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "column=value (repeatable, required)")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter condition (repeatable, ANDed)")
	_ = cmd.MarkFlagRequired("set")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <uri>",
		Short: "Delete records",
		Long: `Delete the records at a collection or item address.

Example:
  netstat delete org.pixmob.freemobile.netstat/phoneEvents --where 'sync_status=1'
  netstat delete org.pixmob.freemobile.netstat/phoneEvent/7`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter condition (repeatable, ANDed)")

	return cmd
}

func (o *WriteOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// insertDefaults fills the bookkeeping columns the caller left unset.
func insertDefaults(coll *contract.Collection, values contract.Values, now time.Time) {
	if _, ok := values[contract.ColumnTimestamp]; !ok && coll.HasColumn(contract.ColumnTimestamp) {
		values[contract.ColumnTimestamp] = contract.Millis(now)
	}
	if _, ok := values[contract.ColumnSyncID]; !ok && coll.HasColumn(contract.ColumnSyncID) {
		values[contract.ColumnSyncID] = contract.NewSyncID()
	}
	if _, ok := values[contract.ColumnSyncStatus]; !ok && coll.HasColumn(contract.ColumnSyncStatus) {
		values[contract.ColumnSyncStatus] = int64(contract.SyncPending)
	}
}

func runInsert(opts *WriteOptions, uri string, cmd *cobra.Command) error {
	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cmd, st)

	addr, err := st.Resolver().Resolve(uri)
	if err != nil {
		return storeError("insert", err)
	}
	values, err := parseAssignments(addr.Collection, opts.Set)
	if err != nil {
		return WrapExitError(ExitCommandError, "insert rejected", err)
	}
	insertDefaults(addr.Collection, values, opts.now())

	res, err := st.Insert(cmd.Context(), uri, values)
	if err != nil {
		return storeError("insert", err)
	}

	data := map[string]any{"address": res.Address, "id": res.ID}
	return opts.Formatter(cmd).Render(data, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "inserted %s (id %d)\n", res.Address, res.ID)
		return err
	})
}

func runUpdate(opts *WriteOptions, uri string, cmd *cobra.Command) error {
	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cmd, st)

	addr, err := st.Resolver().Resolve(uri)
	if err != nil {
		return storeError("update", err)
	}
	values, err := parseAssignments(addr.Collection, opts.Set)
	if err != nil {
		return WrapExitError(ExitCommandError, "update rejected", err)
	}
	where, err := parseWhere(addr.Collection, opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "update rejected", err)
	}

	n, err := st.Update(cmd.Context(), uri, values, where)
	if err != nil {
		return storeError("update", err)
	}
	return renderCount(opts.RootOptions, cmd, "updated", addr.String(), n)
}

func runDelete(opts *WriteOptions, uri string, cmd *cobra.Command) error {
	st, _, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cmd, st)

	addr, err := st.Resolver().Resolve(uri)
	if err != nil {
		return storeError("delete", err)
	}
	where, err := parseWhere(addr.Collection, opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "delete rejected", err)
	}

	n, err := st.Delete(cmd.Context(), uri, where)
	if err != nil {
		return storeError("delete", err)
	}
	return renderCount(opts.RootOptions, cmd, "deleted", addr.String(), n)
}

func renderCount(opts *RootOptions, cmd *cobra.Command, verb, address string, n int64) error {
	data := map[string]any{"address": address, "count": n}
	return opts.Formatter(cmd).Render(data, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s %d row(s) at %s\n", verb, n, address)
		return err
	})
}
