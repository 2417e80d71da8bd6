package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/netstat/internal/batchfile"
)

// BatchResult is the JSON payload of the batch command.
type BatchResult struct {
	Results []BatchOpResult `json:"results"`
	Changes []BatchChange   `json:"changes"`
}

// BatchOpResult is the outcome of one operation of an applied batch.
type BatchOpResult struct {
	Op      string `json:"op"`
	Address string `json:"address"`
	ID      int64  `json:"id,omitempty"`
	Count   int64  `json:"count"`
}

// BatchChange is a change notification observed while the batch was applied.
type BatchChange struct {
	Seq         uint64   `json:"seq"`
	Identifiers []string `json:"identifiers"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file>",
		Short: "Apply a batch file atomically",
		Long: `Apply the operations of a YAML, JSON or CUE batch file in one transaction.

Either every operation takes effect or none does. A failing operation is
reported with its index. Later operations can reference rows inserted earlier
in the same batch with key_ref and value_refs.

Example batch.yaml:
  operations:
    - op: insert
      uri: org.pixmob.freemobile.netstat/events
      values: {timestamp: 1704067200000, mobile_enabled: true, mobile_roaming: false,
               sync_id: 0190c2a4-0000-7000-8000-000000000001, sync_status: 0}
    - op: update
      uri: org.pixmob.freemobile.netstat/events
      key_ref: 0
      values: {sync_status: 1}

Example:
  netstat batch batch.yaml --layout unified`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(rootOpts, args[0], cmd)
		},
	}
}

func runBatch(opts *RootOptions, path string, cmd *cobra.Command) error {
	doc, err := batchfile.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid batch file", err)
	}
	ops, err := doc.Operations()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid batch file", err)
	}

	st, cfg, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore(cmd, st)

	sub := st.Changes().Subscribe("", cfg.NotifyBuffer)
	defer sub.Cancel()

	results, err := st.ApplyBatch(cmd.Context(), ops)
	if err != nil {
		return storeError("batch", err)
	}

	out := BatchResult{
		Results: make([]BatchOpResult, len(results)),
		Changes: []BatchChange{},
	}
	for i, r := range results {
		out.Results[i] = BatchOpResult{
			Op:      ops[i].Kind.String(),
			Address: r.Address,
			ID:      r.ID,
			Count:   r.Count,
		}
	}
	for _, c := range sub.Drain() {
		out.Changes = append(out.Changes, BatchChange{Seq: c.Seq, Identifiers: c.Identifiers})
	}

	return opts.Formatter(cmd).Render(out, func(w io.Writer) error {
		for i, r := range out.Results {
			if r.ID != 0 {
				fmt.Fprintf(w, "[%d] %s %s (id %d)\n", i, r.Op, r.Address, r.ID)
				continue
			}
			fmt.Fprintf(w, "[%d] %s %s (%d row(s))\n", i, r.Op, r.Address, r.Count)
		}
		for _, c := range out.Changes {
			fmt.Fprintf(w, "changed: %s\n", strings.Join(c.Identifiers, ", "))
		}
		return nil
	})
}
