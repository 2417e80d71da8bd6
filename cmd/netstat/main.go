// Command netstat records and queries connectivity events in a local
// SQLite store.
package main

import (
	"os"

	"github.com/roach88/netstat/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		cli.Report(root, err)
		os.Exit(cli.GetExitCode(err))
	}
}
