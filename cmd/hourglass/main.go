package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hourglass-data/hourglass/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "hourglass",
		Short: "Consolidate streaming request logs into hourly and daily tables",
		Long: `Hourglass folds a continuously streamed request-log table into
consolidated batch tables: one table per hour, appended into one table per
day. It waits for the stream to catch up, reassembles log lines that arrive
as fragments, checks every hour for delivery gaps before publishing, and
keeps the daily schema a superset of everything the stream has ever sent.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewRunCmd(),
		commands.NewStatusCmd(),
		commands.NewSyncSchemaCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
