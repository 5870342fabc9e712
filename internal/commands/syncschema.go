package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hourglass-data/hourglass/internal/config"
	"github.com/hourglass-data/hourglass/internal/schemasync"
)

// NewSyncSchemaCmd creates the sync-schema command.
func NewSyncSchemaCmd() *cobra.Command {
	var (
		verbose bool
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "sync-schema",
		Short: "Merge the latest daily table's schema into the streaming source table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncSchema(verbose, dryRun)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "log the schema update instead of applying it")
	return cmd
}

func runSyncSchema(verbose, dryRun bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dryRun {
		cfg.DryRun = true
	}
	logger := newLogger(verbose)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	wh, err := newWarehouse(ctx, cfg, logger)
	if err != nil {
		return err
	}

	source, err := cfg.SourceRef()
	if err != nil {
		return err
	}

	syncer := schemasync.New(wh, cfg.Project, cfg.DailyDataset, source, logger)
	added, err := syncer.Sync(ctx)
	if err != nil {
		return err
	}

	if len(added) == 0 {
		color.Green("Schema already up to date ✓")
	} else {
		color.Cyan("Added %d column(s) to %s", len(added), cfg.Source)
		for _, path := range added {
			fmt.Printf("  + %s\n", path)
		}
	}

	pushMetrics(cfg, logger)
	return nil
}
