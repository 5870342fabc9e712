package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hourglass-data/hourglass/internal/config"
	"github.com/hourglass-data/hourglass/internal/plan"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which hourly tables are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runStatus(verbose bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(verbose)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	wh, err := newWarehouse(ctx, cfg, logger)
	if err != nil {
		return err
	}

	planner := plan.New(wh, cfg.HourlyDataset, logger)
	windows, err := planner.MissingWindows(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("planning windows: %w", err)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Dataset %s:%s\n", cfg.Project, cfg.HourlyDataset)
	if len(windows) == 0 {
		color.Green("  All hourly tables up to date ✓")
		return nil
	}

	color.Yellow("  %d hourly table(s) missing:", len(windows))
	for _, w := range windows {
		fmt.Printf("    %s  (%s)\n", w.HourlyTable(), w.String())
	}
	return nil
}
