package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hourglass-data/hourglass/internal/alert"
	"github.com/hourglass-data/hourglass/internal/config"
	"github.com/hourglass-data/hourglass/internal/orchestrator"
	"github.com/hourglass-data/hourglass/internal/plan"
	"github.com/hourglass-data/hourglass/internal/validate"
	"github.com/hourglass-data/hourglass/internal/waiter"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		verbose     bool
		dryRun      bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consolidate all missing hourly tables and fold them into daily tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsolidation(verbose, dryRun, interactive)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "log mutations instead of executing them")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "run queries at interactive priority")
	return cmd
}

func runConsolidation(verbose, dryRun, interactive bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dryRun {
		cfg.DryRun = true
	}
	if interactive {
		cfg.Interactive = true
	}

	logger := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wh, err := newWarehouse(ctx, cfg, logger)
	if err != nil {
		return err
	}

	source, err := cfg.SourceRef()
	if err != nil {
		return err
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("configuring alerts: %w", err)
	}

	probe := waiter.NewWarehouseProbe(wh, source, logger)
	orch := orchestrator.New(
		orchestrator.Config{
			Project:         cfg.Project,
			HourlyDataset:   cfg.HourlyDataset,
			DailyDataset:    cfg.DailyDataset,
			Source:          source,
			FragmentModules: cfg.FragmentModules,
			Interactive:     cfg.Interactive,
			DryRun:          cfg.DryRun,
		},
		wh,
		orchestrator.Deps{
			Waiter:    waiter.New(probe, waiter.SystemClock, logger),
			Validator: validate.New(wh, logger),
			Planner:   plan.New(wh, cfg.HourlyDataset, logger),
			Logger:    logger,
			AlertFn:   dispatcher.AlertFunc(),
		},
	)

	runErr := orch.Run(ctx)
	pushMetrics(cfg, logger)
	return runErr
}
