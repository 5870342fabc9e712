// Package commands implements the CLI subcommands for the hourglass binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hourglass-data/hourglass/internal/config"
	"github.com/hourglass-data/hourglass/internal/metrics"
	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/internal/warehouse/bigquery"
	"github.com/hourglass-data/hourglass/internal/warehouse/bqcli"
)

// newLogger builds the process logger. Verbose enables debug records,
// including the per-window stage transitions.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newWarehouse creates the configured warehouse adapter, wrapped with the
// circuit breaker and, in dry-run mode, the mutation-suppressing layer.
func newWarehouse(ctx context.Context, cfg *config.Config, logger *slog.Logger) (warehouse.Warehouse, error) {
	var wh warehouse.Warehouse
	switch cfg.Backend {
	case "bigquery":
		client, err := bigquery.New(ctx, cfg.Project, logger)
		if err != nil {
			return nil, fmt.Errorf("creating bigquery client: %w", err)
		}
		wh = client
	case "bqcli":
		wh = bqcli.New(cfg.BQPath, cfg.Project, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}

	wh = warehouse.NewBreaker(wh, logger)
	if cfg.DryRun {
		logger.Warn("dry-run mode, mutations will be logged but not executed")
		wh = warehouse.NewDryRun(wh, logger)
	}
	return wh, nil
}

// pushMetrics flushes run counters to the Pushgateway when configured.
// A push failure is logged, never fatal; metrics must not take down a
// finished run.
func pushMetrics(cfg *config.Config, logger *slog.Logger) {
	if cfg.Metrics.GatewayURL == "" {
		return
	}
	pusher, err := metrics.NewPusher(cfg.Metrics.GatewayURL, cfg.Metrics.Job)
	if err != nil {
		logger.Error("creating metrics pusher", "error", err)
		return
	}
	if err := pusher.Flush(); err != nil {
		logger.Error("pushing metrics", "error", err)
	}
}
