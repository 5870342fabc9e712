// Package schemasync keeps the streaming source table's schema a
// superset of the consolidated daily tables. Consolidation adds columns
// to the daily tables as they show up in the logs; syncing them back
// onto the source table keeps queries that span both layers working.
package schemasync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hourglass-data/hourglass/internal/metrics"
	"github.com/hourglass-data/hourglass/internal/schema"
	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

// Syncer merges the latest daily table's schema into the source table.
type Syncer struct {
	wh           warehouse.Warehouse
	project      string
	dailyDataset string
	source       warehouse.TableRef
	logger       *slog.Logger
}

// New creates a Syncer.
func New(wh warehouse.Warehouse, project, dailyDataset string, source warehouse.TableRef, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{wh: wh, project: project, dailyDataset: dailyDataset, source: source, logger: logger}
}

// latestDaily finds the most recent consolidated daily table.
func (s *Syncer) latestDaily(ctx context.Context) (warehouse.TableRef, error) {
	names, err := s.wh.ListTables(ctx, s.dailyDataset)
	if err != nil {
		return warehouse.TableRef{}, fmt.Errorf("listing %s.%s: %w", s.project, s.dailyDataset, err)
	}

	var daily []string
	for _, n := range names {
		// Daily names are requestlogs_YYYYMMDD; hourly names carry an
		// extra _HH suffix and scratch tables a __suffix.
		if strings.HasPrefix(n, types.HourlyTablePrefix) && len(n) == len(types.HourlyTablePrefix)+8 {
			daily = append(daily, n)
		}
	}
	if len(daily) == 0 {
		return warehouse.TableRef{}, fmt.Errorf("no daily tables in %s.%s", s.project, s.dailyDataset)
	}
	sort.Strings(daily)
	return warehouse.TableRef{Project: s.project, Dataset: s.dailyDataset, Table: daily[len(daily)-1]}, nil
}

// Sync merges the latest daily schema into the source table's schema and
// applies the result. Returns the dotted paths of the columns added, or
// an empty slice when the source was already up to date.
func (s *Syncer) Sync(ctx context.Context) ([]string, error) {
	latest, err := s.latestDaily(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("syncing schema", "source", s.source.String(), "latest_daily", latest.String())

	var sourceSchema, dailySchema schema.FieldList
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceSchema, err = s.wh.GetSchema(gctx, s.source)
		if err != nil {
			return fmt.Errorf("fetching source schema: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dailySchema, err = s.wh.GetSchema(gctx, latest)
		if err != nil {
			return fmt.Errorf("fetching daily schema: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := schema.Normalize(schema.Merge(sourceSchema, dailySchema))
	added := schema.Diff(sourceSchema, merged)
	if len(added) == 0 {
		s.logger.Info("source schema already up to date", "source", s.source.String())
		return []string{}, nil
	}

	s.logger.Info("adding columns to source table",
		"source", s.source.String(), "columns", strings.Join(added, ", "))
	if err := s.wh.UpdateSchema(ctx, s.source, merged); err != nil {
		return nil, fmt.Errorf("updating source schema: %w", err)
	}
	metrics.SchemaUpdates.Add(1)
	return added, nil
}
