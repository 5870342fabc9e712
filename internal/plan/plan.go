// Package plan determines which hourly windows should exist but do not.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

// horizon bounds the backfill search. The source's time-decorated reads
// only reach back seven days; six leaves slack.
const horizon = 6 * 24 * time.Hour

// Planner lists the missing hourly windows.
type Planner struct {
	wh            warehouse.Warehouse
	hourlyDataset string
	logger        *slog.Logger
}

// New creates a Planner over the hourly dataset.
func New(wh warehouse.Warehouse, hourlyDataset string, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{wh: wh, hourlyDataset: hourlyDataset, logger: logger}
}

// MissingWindows returns, in chronological order, the hour-aligned windows
// before "now" whose tables do not exist. The search reaches back at most
// the horizon, and never before the earliest table already in the dataset.
// When the dataset is empty the search starts at midnight today, so the
// first ever run does not backfill the whole horizon.
func (p *Planner) MissingWindows(ctx context.Context, now time.Time) ([]types.Window, error) {
	end := types.WindowAt(now)

	tables, err := p.wh.ListTables(ctx, p.hourlyDataset)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", p.hourlyDataset, err)
	}

	existing := make([]string, 0, len(tables))
	for _, id := range tables {
		if strings.HasPrefix(id, types.HourlyTablePrefix) {
			existing = append(existing, id)
		}
	}
	sort.Strings(existing)

	var start types.Window
	if len(existing) == 0 {
		midnight := now.UTC().Truncate(24 * time.Hour)
		start = types.Window{Start: midnight}
	} else {
		start = types.Window{Start: end.Start.Add(-horizon)}
	}

	exists := make(map[string]bool, len(existing))
	for _, id := range existing {
		exists[id] = true
	}

	var missing []types.Window
	for w := start; w.Start.Before(end.Start); w = w.Next() {
		name := w.HourlyTable()
		if exists[name] {
			continue
		}
		// Hours before the dataset's earliest table predate this job's
		// deployment; leave them alone.
		if len(existing) > 0 && name <= existing[0] {
			continue
		}
		missing = append(missing, w)
	}

	p.logger.Debug("planned missing windows", "count", len(missing), "horizon_start", start.String())
	return missing, nil
}
