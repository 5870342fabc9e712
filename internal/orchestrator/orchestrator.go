// Package orchestrator drives the end-to-end build of hourly tables:
// plan the missing windows, wait for the source, join the fragments,
// validate the result, and publish into the daily table. Windows are
// processed strictly in chronological order; each window's publish can
// mutate the daily schema the next window depends on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hourglass-data/hourglass/internal/join"
	"github.com/hourglass-data/hourglass/internal/metrics"
	"github.com/hourglass-data/hourglass/internal/plan"
	"github.com/hourglass-data/hourglass/internal/schema"
	"github.com/hourglass-data/hourglass/internal/validate"
	"github.com/hourglass-data/hourglass/internal/waiter"
	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

// defaultTempTTL keeps scratch join tables alive long enough for the merge
// query, then lets the warehouse reap them.
const defaultTempTTL = 50 * time.Minute

// Config is the immutable run configuration.
type Config struct {
	// Project hosting the hourly and daily datasets.
	Project string
	// HourlyDataset receives the per-hour tables and scratch tables.
	HourlyDataset string
	// DailyDataset receives the accumulated daily tables.
	DailyDataset string
	// Source is the streaming source table.
	Source warehouse.TableRef
	// FragmentModules are the module ids whose requests need reassembly.
	FragmentModules []string
	// Interactive runs queries at interactive instead of batch priority.
	Interactive bool
	// DryRun marks a run whose mutations are suppressed by the warehouse
	// layer. Steps that read tables this run would have written are
	// skipped, since those tables never materialize.
	DryRun bool
	// TempTableTTL overrides the scratch table expiry.
	TempTableTTL time.Duration
}

// Deps are the orchestrator's collaborators. Nil Logger, Clock, and
// AlertFn get safe defaults.
type Deps struct {
	Waiter    *waiter.Waiter
	Validator *validate.Validator
	Planner   *plan.Planner
	Clock     waiter.Clock
	Logger    *slog.Logger
	AlertFn   func(types.Alert)
}

// Orchestrator builds missing hourly tables and publishes them.
type Orchestrator struct {
	cfg       Config
	wh        warehouse.Warehouse
	waiter    *waiter.Waiter
	validator *validate.Validator
	planner   *plan.Planner
	clock     waiter.Clock
	logger    *slog.Logger
	alertFn   func(types.Alert)
}

// New creates an Orchestrator.
func New(cfg Config, wh warehouse.Warehouse, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = waiter.SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.TempTableTTL == 0 {
		cfg.TempTableTTL = defaultTempTTL
	}
	return &Orchestrator{
		cfg:       cfg,
		wh:        wh,
		waiter:    deps.Waiter,
		validator: deps.Validator,
		planner:   deps.Planner,
		clock:     deps.Clock,
		logger:    deps.Logger,
		alertFn:   deps.AlertFn,
	}
}

func (o *Orchestrator) hourlyRef(w types.Window) warehouse.TableRef {
	return warehouse.TableRef{Project: o.cfg.Project, Dataset: o.cfg.HourlyDataset, Table: w.HourlyTable()}
}

func (o *Orchestrator) dailyRef(w types.Window) warehouse.TableRef {
	return warehouse.TableRef{Project: o.cfg.Project, Dataset: o.cfg.DailyDataset, Table: w.DailyTable()}
}

// Run builds every missing window before "now", in order. Cancellation
// stops the run after cleaning up the in-progress window; any other
// window-level failure is reported and the run moves on to the next
// window, so one bad hour cannot wedge the whole backlog.
func (o *Orchestrator) Run(ctx context.Context) error {
	now := o.clock.Now()
	windows, err := o.planner.MissingWindows(ctx, now)
	if err != nil {
		return fmt.Errorf("planning windows: %w", err)
	}
	metrics.WindowsPlanned.Add(int64(len(windows)))

	names := make([]string, len(windows))
	for i, w := range windows {
		names[i] = w.HourlyTable()
	}
	o.logger.Info("building hourly tables", "count", len(windows), "tables", strings.Join(names, ", "))

	var aborted int
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}

		o.logger.Info("processing window", "window", w.String())
		err := o.BuildWindow(ctx, w)
		if err == nil {
			o.logger.Info("done processing window", "window", w.String())
			continue
		}

		metrics.WindowsAborted.Add(1)
		o.fireAlert(types.Alert{
			Level:     types.AlertLevelError,
			Window:    w.String(),
			Stage:     types.StageAborted,
			Message:   fmt.Sprintf("window %s aborted: %v", w, err),
			Timestamp: o.clock.Now(),
		})

		if isCancellation(err) {
			o.logger.Info("cancelled, stopping run", "window", w.String())
			return err
		}
		aborted++
		o.logger.Error("error building window, moving on", "window", w.String(), "error", err)
	}

	// Every window got its attempt, but the process must still exit
	// non-zero when any of them could not be built.
	if aborted > 0 {
		return fmt.Errorf("%d window(s) aborted", aborted)
	}
	return nil
}

// BuildWindow builds a single window. A table that already exists is
// treated as done: the existence check is the pipeline's sole idempotency
// and mutual-exclusion mechanism, which is also why failures must never
// leave a partial table behind.
func (o *Orchestrator) BuildWindow(ctx context.Context, w types.Window) error {
	hourly := o.hourlyRef(w)

	exists, err := o.wh.Exists(ctx, hourly)
	if err != nil {
		return fmt.Errorf("checking %s: %w", hourly, err)
	}
	if exists {
		metrics.WindowsSkipped.Add(1)
		o.logger.Warn("hourly table already exists, skipping", "table", hourly.String())
		return nil
	}

	err = o.buildOnce(ctx, w, false)

	if validate.IsIncomplete(err) && ctx.Err() == nil {
		// The missing rows may just be way out of order, delivered long
		// after the hour. Search the source all the way to the present.
		metrics.WindowsIncomplete.Add(1)
		metrics.WindowsRetried.Add(1)
		o.logger.Info("window incomplete, retrying with widened source search", "window", w.String())
		o.cleanup(w)
		err = o.buildOnce(ctx, w, true)
	}

	if err != nil {
		o.cleanup(w)
		return err
	}

	metrics.WindowsBuilt.Add(1)
	return nil
}

// buildOnce runs one attempt at a window: wait, build, validate, publish.
func (o *Orchestrator) buildOnce(ctx context.Context, w types.Window, widenSearch bool) error {
	logger := o.logger.With("window", w.String())

	// Waiting: find the source-read end boundary.
	logger.Debug("stage transition", "stage", types.StageWaiting)
	var sourceEndMS int64
	if widenSearch {
		sourceEndMS = o.clock.Now().UnixMilli()
	} else {
		var err error
		sourceEndMS, err = o.waiter.DecoratorEnd(ctx, w.End())
		if err != nil {
			return err
		}
	}

	// Building: filter fragments into scratch, pass simple modules
	// through, merge fragments on top.
	logger.Debug("stage transition", "stage", types.StageBuilding)

	sourceSchema, err := o.wh.GetSchema(ctx, o.cfg.Source)
	if err != nil {
		return fmt.Errorf("fetching source schema: %w", err)
	}
	fields := join.Classify(sourceSchema)

	temp := warehouse.TableRef{
		Project: o.cfg.Project,
		Dataset: o.cfg.HourlyDataset,
		Table:   w.TempTable(ulid.Make().String()),
	}
	p := join.NewPlan(o.cfg.Source, w, sourceEndMS, o.cfg.FragmentModules, temp, fields)

	// The scratch table needs an explicit expiry, so mk before query.
	if err := o.wh.CreateTempTable(ctx, temp, o.cfg.TempTableTTL); err != nil {
		return fmt.Errorf("creating scratch table %s: %w", temp, err)
	}

	legacy := warehouse.QueryOptions{AllowLargeResults: true, Batch: !o.cfg.Interactive, LegacySQL: true}
	hourly := o.hourlyRef(w)

	logger.Info("filtering fragmenting-module rows", "scratch", temp.String())
	if err := o.wh.RunQuery(ctx, p.FragmentFilterSQL(), temp, legacy); err != nil {
		return fmt.Errorf("filtering fragments: %w", err)
	}
	metrics.QueriesRun.Add(1)

	logger.Info("creating hourly table", "table", hourly.String())
	logger.Info("adding rows from simple modules")
	if err := o.wh.RunQuery(ctx, p.SimpleSQL(), hourly, legacy); err != nil {
		return fmt.Errorf("building simple-module rows: %w", err)
	}
	metrics.QueriesRun.Add(1)

	logger.Info("adding merged rows from fragmenting modules")
	merge := warehouse.QueryOptions{Append: true, AllowLargeResults: true, Batch: !o.cfg.Interactive}
	if err := o.wh.RunQuery(ctx, p.MergeSQL(), hourly, merge); err != nil {
		return fmt.Errorf("merging fragments: %w", err)
	}
	metrics.QueriesRun.Add(1)

	// Validating: sanity-check the fresh table for delivery dips.
	logger.Debug("stage transition", "stage", types.StageValidating)
	if o.cfg.DryRun {
		logger.Info("dry-run, skipping completeness check")
	} else if err := o.validator.Validate(ctx, hourly, w, o.clock.Now()); err != nil {
		return err
	}

	// Publishing: reconcile the daily schema, then append.
	logger.Debug("stage transition", "stage", types.StagePublishing)
	if err := o.publish(ctx, w, hourly); err != nil {
		return err
	}

	logger.Debug("stage transition", "stage", types.StageDone)
	return nil
}

// publish appends the hourly table to its daily table, merging schemas
// first: appending a table with columns the destination lacks fails at
// append time, so any new columns must land on the daily table before the
// copy.
func (o *Orchestrator) publish(ctx context.Context, w types.Window, hourly warehouse.TableRef) error {
	daily := o.dailyRef(w)

	if o.cfg.DryRun {
		// The hourly table was never written, so there is no schema to
		// reconcile; the copy below is suppressed anyway.
		o.logger.Info("dry-run, skipping schema reconciliation", "table", daily.String())
		return o.wh.CopyAppend(ctx, hourly, daily)
	}

	dailySchema, err := o.wh.GetSchema(ctx, daily)
	switch {
	case errors.Is(err, warehouse.ErrNotFound):
		// First hour of the day; the copy creates the daily table.
	case err != nil:
		return fmt.Errorf("fetching daily schema: %w", err)
	default:
		hourlySchema, err := o.wh.GetSchema(ctx, hourly)
		if err != nil {
			return fmt.Errorf("fetching hourly schema: %w", err)
		}
		merged := schema.Normalize(schema.Merge(dailySchema, hourlySchema))
		if added := schema.Diff(dailySchema, merged); len(added) > 0 {
			o.logger.Info("adding new columns to daily table",
				"table", daily.String(), "columns", strings.Join(added, ", "))
			if err := o.wh.UpdateSchema(ctx, daily, merged); err != nil {
				return fmt.Errorf("updating daily schema: %w", err)
			}
			metrics.SchemaUpdates.Add(1)
		}
	}

	o.logger.Info("updating daily table", "table", daily.String())
	if err := o.wh.CopyAppend(ctx, hourly, daily); err != nil {
		return fmt.Errorf("appending to daily table: %w", err)
	}
	return nil
}

// cleanup removes the window's partial hourly table. It must run even
// when the surrounding context was cancelled: a half-built table is
// indistinguishable from a complete one on the next run.
func (o *Orchestrator) cleanup(w types.Window) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	hourly := o.hourlyRef(w)
	o.logger.Info("deleting partial hourly table", "table", hourly.String())
	if err := o.wh.DeleteTable(ctx, hourly); err != nil {
		o.logger.Error("failed to delete partial table", "table", hourly.String(), "error", err)
	}
}

func (o *Orchestrator) fireAlert(alert types.Alert) {
	if o.alertFn != nil {
		o.alertFn(alert)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
