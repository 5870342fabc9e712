package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hourglass-data/hourglass/internal/plan"
	"github.com/hourglass-data/hourglass/internal/schema"
	"github.com/hourglass-data/hourglass/internal/testutil"
	"github.com/hourglass-data/hourglass/internal/validate"
	"github.com/hourglass-data/hourglass/internal/waiter"
	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sourceRef = warehouse.TableRef{Project: "p", Dataset: "logs", Table: "stream"}

func sourceSchema() schema.FieldList {
	return schema.FieldList{
		{Name: "request_id", Type: "STRING"},
		{Name: "thread_id", Type: "STRING"},
		{Name: "module_id", Type: "STRING"},
		{Name: "end_time", Type: "FLOAT"},
		{Name: "app_logs", Type: schema.TypeRecord, Mode: schema.ModeRepeated},
		{Name: "elog_country", Type: "STRING"},
	}
}

// flatCounts answers a completeness query with steady traffic.
func flatCounts() []warehouse.Row {
	return []warehouse.Row{
		{"interval": "05:00", "count": int64(100)},
		{"interval": "05:05", "count": int64(101)},
		{"interval": "05:10", "count": int64(99)},
	}
}

// dipCounts answers a completeness query with a drop-and-recover pattern.
func dipCounts() []warehouse.Row {
	return []warehouse.Row{
		{"interval": "05:00", "count": int64(100)},
		{"interval": "05:05", "count": int64(40)},
		{"interval": "05:10", "count": int64(100)},
	}
}

type fixture struct {
	fake  *testutil.FakeWarehouse
	clock *testutil.FakeClock
	orch  *Orchestrator
	w     types.Window

	validations int
	alerts      []types.Alert
}

// newFixture builds an orchestrator over the fake warehouse with a clock
// two hours past the window under test, so the consistency wait resolves
// through the walk-forward path without sleeping.
func newFixture(t *testing.T, validationRows func(call int) []warehouse.Row) *fixture {
	t.Helper()

	f := &fixture{
		fake: testutil.NewFakeWarehouse(),
		w:    types.Window{Start: time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)},
	}
	f.clock = testutil.NewFakeClock(f.w.End().Add(2 * time.Hour))

	f.fake.SetTable(sourceRef, sourceSchema())
	f.fake.QuerySchema = sourceSchema()
	f.fake.ReadFunc = func(sql string) ([]warehouse.Row, error) {
		if strings.Contains(sql, "caught_up") {
			return []warehouse.Row{{"caught_up": true, "max_end_time": int64(0)}}, nil
		}
		f.validations++
		return validationRows(f.validations), nil
	}

	probe := waiter.NewWarehouseProbe(f.fake, sourceRef, nil)
	f.orch = New(
		Config{
			Project:         "p",
			HourlyDataset:   "hourly",
			DailyDataset:    "daily",
			Source:          sourceRef,
			FragmentModules: []string{"vm"},
		},
		f.fake,
		Deps{
			Waiter:    waiter.New(probe, f.clock, nil),
			Validator: validate.New(f.fake, nil),
			Planner:   plan.New(f.fake, "hourly", nil),
			Clock:     f.clock,
			AlertFn:   func(a types.Alert) { f.alerts = append(f.alerts, a) },
		},
	)
	return f
}

func (f *fixture) hourly() warehouse.TableRef {
	return warehouse.TableRef{Project: "p", Dataset: "hourly", Table: f.w.HourlyTable()}
}

func (f *fixture) daily() warehouse.TableRef {
	return warehouse.TableRef{Project: "p", Dataset: "daily", Table: f.w.DailyTable()}
}

func TestBuildWindow_HappyPath(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return flatCounts() })

	require.NoError(t, f.orch.BuildWindow(context.Background(), f.w))

	exists, _ := f.fake.Exists(context.Background(), f.hourly())
	assert.True(t, exists, "hourly table must exist after the build")
	exists, _ = f.fake.Exists(context.Background(), f.daily())
	assert.True(t, exists, "daily table must exist after the publish")

	// Filter into scratch, simple passthrough, fragment merge.
	require.Len(t, f.fake.Queries, 3)
	assert.True(t, f.fake.Queries[0].Opts.LegacySQL)
	assert.False(t, f.fake.Queries[0].Opts.Append)
	assert.True(t, f.fake.Queries[1].Opts.LegacySQL)
	assert.Equal(t, f.hourly(), f.fake.Queries[1].Dst)
	assert.False(t, f.fake.Queries[2].Opts.LegacySQL)
	assert.True(t, f.fake.Queries[2].Opts.Append)
	assert.Equal(t, f.hourly(), f.fake.Queries[2].Dst)

	assert.Empty(t, f.alerts)
}

func TestBuildWindow_ExistingTableSkipsWithoutMutations(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return flatCounts() })
	f.fake.SetTable(f.hourly(), sourceSchema())

	require.NoError(t, f.orch.BuildWindow(context.Background(), f.w))
	assert.Zero(t, f.fake.MutationCount(), "existing table must short-circuit the build")
	assert.Zero(t, f.validations)
}

func TestBuildWindow_RetriesOnceWithWidenedSearch(t *testing.T) {
	f := newFixture(t, func(call int) []warehouse.Row {
		if call == 1 {
			return dipCounts()
		}
		return flatCounts()
	})

	require.NoError(t, f.orch.BuildWindow(context.Background(), f.w))

	assert.Equal(t, 2, f.validations)
	// Two full build attempts plus one cleanup between them.
	assert.Len(t, f.fake.Queries, 6)
	exists, _ := f.fake.Exists(context.Background(), f.hourly())
	assert.True(t, exists)

	// The widened retry reads the source up to "now", past the waiter's
	// answer for the first attempt.
	firstEnd := extractDecoratorEnd(t, f.fake.Queries[0].SQL)
	retryEnd := extractDecoratorEnd(t, f.fake.Queries[3].SQL)
	assert.Greater(t, retryEnd, firstEnd)
}

func TestBuildWindow_PersistentDipAbortsAndCleansUp(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return dipCounts() })

	err := f.orch.BuildWindow(context.Background(), f.w)
	require.Error(t, err)
	assert.True(t, validate.IsIncomplete(err))
	assert.Equal(t, 2, f.validations, "exactly one retry")

	exists, _ := f.fake.Exists(context.Background(), f.hourly())
	assert.False(t, exists, "partial hourly table must be deleted")
	exists, _ = f.fake.Exists(context.Background(), f.daily())
	assert.False(t, exists, "nothing may be published")
}

func TestBuildWindow_PublishMergesNewColumnsIntoDaily(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return flatCounts() })
	// Daily table from earlier hours, missing elog_country.
	f.fake.SetTable(f.daily(), schema.FieldList{
		{Name: "request_id", Type: "STRING"},
		{Name: "thread_id", Type: "STRING"},
		{Name: "module_id", Type: "STRING"},
		{Name: "end_time", Type: "FLOAT"},
		{Name: "app_logs", Type: schema.TypeRecord, Mode: schema.ModeRepeated},
	})

	require.NoError(t, f.orch.BuildWindow(context.Background(), f.w))

	got, err := f.fake.GetSchema(context.Background(), f.daily())
	require.NoError(t, err)
	_, ok := got.Find("elog_country")
	assert.True(t, ok, "new column must land on the daily table before the append")
}

func TestBuildWindow_UpToDateDailySchemaNotRewritten(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return flatCounts() })
	f.fake.SetTable(f.daily(), schema.Normalize(sourceSchema()))

	require.NoError(t, f.orch.BuildWindow(context.Background(), f.w))

	for _, m := range f.fake.Mutations {
		assert.NotContains(t, m, "UpdateSchema", "matching schemas must not trigger an update")
	}
}

func TestRun_BuildsAllMissingWindows(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return flatCounts() })
	// One built hour, then a gap of two.
	built := types.Window{Start: f.w.Start.Add(-3 * time.Hour)}
	f.fake.SetTable(warehouse.TableRef{Project: "p", Dataset: "hourly", Table: built.HourlyTable()}, sourceSchema())

	require.NoError(t, f.orch.Run(context.Background()))

	for w := built.Next(); w.Start.Before(f.clock.Now().Truncate(time.Hour)); w = w.Next() {
		exists, _ := f.fake.Exists(context.Background(), warehouse.TableRef{
			Project: "p", Dataset: "hourly", Table: w.HourlyTable(),
		})
		assert.True(t, exists, "window %s must be built", w)
	}
}

func TestRun_CancelledBeforeStartTouchesNothing(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return flatCounts() })
	built := types.Window{Start: f.w.Start.Add(-2 * time.Hour)}
	f.fake.SetTable(warehouse.TableRef{Project: "p", Dataset: "hourly", Table: built.HourlyTable()}, sourceSchema())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.orch.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.fake.MutationCount())
}

func TestRun_AbortedWindowAlertsAndContinues(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return dipCounts() })
	built := types.Window{Start: f.w.Start.Add(-2 * time.Hour)}
	f.fake.SetTable(warehouse.TableRef{Project: "p", Dataset: "hourly", Table: built.HourlyTable()}, sourceSchema())

	// Every window after the built one dips persistently: each gets its
	// attempt and its alert, and the run as a whole still fails.
	err := f.orch.Run(context.Background())
	require.Error(t, err, "aborted windows must fail the run")
	assert.Contains(t, err.Error(), "aborted")

	require.Len(t, f.alerts, 4, "one alert per aborted window")
	for _, a := range f.alerts {
		assert.Equal(t, types.AlertLevelError, a.Level)
		assert.Equal(t, types.StageAborted, a.Stage)
	}
}

func TestRun_AllWindowsBuiltIsReadOnly(t *testing.T) {
	f := newFixture(t, func(int) []warehouse.Row { return flatCounts() })
	// Every hour up to the current one already has its table.
	for w := (types.Window{Start: f.w.Start.Add(-2 * time.Hour)}); w.Start.Before(f.clock.Now().Truncate(time.Hour)); w = w.Next() {
		f.fake.SetTable(warehouse.TableRef{Project: "p", Dataset: "hourly", Table: w.HourlyTable()}, sourceSchema())
	}

	require.NoError(t, f.orch.Run(context.Background()))

	assert.Zero(t, f.fake.MutationCount(), "a caught-up run must not touch the warehouse")
	assert.Zero(t, f.validations)
	assert.Empty(t, f.alerts)
}

func TestBuildWindow_DryRunIsReadOnly(t *testing.T) {
	// The validation rows would fail the window if the completeness check
	// ran; a dry run must skip it, since the table it reads never exists.
	f := newFixture(t, func(int) []warehouse.Row { return dipCounts() })
	dry := warehouse.NewDryRun(f.fake, nil)

	probe := waiter.NewWarehouseProbe(dry, sourceRef, nil)
	orch := New(
		Config{
			Project:         "p",
			HourlyDataset:   "hourly",
			DailyDataset:    "daily",
			Source:          sourceRef,
			FragmentModules: []string{"vm"},
			DryRun:          true,
		},
		dry,
		Deps{
			Waiter:    waiter.New(probe, f.clock, nil),
			Validator: validate.New(dry, nil),
			Planner:   plan.New(dry, "hourly", nil),
			Clock:     f.clock,
		},
	)

	require.NoError(t, orch.BuildWindow(context.Background(), f.w))

	assert.Zero(t, f.fake.MutationCount(), "dry run must not touch the warehouse")
	assert.Zero(t, f.validations, "dry run must not count intervals of a table it never wrote")
	exists, _ := f.fake.Exists(context.Background(), f.hourly())
	assert.False(t, exists)
}

// extractDecoratorEnd pulls the end bound out of a decorated table read
// like [p:logs.stream@123-456].
func extractDecoratorEnd(t *testing.T, sql string) int64 {
	t.Helper()
	start := strings.Index(sql, "@")
	require.GreaterOrEqual(t, start, 0, "query must read the decorated source")
	rest := sql[start+1:]
	end := strings.IndexByte(rest, ']')
	require.Greater(t, end, 0)
	bounds := strings.SplitN(rest[:end], "-", 2)
	require.Len(t, bounds, 2)
	var v int64
	for _, ch := range bounds[1] {
		require.True(t, ch >= '0' && ch <= '9')
		v = v*10 + int64(ch-'0')
	}
	return v
}
