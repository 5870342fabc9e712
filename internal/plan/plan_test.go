package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hourglass-data/hourglass/internal/testutil"
	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

func hourlyRef(name string) warehouse.TableRef {
	return warehouse.TableRef{Project: "p", Dataset: "hourly", Table: name}
}

func setHours(fake *testutil.FakeWarehouse, hours ...time.Time) {
	for _, h := range hours {
		fake.SetTable(hourlyRef(types.Window{Start: h}.HourlyTable()), nil)
	}
}

func TestMissingWindows_FindsGap(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	setHours(fake,
		day.Add(3*time.Hour),
		day.Add(4*time.Hour),
		// 05:00 missing
		day.Add(6*time.Hour),
	)

	p := New(fake, "hourly", nil)
	now := day.Add(7*time.Hour + 20*time.Minute)
	missing, err := p.MissingWindows(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, missing, 1)
	assert.Equal(t, day.Add(5*time.Hour), missing[0].Start)
}

func TestMissingWindows_NeverIncludesCurrentHour(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	setHours(fake, day.Add(5*time.Hour))

	p := New(fake, "hourly", nil)
	missing, err := p.MissingWindows(context.Background(), day.Add(6*time.Hour+59*time.Minute))
	require.NoError(t, err)

	for _, w := range missing {
		assert.True(t, w.Start.Before(day.Add(6*time.Hour)), "window %s is not before the current hour", w)
	}
}

func TestMissingWindows_EmptyDatasetStartsAtMidnight(t *testing.T) {
	fake := testutil.NewFakeWarehouse()

	p := New(fake, "hourly", nil)
	now := time.Date(2024, 1, 2, 3, 30, 0, 0, time.UTC)
	missing, err := p.MissingWindows(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, missing, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), missing[0].Start)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), missing[2].Start)
}

func TestMissingWindows_SkipsHoursBeforeEarliestTable(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	setHours(fake, day.Add(5*time.Hour), day.Add(6*time.Hour))

	p := New(fake, "hourly", nil)
	missing, err := p.MissingWindows(context.Background(), day.Add(8*time.Hour))
	require.NoError(t, err)

	// Only 07:00 is missing; hours before the earliest table predate the
	// deployment and stay untouched.
	require.Len(t, missing, 1)
	assert.Equal(t, day.Add(7*time.Hour), missing[0].Start)
}

func TestMissingWindows_ChronologicalOrder(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	setHours(fake, day.Add(1*time.Hour))

	p := New(fake, "hourly", nil)
	missing, err := p.MissingWindows(context.Background(), day.Add(6*time.Hour))
	require.NoError(t, err)

	require.Len(t, missing, 4)
	for i := 1; i < len(missing); i++ {
		assert.True(t, missing[i-1].Start.Before(missing[i].Start))
	}
}

func TestMissingWindows_IgnoresScratchTables(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	setHours(fake, day.Add(4*time.Hour))
	w := types.Window{Start: day.Add(5 * time.Hour)}
	fake.SetTable(hourlyRef(w.TempTable("leftover")), nil)

	p := New(fake, "hourly", nil)
	missing, err := p.MissingWindows(context.Background(), day.Add(6*time.Hour))
	require.NoError(t, err)

	require.Len(t, missing, 1)
	assert.Equal(t, day.Add(5*time.Hour), missing[0].Start)
}
