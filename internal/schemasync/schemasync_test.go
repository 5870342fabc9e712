package schemasync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hourglass-data/hourglass/internal/schema"
	"github.com/hourglass-data/hourglass/internal/testutil"
	"github.com/hourglass-data/hourglass/internal/warehouse"
)

var source = warehouse.TableRef{Project: "p", Dataset: "logs", Table: "stream"}

func dailyRef(name string) warehouse.TableRef {
	return warehouse.TableRef{Project: "p", Dataset: "daily", Table: name}
}

func TestSync_AddsColumnsFromLatestDaily(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	fake.SetTable(source, schema.FieldList{
		{Name: "request_id", Type: "STRING"},
	})
	fake.SetTable(dailyRef("requestlogs_20240101"), schema.FieldList{
		{Name: "request_id", Type: "STRING"},
		{Name: "stale_col", Type: "STRING"},
	})
	fake.SetTable(dailyRef("requestlogs_20240102"), schema.FieldList{
		{Name: "request_id", Type: "STRING"},
		{Name: "elog_country", Type: "STRING"},
	})

	s := New(fake, "p", "daily", source, nil)
	added, err := s.Sync(context.Background())
	require.NoError(t, err)

	// Only the latest daily table feeds the merge.
	assert.Equal(t, []string{"elog_country"}, added)

	got, err := fake.GetSchema(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, []string{"request_id", "elog_country"}, got.Names())
}

func TestSync_UpToDateIsNoOp(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	s := schema.FieldList{
		{Name: "request_id", Type: "STRING"},
		{Name: "elog_country", Type: "STRING"},
	}
	fake.SetTable(source, s)
	fake.SetTable(dailyRef("requestlogs_20240102"), s)

	syncer := New(fake, "p", "daily", source, nil)
	added, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Zero(t, fake.MutationCount())
}

func TestSync_IgnoresHourlyShapedNames(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	fake.SetTable(source, schema.FieldList{{Name: "request_id", Type: "STRING"}})
	// Hourly-shaped and scratch-shaped names must not be mistaken for the
	// latest daily table.
	fake.SetTable(dailyRef("requestlogs_20240103_05"), schema.FieldList{
		{Name: "bogus", Type: "STRING"},
	})
	fake.SetTable(dailyRef("requestlogs_20240102"), schema.FieldList{
		{Name: "request_id", Type: "STRING"},
		{Name: "elog_device", Type: "STRING"},
	})

	s := New(fake, "p", "daily", source, nil)
	added, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"elog_device"}, added)
}

func TestSync_NoDailyTables(t *testing.T) {
	fake := testutil.NewFakeWarehouse()
	fake.SetTable(source, schema.FieldList{{Name: "request_id", Type: "STRING"}})

	s := New(fake, "p", "daily", source, nil)
	_, err := s.Sync(context.Background())
	assert.Error(t, err)
}
