// Package types defines the public domain types for the hourglass log
// consolidation pipeline.
package types

import "time"

// Table naming must stay bit-exact: downstream analytics jobs address the
// hourly and daily tables by these patterns.
const (
	HourlyTablePrefix  = "requestlogs_"
	hourlyTableLayout  = "requestlogs_20060102_15"
	dailyTableLayout   = "requestlogs_20060102"
	subqueryTempLayout = "subquery_20060102_15"
)

// Window is an hour-aligned [Start, Start+1h) UTC time range. One Window
// corresponds to exactly one hourly table.
type Window struct {
	Start time.Time
}

// WindowAt returns the window containing t, truncated to the hour in UTC.
func WindowAt(t time.Time) Window {
	return Window{Start: t.UTC().Truncate(time.Hour)}
}

// End returns the exclusive end of the window.
func (w Window) End() time.Time {
	return w.Start.Add(time.Hour)
}

// HourlyTable returns the table id holding this window's merged records.
func (w Window) HourlyTable() string {
	return w.Start.UTC().Format(hourlyTableLayout)
}

// DailyTable returns the table id of the daily accumulation this window
// appends into.
func (w Window) DailyTable() string {
	return w.Start.UTC().Format(dailyTableLayout)
}

// TempTable returns the base name for this window's scratch join table.
// Callers append a random suffix to avoid collisions across concurrent
// attempts at the same hour.
func (w Window) TempTable(suffix string) string {
	return w.Start.UTC().Format(subqueryTempLayout) + "__" + suffix
}

// Next returns the window one hour later.
func (w Window) Next() Window {
	return Window{Start: w.Start.Add(time.Hour)}
}

func (w Window) String() string {
	return w.Start.UTC().Format("2006-01-02T15:00Z")
}
