// Package join reassembles fragmented request logs into one record per
// request. The join is modeled as an explicit logical plan with two
// backends: an in-memory interpreter over raw events, and a renderer that
// emits the warehouse's SQL dialect for production-scale runs.
package join

import (
	"sort"
	"strings"

	"github.com/hourglass-data/hourglass/internal/schema"
)

// Column name conventions of the streaming source.
const (
	// appLogsField is the repeated record holding the raw app-log lines of
	// a fragment; fragments of one request are concatenated.
	appLogsField = "app_logs"
	// derivedPrefix marks scalar fields computed from the final app-log
	// line of a request; identical across fragments, so any value serves.
	derivedPrefix = "elog_"
	// eventArrayPrefix marks experiment participation/conversion event
	// arrays; the first populated occurrence is taken.
	eventArrayPrefix = "bingo_"
	// derivedMarker is a derived field set on every request, used to spot
	// the fragment carrying the derived values.
	derivedMarker = "elog_country"
)

// Classification partitions the source schema's columns by the role they
// play in fragment reassembly.
type Classification struct {
	// Request holds the request-log columns, passed through from the
	// request row.
	Request []string
	// Derived holds the elog_* scalar columns aggregated with any-value.
	Derived []string
	// EventArrays holds the bingo_* array columns, first-populated wins.
	EventArrays []string
	// Marker is the derived column whose presence identifies the fragment
	// carrying the derived values.
	Marker string
}

// Classify derives the column classification from the streaming source's
// schema.
func Classify(s schema.FieldList) Classification {
	var c Classification
	for _, name := range s.Names() {
		switch {
		case name == appLogsField:
			// concatenated, never passed through
		case strings.HasPrefix(name, derivedPrefix):
			c.Derived = append(c.Derived, name)
		case strings.HasPrefix(name, eventArrayPrefix):
			c.EventArrays = append(c.EventArrays, name)
		default:
			c.Request = append(c.Request, name)
		}
	}
	sort.Strings(c.Request)
	sort.Strings(c.Derived)
	sort.Strings(c.EventArrays)

	c.Marker = derivedMarker
	if _, ok := s.Find(derivedMarker); !ok && len(c.Derived) > 0 {
		c.Marker = c.Derived[0]
	}
	return c
}
