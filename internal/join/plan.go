package join

import (
	"time"

	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

// sourceReadLead is how far before the window start the source read begins,
// to catch fragments of requests that finished shortly after the boundary.
const sourceReadLead = 10 * time.Minute

// Plan describes the reassembly of one window: which slice of the source to
// read, which completion-time range to keep, and how columns are
// partitioned. It is pure data; Execute interprets it in memory and the
// SQL methods render it for the warehouse.
type Plan struct {
	// Source is the streaming source table.
	Source warehouse.TableRef
	// SourceStartMS/SourceEndMS bound the time-decorated source read.
	SourceStartMS int64
	SourceEndMS   int64
	// WindowStart/WindowEnd (seconds) bound the request completion times
	// that belong to the window.
	WindowStart int64
	WindowEnd   int64
	// FragmentModules are the module ids whose requests arrive fragmented.
	FragmentModules []string
	// FragmentTemp is the scratch table holding the fragmenting-module
	// slice between the filter and merge stages.
	FragmentTemp warehouse.TableRef
	// Fields is the column classification of the source schema.
	Fields Classification
}

// NewPlan builds the reassembly plan for a window. sourceEndMS comes from
// the consistency waiter (or "now" on a widened retry).
func NewPlan(source warehouse.TableRef, w types.Window, sourceEndMS int64, fragmentModules []string, temp warehouse.TableRef, fields Classification) *Plan {
	return &Plan{
		Source:          source,
		SourceStartMS:   w.Start.Add(-sourceReadLead).UnixMilli(),
		SourceEndMS:     sourceEndMS,
		WindowStart:     w.Start.Unix(),
		WindowEnd:       w.End().Unix(),
		FragmentModules: fragmentModules,
		FragmentTemp:    temp,
		Fields:          fields,
	}
}

func (p *Plan) inWindow(e types.RawEvent) bool {
	return e.EndTime >= float64(p.WindowStart) && e.EndTime < float64(p.WindowEnd)
}

func (p *Plan) isFragmentModule(moduleID string) bool {
	for _, m := range p.FragmentModules {
		if m == moduleID {
			return true
		}
	}
	return false
}
