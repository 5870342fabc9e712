package join

import "github.com/hourglass-data/hourglass/pkg/types"

// threadAggregate accumulates the fragment-derived values of one thread.
type threadAggregate struct {
	appLogs     []any
	derived     map[string]any
	eventArrays map[string]any
}

// Execute runs the plan in memory over a slice of raw events and returns
// the merged records. Events outside the completion-time window are
// dropped; simple-module rows pass through; fragmenting-module rows are
// reassembled. Output order is unspecified; request ids are unique.
func (p *Plan) Execute(events []types.RawEvent) []types.MergedRecord {
	var out []types.MergedRecord

	var requestRows []types.RawEvent
	var fragments []types.RawEvent

	for _, e := range events {
		if !p.inWindow(e) {
			continue
		}
		if !p.isFragmentModule(e.ModuleID) {
			out = append(out, types.MergedRecord{
				RequestID: e.RequestID,
				Fields:    copyFields(e.Fields),
			})
			continue
		}
		switch {
		case e.IsFragment():
			fragments = append(fragments, e)
		case e.IsRequestRow():
			requestRows = append(requestRows, e)
		}
	}

	// The link fragment is the sole source of the thread -> request
	// mapping.
	linkByThread := make(map[string]string)
	for _, f := range fragments {
		if f.IsLinkFragment() {
			if _, ok := linkByThread[f.ThreadID]; !ok {
				linkByThread[f.ThreadID] = f.RequestID
			}
		}
	}

	byThread := make(map[string]*threadAggregate)
	for _, f := range fragments {
		agg, ok := byThread[f.ThreadID]
		if !ok {
			agg = &threadAggregate{
				derived:     make(map[string]any),
				eventArrays: make(map[string]any),
			}
			byThread[f.ThreadID] = agg
		}
		p.aggregate(agg, f)
	}

	byRequest := make(map[string]*threadAggregate, len(linkByThread))
	for thread, request := range linkByThread {
		if agg, ok := byThread[thread]; ok {
			byRequest[request] = agg
		}
	}

	// Left-outer join onto the request rows: a request with no link
	// fragment still produces a record, with fragment-derived fields
	// absent.
	seen := make(map[string]bool, len(requestRows))
	for _, r := range requestRows {
		if seen[r.RequestID] {
			continue
		}
		seen[r.RequestID] = true

		fields := copyFields(r.Fields)
		if agg, ok := byRequest[r.RequestID]; ok {
			if agg.appLogs != nil {
				fields[appLogsField] = agg.appLogs
			}
			for k, v := range agg.derived {
				fields[k] = v
			}
			for k, v := range agg.eventArrays {
				fields[k] = v
			}
		}
		out = append(out, types.MergedRecord{RequestID: r.RequestID, Fields: fields})
	}

	return out
}

// aggregate folds one fragment into its thread's accumulator: app-log
// arrays concatenate, derived scalars come from the marker-bearing
// fragment, event arrays take the first populated value.
func (p *Plan) aggregate(agg *threadAggregate, f types.RawEvent) {
	if logs, ok := f.Fields[appLogsField].([]any); ok {
		agg.appLogs = append(agg.appLogs, logs...)
	}

	if marker, ok := f.Fields[p.Fields.Marker]; ok && marker != nil {
		for _, name := range p.Fields.Derived {
			if _, taken := agg.derived[name]; taken {
				continue
			}
			if v, ok := f.Fields[name]; ok && v != nil {
				agg.derived[name] = v
			}
		}
	}

	for _, name := range p.Fields.EventArrays {
		if _, taken := agg.eventArrays[name]; taken {
			continue
		}
		if arr, ok := f.Fields[name].([]any); ok && len(arr) > 0 && arr[0] != nil {
			agg.eventArrays[name] = arr
		}
	}
}

func copyFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
