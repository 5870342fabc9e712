package types

// RawEvent is one row read from the streaming source. The well-known join
// columns are lifted out; every other event-specific column stays in Fields.
//
// The streaming writer represents absent identifiers inconsistently: some
// rows carry SQL NULL, others the literal string "null". Constructors should
// normalize both to "".
type RawEvent struct {
	// EndTime is the end-of-processing timestamp, seconds since epoch.
	// Fractional seconds are preserved.
	EndTime float64

	// ModuleID distinguishes fragmenting module families (whose requests
	// arrive as a request row plus app-log fragments) from simple modules
	// (already one row per request).
	ModuleID string

	// ThreadID is set only on app-log fragment rows.
	ThreadID string

	// RequestID is set on the request row and on the single link fragment
	// that maps a thread to its request.
	RequestID string

	// Fields holds the remaining event-specific columns. Array-typed
	// event-log groups (app_logs, participation/conversion events) appear
	// here as []any.
	Fields map[string]any
}

// IsFragment reports whether the event is an app-log fragment row.
func (e RawEvent) IsFragment() bool {
	return e.ThreadID != ""
}

// IsRequestRow reports whether the event is the request-log row of a
// fragmenting module: request id present, no thread id.
func (e RawEvent) IsRequestRow() bool {
	return e.RequestID != "" && e.ThreadID == ""
}

// IsLinkFragment reports whether the event is the fragment carrying both a
// thread id and a request id, establishing the join key.
func (e RawEvent) IsLinkFragment() bool {
	return e.ThreadID != "" && e.RequestID != ""
}

// MergedRecord is one row per logical request after fragment reassembly:
// the request-log columns plus all fragment-derived columns aggregated from
// every fragment sharing the request's thread.
type MergedRecord struct {
	RequestID string
	Fields    map[string]any
}
