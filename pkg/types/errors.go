package types

import "errors"

// Window-level failure taxonomy. The orchestrator decides retry/abort
// behavior with errors.Is against these sentinels; warehouse transport
// errors pass through wrapped and unclassified.
var (
	// ErrSourceNeverCaughtUp means the streaming source did not deliver
	// events up to the window's end despite bounded backoff polling.
	// Fatal for the window.
	ErrSourceNeverCaughtUp = errors.New("streaming source never caught up")

	// ErrWindowIncomplete means the freshly built hourly table failed the
	// completeness check. Retried once with a widened source search before
	// becoming fatal.
	ErrWindowIncomplete = errors.New("hourly window looks incomplete")
)
