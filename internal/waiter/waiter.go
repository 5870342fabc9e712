// Package waiter decides when the streaming source has ingested enough
// events to build a window, by extending a time-decorated read forward
// until the source reports itself caught up.
package waiter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hourglass-data/hourglass/pkg/types"
)

// Tuning defaults, carried over from observed source delivery behavior:
// non-recent records arrive in chunks roughly 15 minutes late, worse near
// day boundaries.
const (
	// probeSlack moves the probe's decorator start slightly before the
	// target so a quiet source with no recent events still answers.
	probeSlack = 10 * time.Second

	defaultInitialExtension = 16 * time.Minute
	defaultExtensionStep    = 5 * time.Minute
	defaultBackoffBase      = time.Minute
	defaultBackoffFactor    = 1.5
	defaultMaxAttempts      = 10
)

// SourceProbe answers whether the source slice [startMS, endMS) already
// contains events completing at or after target.
type SourceProbe interface {
	CaughtUp(ctx context.Context, startMS, endMS int64, target time.Time) (bool, error)
}

// Clock abstracts time for tests. Sleep must return early with the
// context's error when cancelled.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SystemClock is the wall-clock Clock.
var SystemClock Clock = realClock{}

// Waiter implements the decorator-extension algorithm.
type Waiter struct {
	probe  SourceProbe
	clock  Clock
	logger *slog.Logger

	InitialExtension time.Duration
	ExtensionStep    time.Duration
	BackoffBase      time.Duration
	BackoffFactor    float64
	MaxAttempts      int
}

// New creates a Waiter with the default tuning.
func New(probe SourceProbe, clock Clock, logger *slog.Logger) *Waiter {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{
		probe:            probe,
		clock:            clock,
		logger:           logger,
		InitialExtension: defaultInitialExtension,
		ExtensionStep:    defaultExtensionStep,
		BackoffBase:      defaultBackoffBase,
		BackoffFactor:    defaultBackoffFactor,
		MaxAttempts:      defaultMaxAttempts,
	}
}

// DecoratorEnd returns the end boundary (ms) for a source read that is
// known to include every event completing before target.
//
// The source delivers non-recent events in delayed chunks, so a decorator
// ending exactly at target usually misses the tail. The search starts at
// target plus a fixed extension and walks forward in steps while still in
// the past; once it reaches the present it polls "now" with exponential
// backoff. Exhausting the attempts is fatal for the window:
// types.ErrSourceNeverCaughtUp.
func (w *Waiter) DecoratorEnd(ctx context.Context, target time.Time) (int64, error) {
	startMS := target.Add(-probeSlack).UnixMilli()
	endMS := target.Add(w.InitialExtension).UnixMilli()

	// Walk forward while the candidate end is still in the past.
	for endMS < w.clock.Now().UnixMilli() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ok, err := w.probe.CaughtUp(ctx, startMS, endMS, target)
		if err != nil {
			return 0, fmt.Errorf("probing source readiness: %w", err)
		}
		if ok {
			return endMS, nil
		}
		w.logger.Warn("source not caught up, extending read window",
			"target", target, "read_past_target", time.Duration(endMS-target.UnixMilli())*time.Millisecond)
		endMS += w.ExtensionStep.Milliseconds()
	}

	// The candidate reached the present; wait for the source to catch up.
	w.logger.Info("waiting for streaming source to catch up", "target", target)
	for attempt := 0; attempt < w.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		endMS = w.clock.Now().UnixMilli()
		ok, err := w.probe.CaughtUp(ctx, startMS, endMS, target)
		if err != nil {
			return 0, fmt.Errorf("probing source readiness: %w", err)
		}
		if ok {
			return endMS, nil
		}
		wait := time.Duration(float64(w.BackoffBase) * math.Pow(w.BackoffFactor, float64(attempt)))
		w.logger.Warn("source not caught up, backing off", "target", target, "attempt", attempt+1, "wait", wait)
		if err := w.clock.Sleep(ctx, wait); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("target %s: %w", target.UTC().Format(time.RFC3339), types.ErrSourceNeverCaughtUp)
}
