// Package alert implements alert dispatching to multiple sinks. The job
// runs unattended from cron; alerts are how a window that could not be
// built reaches a human.
package alert

import (
	"fmt"
	"log/slog"

	"github.com/hourglass-data/hourglass/internal/metrics"
	"github.com/hourglass-data/hourglass/pkg/types"
)

// Sink is an alert destination.
type Sink interface {
	Send(alert types.Alert) error
	Name() string
}

// Dispatcher routes alerts to configured sinks.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from alert configs.
func NewDispatcher(configs []types.AlertConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// Dispatch sends an alert to all configured sinks. Sink failures are
// logged, not propagated; a broken webhook must not abort the run.
func (d *Dispatcher) Dispatch(alert types.Alert) {
	metrics.AlertsDispatched.Add(1)
	for _, sink := range d.sinks {
		if err := sink.Send(alert); err != nil {
			d.logger.Error("failed to send alert", "sink", sink.Name(), "error", err)
		}
	}
}

// AlertFunc returns a function suitable for use as the orchestrator's
// alert callback.
func (d *Dispatcher) AlertFunc() func(types.Alert) {
	return d.Dispatch
}

func newSink(cfg types.AlertConfig) (Sink, error) {
	switch cfg.Type {
	case types.AlertConsole:
		return NewConsoleSink(), nil
	case types.AlertWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.AlertFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.AlertSNS:
		return NewSNSSink(cfg.TopicARN)
	default:
		return nil, fmt.Errorf("unknown alert type %q", cfg.Type)
	}
}
