// Package metrics exposes runtime counters via expvar and can push a
// snapshot to a Prometheus Pushgateway at the end of a run. A cron batch
// job has no scrape window, so pushing is the only way the counters
// outlive the process.
package metrics

import (
	"expvar"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	WindowsPlanned    = expvar.NewInt("windows_planned")
	WindowsBuilt      = expvar.NewInt("windows_built")
	WindowsSkipped    = expvar.NewInt("windows_skipped")
	WindowsIncomplete = expvar.NewInt("windows_incomplete")
	WindowsRetried    = expvar.NewInt("windows_retried")
	WindowsAborted    = expvar.NewInt("windows_aborted")
	SourceProbes      = expvar.NewInt("source_probes")
	QueriesRun        = expvar.NewInt("queries_run")
	SchemaUpdates     = expvar.NewInt("schema_updates")
	AlertsDispatched  = expvar.NewInt("alerts_dispatched")
)

// counters are the expvar ints mirrored to the gateway, with their
// Prometheus names.
var counters = map[string]*expvar.Int{
	"hourglass_windows_planned_total":    WindowsPlanned,
	"hourglass_windows_built_total":      WindowsBuilt,
	"hourglass_windows_skipped_total":    WindowsSkipped,
	"hourglass_windows_incomplete_total": WindowsIncomplete,
	"hourglass_windows_retried_total":    WindowsRetried,
	"hourglass_windows_aborted_total":    WindowsAborted,
	"hourglass_source_probes_total":      SourceProbes,
	"hourglass_queries_run_total":        QueriesRun,
	"hourglass_schema_updates_total":     SchemaUpdates,
	"hourglass_alerts_dispatched_total":  AlertsDispatched,
}

// Pusher flushes the counters to a Prometheus Pushgateway.
type Pusher struct {
	gatewayURL string
	job        string
}

// NewPusher creates a Pusher for the given gateway. job groups the pushed
// metrics on the gateway side.
func NewPusher(gatewayURL, job string) (*Pusher, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("pushgateway URL is required")
	}
	if job == "" {
		job = "hourglass"
	}
	return &Pusher{gatewayURL: gatewayURL, job: job}, nil
}

// Flush snapshots the expvar counters into Prometheus gauges and pushes
// them. Gauges, not counters: each run pushes its own totals and the
// gateway keeps the last value per job.
func (p *Pusher) Flush() error {
	reg := prometheus.NewRegistry()
	for name, v := range counters {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name,
			Help: "hourglass run counter " + name,
		})
		g.Set(float64(v.Value()))
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	if err := push.New(p.gatewayURL, p.job).Gatherer(reg).Push(); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
