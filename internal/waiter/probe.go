package waiter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hourglass-data/hourglass/internal/metrics"
	"github.com/hourglass-data/hourglass/internal/warehouse"
)

// WarehouseProbe implements SourceProbe with an aggregate query against the
// decorated streaming source.
type WarehouseProbe struct {
	wh     warehouse.Warehouse
	source warehouse.TableRef
	logger *slog.Logger
}

// NewWarehouseProbe creates a probe over the given streaming source table.
func NewWarehouseProbe(wh warehouse.Warehouse, source warehouse.TableRef, logger *slog.Logger) *WarehouseProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarehouseProbe{wh: wh, source: source, logger: logger}
}

// CaughtUp reports whether the decorated slice already holds an event
// completing at or after target. The max_end_time column is selected only
// to make "how far behind" visible in the logs.
func (p *WarehouseProbe) CaughtUp(ctx context.Context, startMS, endMS int64, target time.Time) (bool, error) {
	sql := fmt.Sprintf(
		"SELECT MAX(end_time) >= %d AS caught_up, INTEGER(MAX(end_time)) AS max_end_time FROM [%s@%d-%d]",
		target.Unix(), p.source, startMS, endMS)

	metrics.SourceProbes.Add(1)
	rows, err := p.wh.Read(ctx, sql)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	if asBool(rows[0]["caught_up"]) {
		return true, nil
	}
	p.logger.Warn("source behind target",
		"target", target.Unix(), "max_end_time", rows[0]["max_end_time"])
	return false, nil
}

// asBool tolerates the bool encodings the adapters produce: the real
// client returns bool, the CLI's JSON output returns "true"/"false".
func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		return err == nil && b
	default:
		return false
	}
}
