// Package validate decides whether a freshly built hourly table received
// all its data, by looking for a dip-and-recover pattern in per-interval
// row counts. When the source delivers a stretch of events hours out of
// order, the affected minutes show markedly fewer rows than their
// neighbors while surrounding traffic stays normal.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

// Detection tuning. The percentages are empirical: normal minute-to-minute
// variation stays under ~3%, and end-of-day taper can legitimately drop a
// trailing bucket, so an unterminated dip needs a much steeper drop to
// count.
const (
	// bucketSeconds is the counting interval width.
	bucketSeconds = 300
	// dropThresholdPct starts a dip: relative drop below the previous
	// bucket.
	dropThresholdPct = -3
	// recoverThresholdPct ends a dip: within this of the pre-dip level.
	recoverThresholdPct = -2
	// severeThresholdPct is required for a dip that never visibly ends
	// inside the window.
	severeThresholdPct = -10
	// settledAfter: windows older than this skip validation, delivery is
	// empirically complete by then.
	settledAfter = 5 * time.Hour
)

// Bucket is one counting interval of the built table.
type Bucket struct {
	Interval string
	Count    int64
}

// Dip describes a detected drop-and-recover anomaly.
type Dip struct {
	Start   string
	End     string
	DropPct float64
}

// FindDip scans consecutive buckets for a dip: a relative drop steeper
// than dropThresholdPct followed by a recovery to within
// recoverThresholdPct of the pre-dip count. A dip that starts but never
// recovers inside the window counts only when the drop was severe, since a
// plain end-of-period traffic taper looks the same otherwise. Returns nil
// when the counts look complete.
func FindDip(buckets []Bucket) *Dip {
	var (
		dipStart string
		dipDrop  float64
		preDip   int64
	)

	for i := 1; i < len(buckets); i++ {
		oldCount := buckets[i-1].Count
		newCount := buckets[i].Count
		if oldCount == 0 {
			continue
		}
		diff := float64(newCount-oldCount) * 100 / float64(oldCount)

		if diff <= dropThresholdPct {
			dipStart = buckets[i].Interval
			preDip = oldCount
			dipDrop = diff
		} else if dipStart != "" {
			fromPreDip := float64(newCount-preDip) * 100 / float64(preDip)
			if fromPreDip > recoverThresholdPct {
				return &Dip{Start: dipStart, End: buckets[i].Interval, DropPct: dipDrop}
			}
		}
	}

	if dipStart != "" && dipDrop <= severeThresholdPct {
		return &Dip{Start: dipStart, End: "the end of the window", DropPct: dipDrop}
	}
	return nil
}

// Validator checks a built hourly table against the warehouse.
type Validator struct {
	wh     warehouse.Warehouse
	logger *slog.Logger
}

// New creates a Validator.
func New(wh warehouse.Warehouse, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{wh: wh, logger: logger}
}

// Validate returns types.ErrWindowIncomplete when the table's per-interval
// counts show a dip. Windows whose start is older than settledAfter are
// assumed settled and skip the check.
func (v *Validator) Validate(ctx context.Context, table warehouse.TableRef, w types.Window, now time.Time) error {
	if now.Sub(w.Start) > settledAfter {
		v.logger.Info("window old enough to be settled, skipping completeness check", "window", w.String())
		return nil
	}

	// Reads run in the legacy dialect, which requires brackets around a
	// project-qualified table reference.
	sql := fmt.Sprintf(`SELECT FORMAT_UTC_USEC(INTEGER(end_time / %d) * %d000000) AS interval,
       COUNT(1) AS count
FROM [%s]
GROUP BY interval
ORDER BY interval
`, bucketSeconds, bucketSeconds, table)

	rows, err := v.wh.Read(ctx, sql)
	if err != nil {
		return fmt.Errorf("counting intervals of %s: %w", table, err)
	}

	buckets := make([]Bucket, 0, len(rows))
	for _, r := range rows {
		buckets = append(buckets, Bucket{
			Interval: fmt.Sprint(r["interval"]),
			Count:    asInt64(r["count"]),
		})
	}

	dip := FindDip(buckets)
	if dip == nil {
		return nil
	}

	v.logger.Error("interval counts dip below surrounding traffic",
		"table", table.String(),
		"dip_start", dip.Start,
		"dip_end", dip.End,
		"drop_pct", fmt.Sprintf("%.2f", -dip.DropPct),
		"buckets", buckets)
	return fmt.Errorf("dip from %s to %s (%.2f%% drop): %w",
		dip.Start, dip.End, -dip.DropPct, types.ErrWindowIncomplete)
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// IsIncomplete reports whether err is the incomplete-window condition.
func IsIncomplete(err error) bool {
	return errors.Is(err, types.ErrWindowIncomplete)
}
