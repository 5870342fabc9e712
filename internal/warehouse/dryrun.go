package warehouse

import (
	"context"
	"log/slog"
	"time"

	"github.com/hourglass-data/hourglass/internal/schema"
)

// DryRun wraps a Warehouse so that reads pass through while every mutating
// call is logged and suppressed. Used by the --dry-run CLI flag.
type DryRun struct {
	inner  Warehouse
	logger *slog.Logger
}

// NewDryRun creates a dry-run decorator around w.
func NewDryRun(w Warehouse, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{inner: w, logger: logger}
}

func (d *DryRun) Exists(ctx context.Context, ref TableRef) (bool, error) {
	return d.inner.Exists(ctx, ref)
}

func (d *DryRun) Read(ctx context.Context, sql string) ([]Row, error) {
	return d.inner.Read(ctx, sql)
}

func (d *DryRun) GetSchema(ctx context.Context, ref TableRef) (schema.FieldList, error) {
	return d.inner.GetSchema(ctx, ref)
}

func (d *DryRun) ListTables(ctx context.Context, dataset string) ([]string, error) {
	return d.inner.ListTables(ctx, dataset)
}

func (d *DryRun) CreateTempTable(_ context.Context, ref TableRef, ttl time.Duration) error {
	d.logger.Info("dry-run: would create temp table", "table", ref.String(), "ttl", ttl)
	return nil
}

func (d *DryRun) RunQuery(_ context.Context, sql string, dst TableRef, opts QueryOptions) error {
	d.logger.Info("dry-run: would run query", "destination", dst.String(), "append", opts.Append, "sql", sql)
	return nil
}

func (d *DryRun) UpdateSchema(_ context.Context, ref TableRef, fields schema.FieldList) error {
	d.logger.Info("dry-run: would update schema", "table", ref.String(), "fields", len(fields))
	return nil
}

func (d *DryRun) CopyAppend(_ context.Context, src, dst TableRef) error {
	d.logger.Info("dry-run: would copy-append", "src", src.String(), "dst", dst.String())
	return nil
}

func (d *DryRun) DeleteTable(_ context.Context, ref TableRef) error {
	d.logger.Info("dry-run: would delete table", "table", ref.String())
	return nil
}
