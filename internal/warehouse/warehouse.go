// Package warehouse defines the SQL warehouse capability consumed by the
// consolidation pipeline. The core never talks to a warehouse directly;
// everything goes through this interface so the join, wait, and validate
// logic stay testable against a fake.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hourglass-data/hourglass/internal/schema"
)

// ErrNotFound is returned by schema and metadata operations when the table
// does not exist. "Not found" is an expected, non-fatal condition (it is the
// pipeline's idempotency check), so it is a distinct value rather than a
// generic command failure.
var ErrNotFound = errors.New("table not found")

// TableRef identifies a table. Project may be empty when the adapter has a
// default project configured.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

func (r TableRef) String() string {
	if r.Project == "" {
		return r.Dataset + "." + r.Table
	}
	return fmt.Sprintf("%s:%s.%s", r.Project, r.Dataset, r.Table)
}

// WithTable returns a copy of the ref pointing at a different table in the
// same project and dataset.
func (r TableRef) WithTable(table string) TableRef {
	r.Table = table
	return r
}

// QueryOptions control how RunQuery materializes its destination.
type QueryOptions struct {
	// Append adds to an existing destination instead of requiring it empty.
	Append bool
	// AllowLargeResults permits unflattened, arbitrarily large output.
	AllowLargeResults bool
	// Batch runs the query at batch priority (cheaper, slower scheduling).
	Batch bool
	// LegacySQL selects the legacy dialect, required for time-decorated
	// source reads.
	LegacySQL bool
}

// Row is one result row of a read query.
type Row map[string]any

// Warehouse is the abstract query engine. Implementations: the real
// BigQuery client (warehouse/bigquery), the bq command-line client
// (warehouse/bqcli), and the test fake (testutil).
type Warehouse interface {
	// Exists reports whether the table exists.
	Exists(ctx context.Context, ref TableRef) (bool, error)

	// CreateTempTable creates an empty table that the warehouse expires
	// after ttl.
	CreateTempTable(ctx context.Context, ref TableRef, ttl time.Duration) error

	// RunQuery executes sql and materializes the result into dst.
	RunQuery(ctx context.Context, sql string, dst TableRef, opts QueryOptions) error

	// Read executes sql and returns the result rows. Reads run in the
	// legacy dialect, which is the one that accepts table decorators.
	Read(ctx context.Context, sql string) ([]Row, error)

	// GetSchema returns the table's field tree, or ErrNotFound.
	GetSchema(ctx context.Context, ref TableRef) (schema.FieldList, error)

	// UpdateSchema replaces the table's field tree. The new tree must be a
	// superset of the old; the warehouse rejects destructive changes.
	UpdateSchema(ctx context.Context, ref TableRef, fields schema.FieldList) error

	// CopyAppend appends src's rows to dst, creating dst if absent.
	CopyAppend(ctx context.Context, src, dst TableRef) error

	// ListTables returns the table ids in a dataset.
	ListTables(ctx context.Context, dataset string) ([]string, error)

	// DeleteTable removes a table. Deleting a table that does not exist is
	// not an error; cleanup must be re-runnable.
	DeleteTable(ctx context.Context, ref TableRef) error
}
