// Package bigquery adapts the real BigQuery client to the warehouse
// interface.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	bq "cloud.google.com/go/bigquery"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/hourglass-data/hourglass/internal/schema"
	"github.com/hourglass-data/hourglass/internal/warehouse"
)

// Client implements warehouse.Warehouse against BigQuery.
type Client struct {
	client  *bq.Client
	project string
	logger  *slog.Logger
	// limiter paces job submission so a backfill over the full horizon
	// stays inside the project's concurrent-query quota.
	limiter *rate.Limiter
}

// New creates a BigQuery-backed warehouse for the given project.
func New(ctx context.Context, project string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := bq.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery client: %w", err)
	}
	return &Client{
		client:  c,
		project: project,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Second), 4),
	}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) table(ref warehouse.TableRef) *bq.Table {
	project := ref.Project
	if project == "" {
		project = c.project
	}
	return c.client.DatasetInProject(project, ref.Dataset).Table(ref.Table)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func (c *Client) Exists(ctx context.Context, ref warehouse.TableRef) (bool, error) {
	_, err := c.table(ref).Metadata(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", ref, err)
	}
	return true, nil
}

func (c *Client) CreateTempTable(ctx context.Context, ref warehouse.TableRef, ttl time.Duration) error {
	md := &bq.TableMetadata{
		ExpirationTime: time.Now().Add(ttl),
	}
	if err := c.table(ref).Create(ctx, md); err != nil {
		return fmt.Errorf("creating temp table %s: %w", ref, err)
	}
	return nil
}

func (c *Client) RunQuery(ctx context.Context, sql string, dst warehouse.TableRef, opts warehouse.QueryOptions) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := c.client.Query(sql)
	q.UseLegacySQL = opts.LegacySQL
	q.Dst = c.table(dst)
	if opts.Append {
		q.WriteDisposition = bq.WriteAppend
	} else {
		q.WriteDisposition = bq.WriteEmpty
	}
	if opts.AllowLargeResults {
		q.AllowLargeResults = true
		q.DisableFlattenedResults = true
	}
	if opts.Batch {
		q.Priority = bq.BatchPriority
	}

	start := time.Now()
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("submitting query for %s: %w", dst, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for query job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("query job %s failed: %w", job.ID(), err)
	}
	c.logger.Debug("query finished", "destination", dst.String(), "job", job.ID(), "elapsed", time.Since(start))
	return nil
}

func (c *Client) Read(ctx context.Context, sql string) ([]warehouse.Row, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := c.client.Query(sql)
	q.UseLegacySQL = true
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading query: %w", err)
	}

	var rows []warehouse.Row
	for {
		var values map[string]bq.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating query results: %w", err)
		}
		row := make(warehouse.Row, len(values))
		for k, v := range values {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) GetSchema(ctx context.Context, ref warehouse.TableRef) (schema.FieldList, error) {
	md, err := c.table(ref).Metadata(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("%s: %w", ref, warehouse.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching schema of %s: %w", ref, err)
	}
	return fromBQSchema(md.Schema), nil
}

func (c *Client) UpdateSchema(ctx context.Context, ref warehouse.TableRef, fields schema.FieldList) error {
	_, err := c.table(ref).Update(ctx, bq.TableMetadataToUpdate{Schema: toBQSchema(fields)}, "")
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", ref, warehouse.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("updating schema of %s: %w", ref, err)
	}
	return nil
}

func (c *Client) CopyAppend(ctx context.Context, src, dst warehouse.TableRef) error {
	copier := c.table(dst).CopierFrom(c.table(src))
	copier.WriteDisposition = bq.WriteAppend
	job, err := copier.Run(ctx)
	if err != nil {
		return fmt.Errorf("submitting copy %s -> %s: %w", src, dst, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for copy job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("copy job %s failed: %w", job.ID(), err)
	}
	return nil
}

func (c *Client) ListTables(ctx context.Context, dataset string) ([]string, error) {
	it := c.client.Dataset(dataset).Tables(ctx)
	var ids []string
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing tables in %s: %w", dataset, err)
		}
		ids = append(ids, t.TableID)
	}
	return ids, nil
}

func (c *Client) DeleteTable(ctx context.Context, ref warehouse.TableRef) error {
	err := c.table(ref).Delete(ctx)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting %s: %w", ref, err)
	}
	return nil
}
