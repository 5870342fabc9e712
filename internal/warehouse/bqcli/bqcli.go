// Package bqcli implements the warehouse interface by driving the bq
// command-line client as a subprocess. It exists for environments where the
// job runs from cron next to an already-authenticated bq install.
package bqcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hourglass-data/hourglass/internal/schema"
	"github.com/hourglass-data/hourglass/internal/warehouse"
)

// Client implements warehouse.Warehouse by shelling out to bq.
type Client struct {
	binary  string
	project string
	logger  *slog.Logger
}

// New creates a bq-subprocess warehouse. binary defaults to "bq".
func New(binary, project string, logger *slog.Logger) *Client {
	if binary == "" {
		binary = "bq"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{binary: binary, project: project, logger: logger}
}

// run executes bq with the shared flags and returns stdout.
func (c *Client) run(ctx context.Context, format string, args ...string) ([]byte, error) {
	full := []string{"-q", "--headless", "--format", format, "--project_id", c.project}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, c.binary, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("bq command finished", "args", strings.Join(args, " "), "elapsed", time.Since(start))

	if err != nil {
		if strings.Contains(stderr.String(), "Not found") {
			return nil, fmt.Errorf("bq %s: %w", args[0], warehouse.ErrNotFound)
		}
		return nil, fmt.Errorf("bq %s: %w (stderr: %s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

var sqlComment = regexp.MustCompile(`--[^\n]*`)

// sanitizeSQL strips comments and newlines so the query survives the
// command line.
func sanitizeSQL(sql string) string {
	return strings.ReplaceAll(sqlComment.ReplaceAllString(sql, ""), "\n", " ")
}

func (c *Client) Exists(ctx context.Context, ref warehouse.TableRef) (bool, error) {
	_, err := c.run(ctx, "none", "show", ref.Dataset+"."+ref.Table)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, warehouse.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (c *Client) CreateTempTable(ctx context.Context, ref warehouse.TableRef, ttl time.Duration) error {
	_, err := c.run(ctx, "none", "mk",
		"--expiration", strconv.Itoa(int(ttl.Seconds())),
		"-t", ref.Dataset+"."+ref.Table)
	return err
}

func (c *Client) RunQuery(ctx context.Context, sql string, dst warehouse.TableRef, opts warehouse.QueryOptions) error {
	args := []string{"query"}
	if opts.AllowLargeResults {
		args = append(args, "--allow_large_results", "--noflatten")
	}
	if opts.Batch {
		args = append(args, "--batch")
	}
	if opts.Append {
		args = append(args, "--append_table")
	}
	if !opts.LegacySQL {
		args = append(args, "--nouse_legacy_sql")
	}
	args = append(args, "--destination_table", dst.Dataset+"."+dst.Table, sanitizeSQL(sql))

	_, err := c.run(ctx, "none", args...)
	return err
}

func (c *Client) Read(ctx context.Context, sql string) ([]warehouse.Row, error) {
	out, err := c.run(ctx, "json", "query", sanitizeSQL(sql))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, nil
	}
	var rows []warehouse.Row
	if err := json.Unmarshal(out, &rows); err != nil {
		return nil, fmt.Errorf("parsing bq query output: %w", err)
	}
	return rows, nil
}

// showOutput is the part of `bq show` output this adapter consumes.
type showOutput struct {
	Schema struct {
		Fields schema.FieldList `json:"fields"`
	} `json:"schema"`
}

func (c *Client) GetSchema(ctx context.Context, ref warehouse.TableRef) (schema.FieldList, error) {
	out, err := c.run(ctx, "json", "show", ref.Dataset+"."+ref.Table)
	if err != nil {
		return nil, err
	}
	var parsed showOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parsing bq show output: %w", err)
	}
	return parsed.Schema.Fields, nil
}

func (c *Client) UpdateSchema(ctx context.Context, ref warehouse.TableRef, fields schema.FieldList) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	f, err := os.CreateTemp("", "hourglass_schema_*.json")
	if err != nil {
		return fmt.Errorf("creating schema temp file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing schema temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	_, err = c.run(ctx, "none", "update", "--schema="+f.Name(), ref.Dataset+"."+ref.Table)
	return err
}

func (c *Client) CopyAppend(ctx context.Context, src, dst warehouse.TableRef) error {
	_, err := c.run(ctx, "none", "cp", "--append_table",
		src.Dataset+"."+src.Table, dst.Dataset+"."+dst.Table)
	return err
}

// lsEntry is one table record in `bq ls` output.
type lsEntry struct {
	TableID string `json:"tableId"`
}

func (c *Client) ListTables(ctx context.Context, dataset string) ([]string, error) {
	out, err := c.run(ctx, "json", "ls", "-n", "100000", dataset)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, nil
	}
	var entries []lsEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("parsing bq ls output: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.TableID)
	}
	return ids, nil
}

func (c *Client) DeleteTable(ctx context.Context, ref warehouse.TableRef) error {
	_, err := c.run(ctx, "none", "rm", "-t", "-f", ref.Dataset+"."+ref.Table)
	if errors.Is(err, warehouse.ErrNotFound) {
		return nil
	}
	return err
}
