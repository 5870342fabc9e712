// Package testutil provides in-memory fakes for the warehouse and clock.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hourglass-data/hourglass/internal/schema"
	"github.com/hourglass-data/hourglass/internal/warehouse"
)

// QueryCall records one RunQuery invocation.
type QueryCall struct {
	SQL  string
	Dst  warehouse.TableRef
	Opts warehouse.QueryOptions
}

// FakeWarehouse is an in-memory Warehouse. Tables are tracked by their
// schema; every mutating call is appended to Mutations so tests can
// assert a code path touched nothing.
type FakeWarehouse struct {
	mu sync.Mutex

	// Schemas maps TableRef.String() to the table's schema. A present key
	// means the table exists.
	Schemas map[string]schema.FieldList

	// Mutations records mutating calls in order, e.g. "RunQuery p:d.t".
	Mutations []string

	// Queries records every RunQuery call in detail.
	Queries []QueryCall

	// ReadFunc handles Read calls. Nil means every read returns no rows.
	ReadFunc func(sql string) ([]warehouse.Row, error)

	// QuerySchema is the schema given to tables materialized by RunQuery.
	QuerySchema schema.FieldList

	// Err, when non-nil, is returned by every call. Use it to simulate a
	// warehouse outage.
	Err error
}

// NewFakeWarehouse creates an empty fake.
func NewFakeWarehouse() *FakeWarehouse {
	return &FakeWarehouse{Schemas: map[string]schema.FieldList{}}
}

// SetTable creates or replaces a table.
func (f *FakeWarehouse) SetTable(ref warehouse.TableRef, s schema.FieldList) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Schemas[ref.String()] = s
}

func (f *FakeWarehouse) record(op string, ref warehouse.TableRef) {
	f.Mutations = append(f.Mutations, op+" "+ref.String())
}

// MutationCount returns how many mutating calls the fake has seen.
func (f *FakeWarehouse) MutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Mutations)
}

// Exists reports whether the table was created on the fake.
func (f *FakeWarehouse) Exists(_ context.Context, ref warehouse.TableRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	_, ok := f.Schemas[ref.String()]
	return ok, nil
}

// CreateTempTable creates an empty table; the ttl is ignored.
func (f *FakeWarehouse) CreateTempTable(_ context.Context, ref warehouse.TableRef, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.record("CreateTempTable", ref)
	f.Schemas[ref.String()] = nil
	return nil
}

// RunQuery records the call and materializes dst with QuerySchema.
func (f *FakeWarehouse) RunQuery(_ context.Context, sql string, dst warehouse.TableRef, opts warehouse.QueryOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.record("RunQuery", dst)
	f.Queries = append(f.Queries, QueryCall{SQL: sql, Dst: dst, Opts: opts})
	if _, ok := f.Schemas[dst.String()]; !ok {
		f.Schemas[dst.String()] = f.QuerySchema.Clone()
	}
	return nil
}

// Read delegates to ReadFunc.
func (f *FakeWarehouse) Read(_ context.Context, sql string) ([]warehouse.Row, error) {
	f.mu.Lock()
	fn, err := f.ReadFunc, f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, nil
	}
	return fn(sql)
}

// GetSchema returns the table's schema or warehouse.ErrNotFound.
func (f *FakeWarehouse) GetSchema(_ context.Context, ref warehouse.TableRef) (schema.FieldList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.Schemas[ref.String()]
	if !ok {
		return nil, warehouse.ErrNotFound
	}
	return s.Clone(), nil
}

// UpdateSchema replaces the table's schema.
func (f *FakeWarehouse) UpdateSchema(_ context.Context, ref warehouse.TableRef, fields schema.FieldList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.Schemas[ref.String()]; !ok {
		return warehouse.ErrNotFound
	}
	f.record("UpdateSchema", ref)
	f.Schemas[ref.String()] = fields.Clone()
	return nil
}

// CopyAppend creates dst with src's schema when absent.
func (f *FakeWarehouse) CopyAppend(_ context.Context, src, dst warehouse.TableRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	s, ok := f.Schemas[src.String()]
	if !ok {
		return warehouse.ErrNotFound
	}
	f.record("CopyAppend", dst)
	if _, ok := f.Schemas[dst.String()]; !ok {
		f.Schemas[dst.String()] = s.Clone()
	}
	return nil
}

// ListTables returns the sorted table ids in the dataset.
func (f *FakeWarehouse) ListTables(_ context.Context, dataset string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var names []string
	for key := range f.Schemas {
		qualifier := key
		if i := strings.IndexByte(qualifier, ':'); i >= 0 {
			qualifier = qualifier[i+1:]
		}
		if strings.HasPrefix(qualifier, dataset+".") {
			names = append(names, qualifier[len(dataset)+1:])
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteTable removes the table; deleting an absent table succeeds.
func (f *FakeWarehouse) DeleteTable(_ context.Context, ref warehouse.TableRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.record("DeleteTable", ref)
	delete(f.Schemas, ref.String())
	return nil
}

// FakeClock is a manually advanced clock. Sleep advances it immediately
// and records the requested duration.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

// NewFakeClock creates a clock frozen at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep records d, advances the clock by d, and returns immediately.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sleeps = append(c.Sleeps, d)
	c.now = c.now.Add(d)
	return nil
}
