package warehouse

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hourglass-data/hourglass/internal/schema"
)

// Breaker wraps a Warehouse with a circuit breaker. A flapping warehouse
// would otherwise make the orchestrator grind through the whole backfill
// horizon, failing each window slowly; the breaker fails the remaining
// calls fast instead. Not-found results never count as failures.
type Breaker struct {
	inner Warehouse
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit-breaking decorator around w. Five
// consecutive failures open the circuit for 30 seconds.
func NewBreaker(w Warehouse, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "warehouse",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("warehouse circuit state changed", "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// ErrNotFound is an answer, not an outage.
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})
	return &Breaker{inner: w, cb: cb}
}

func (b *Breaker) execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (b *Breaker) Exists(ctx context.Context, ref TableRef) (exists bool, err error) {
	err = b.execute(func() (e error) {
		exists, e = b.inner.Exists(ctx, ref)
		return e
	})
	return exists, err
}

func (b *Breaker) CreateTempTable(ctx context.Context, ref TableRef, ttl time.Duration) error {
	return b.execute(func() error { return b.inner.CreateTempTable(ctx, ref, ttl) })
}

func (b *Breaker) RunQuery(ctx context.Context, sql string, dst TableRef, opts QueryOptions) error {
	return b.execute(func() error { return b.inner.RunQuery(ctx, sql, dst, opts) })
}

func (b *Breaker) Read(ctx context.Context, sql string) (rows []Row, err error) {
	err = b.execute(func() (e error) {
		rows, e = b.inner.Read(ctx, sql)
		return e
	})
	return rows, err
}

func (b *Breaker) GetSchema(ctx context.Context, ref TableRef) (fields schema.FieldList, err error) {
	err = b.execute(func() (e error) {
		fields, e = b.inner.GetSchema(ctx, ref)
		return e
	})
	return fields, err
}

func (b *Breaker) UpdateSchema(ctx context.Context, ref TableRef, fields schema.FieldList) error {
	return b.execute(func() error { return b.inner.UpdateSchema(ctx, ref, fields) })
}

func (b *Breaker) CopyAppend(ctx context.Context, src, dst TableRef) error {
	return b.execute(func() error { return b.inner.CopyAppend(ctx, src, dst) })
}

func (b *Breaker) ListTables(ctx context.Context, dataset string) (tables []string, err error) {
	err = b.execute(func() (e error) {
		tables, e = b.inner.ListTables(ctx, dataset)
		return e
	})
	return tables, err
}

func (b *Breaker) DeleteTable(ctx context.Context, ref TableRef) error {
	return b.execute(func() error { return b.inner.DeleteTable(ctx, ref) })
}
