// Package warehouse reads survey, market and economy extracts from the
// analytics Postgres warehouse and publishes forecast results back to it.
package warehouse

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-forecast/internal/db"
	"github.com/sells-group/market-forecast/internal/resilience"
)

// Warehouse runs extraction queries with transient-error retries.
type Warehouse struct {
	pool  db.Pool
	retry resilience.RetryConfig
}

// Option configures a Warehouse.
type Option func(*Warehouse)

// WithRetry replaces the default query retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(w *Warehouse) { w.retry = cfg }
}

// New returns a Warehouse backed by pool.
func New(pool db.Pool, opts ...Option) *Warehouse {
	w := &Warehouse{pool: pool, retry: resilience.DefaultRetryConfig()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Connect opens and pings a connection pool. Limits of zero keep the pgx
// defaults.
func Connect(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.New("warehouse: no database_url configured")
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: parse database_url")
	}
	if maxConns > 0 {
		pcfg.MaxConns = maxConns
	}
	if minConns > 0 {
		pcfg.MinConns = minConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "warehouse: ping database")
	}
	return pool, nil
}

// policy returns the retry policy for one named operation.
func (w *Warehouse) policy(operation string) resilience.RetryConfig {
	cfg := w.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("warehouse", operation)
	}
	return cfg
}

// query runs a retried read returning a slice.
func query[T any](ctx context.Context, w *Warehouse, operation string, fn func(ctx context.Context) ([]T, error)) ([]T, error) {
	out, err := resilience.DoVal(ctx, w.policy(operation), fn)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: %s", operation)
	}
	return out, nil
}
