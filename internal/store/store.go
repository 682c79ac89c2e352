// Package store records the history of forecast, metrics and sync runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// RunKind names the command that produced a run.
type RunKind string

const (
	RunKindForecast RunKind = "forecast"
	RunKindMetrics  RunKind = "metrics"
	RunKindSync     RunKind = "sync"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one recorded invocation.
type Run struct {
	ID               string     `json:"id"`
	Kind             RunKind    `json:"kind"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RegionsProcessed int        `json:"regions_processed"`
	Skipped          []string   `json:"skipped,omitempty"`
	NonConvergent    []string   `json:"non_convergent,omitempty"`
	Rows             int64      `json:"rows"`
	Error            string     `json:"error,omitempty"`
}

// RunSummary is what a completed run reports.
type RunSummary struct {
	RegionsProcessed int
	Skipped          []string
	NonConvergent    []string
	Rows             int64
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   RunKind   `json:"kind,omitempty"`
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store persists run history.
type Store interface {
	CreateRun(ctx context.Context, kind RunKind) (*Run, error)
	CompleteRun(ctx context.Context, runID string, summary RunSummary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the run history backend named by driver and applies its
// schema.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}
