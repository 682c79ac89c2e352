package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/config"
	"github.com/sells-group/market-forecast/internal/estimate"
	"github.com/sells-group/market-forecast/internal/market"
	"github.com/sells-group/market-forecast/internal/store"
	"github.com/sells-group/market-forecast/internal/survey"
	"github.com/sells-group/market-forecast/internal/warehouse"
)

// warehouseReader is the part of the warehouse the commands read.
type warehouseReader interface {
	SurveyUsage(ctx context.Context) ([]survey.UsageRow, error)
	SampleSizes(ctx context.Context) ([]survey.SampleSize, error)
	ServiceUsage(ctx context.Context) ([]warehouse.ServiceUsage, error)
	MarketRows(ctx context.Context, f warehouse.Filter) ([]market.Row, error)
	EconomyRows(ctx context.Context, f warehouse.Filter) ([]estimate.EconomyRow, error)
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, nil)
}

func warehousePool(ctx context.Context) (*pgxpool.Pool, error) {
	return warehouse.Connect(ctx, cfg.Warehouse.DatabaseURL, cfg.Warehouse.MaxConns, cfg.Warehouse.MinConns)
}

func marketFilter(m config.MarketConfig) warehouse.Filter {
	return warehouse.Filter{
		BusinessLine: m.BusinessLine,
		RateType:     m.RateType,
		Territories:  m.Territories,
	}
}

// runFunc does the work of one recorded run.
type runFunc func(ctx context.Context, runID string) (store.RunSummary, error)

// recordRun wraps fn in a run history entry. The run is marked failed when
// fn returns an error, and that error is returned unchanged.
func recordRun(ctx context.Context, st store.Store, kind store.RunKind, fn runFunc) (*store.Run, error) {
	run, err := st.CreateRun(ctx, kind)
	if err != nil {
		return nil, eris.Wrap(err, "record run")
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(kind)))
	log.Info("run started")

	summary, runErr := fn(ctx, run.ID)
	if runErr != nil {
		// The caller's context may be cancelled; the failure is still recorded.
		if err := st.FailRun(context.WithoutCancel(ctx), run.ID, runErr.Error()); err != nil {
			log.Error("failed to record run failure", zap.Error(err))
		}
		log.Error("run failed", zap.Error(runErr))
		return run, runErr
	}

	if err := st.CompleteRun(ctx, run.ID, summary); err != nil {
		return run, eris.Wrap(err, "record run")
	}
	log.Info("run complete",
		zap.Int("regions", summary.RegionsProcessed),
		zap.Strings("skipped", summary.Skipped),
		zap.Strings("non_convergent", summary.NonConvergent),
		zap.Int64("rows", summary.Rows),
	)
	return run, nil
}
