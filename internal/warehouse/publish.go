package warehouse

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/db"
	"github.com/sells-group/market-forecast/internal/forecast"
	"github.com/sells-group/market-forecast/internal/resilience"
)

// ForecastTable receives published forecast records.
const ForecastTable = "analytics.user_forecast"

var forecastColumns = []string{
	"run_id", "region", "date", "service_ratio", "forecast", "forecast_flag",
	"l", "k", "x0", "t", "date_num", "formula",
}

// Publish upserts records under runID. Re-publishing a run replaces its
// rows.
func (w *Warehouse) Publish(ctx context.Context, runID string, records []forecast.Record) (int64, error) {
	if runID == "" {
		return 0, eris.New("warehouse: publish needs a run id")
	}
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			runID, r.Region, r.Date, r.ServiceRatio, r.Forecast, string(r.Flag),
			r.L, r.K, r.X0, r.T, r.DateNum, r.Formula,
		}
	}

	cfg := db.UpsertConfig{
		Table:        ForecastTable,
		Columns:      forecastColumns,
		ConflictKeys: []string{"run_id", "region", "date"},
	}

	n, err := resilience.DoVal(ctx, w.policy("publish"), func(ctx context.Context) (int64, error) {
		return db.BulkUpsert(ctx, w.pool, cfg, rows)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "warehouse: publish run %s", runID)
	}

	zap.L().Info("forecast published",
		zap.String("run_id", runID),
		zap.String("table", ForecastTable),
		zap.Int64("rows", n),
	)
	return n, nil
}

// FitsTable receives the fitted parameters of each region.
const FitsTable = "analytics.forecast_fits"

var fitColumns = []string{
	"run_id", "region", "l", "k", "x0", "status", "observations",
	"first_date", "last_date", "evaluations", "rss",
}

// PublishFits copies each region's fitted parameters under runID. Run IDs
// are unique per run, so rows are appended rather than merged.
func (w *Warehouse) PublishFits(ctx context.Context, runID string, fits []forecast.RegionFit) (int64, error) {
	if runID == "" {
		return 0, eris.New("warehouse: publish fits needs a run id")
	}

	rows := make([][]any, 0, len(fits))
	for _, f := range fits {
		first, err := time.Parse("2006-01-02", f.FirstDate)
		if err != nil {
			return 0, eris.Wrapf(err, "warehouse: region %s first date", f.Region)
		}
		last, err := time.Parse("2006-01-02", f.LastDate)
		if err != nil {
			return 0, eris.Wrapf(err, "warehouse: region %s last date", f.Region)
		}
		var rss *float64
		if f.Fit.Converged() {
			v := f.Fit.RSS
			rss = &v
		}
		p := f.Params()
		rows = append(rows, []any{
			runID, f.Region, f.L, p.K, p.X0, string(f.Fit.Status), f.Observations,
			first, last, f.Fit.Evaluations, rss,
		})
	}

	n, err := resilience.DoVal(ctx, w.policy("publish fits"), func(ctx context.Context) (int64, error) {
		return db.CopyFrom(ctx, w.pool, FitsTable, fitColumns, rows)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "warehouse: publish fits for run %s", runID)
	}
	return n, nil
}
