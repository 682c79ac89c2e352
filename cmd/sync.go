package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/estimate"
	"github.com/sells-group/market-forecast/internal/report"
	"github.com/sells-group/market-forecast/internal/store"
	"github.com/sells-group/market-forecast/internal/warehouse"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh report workbooks with the latest figures",
	Long: "Builds the basic info, market metric, indexed metric, usage forecast and " +
		"service usage tables and writes each into the configured workbooks, keeping " +
		"formulas and other sheets intact. Tables are also written as CSV.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		fj, err := newForecastJob(cfg)
		if err != nil {
			return err
		}
		master, err := loadMaster(cfg.Market)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		wh := warehouse.New(pool)
		fj.source = wh

		job := &syncJob{
			source:    wh,
			forecast:  fj,
			metrics:   &metricsJob{source: wh, filter: marketFilter(cfg.Market), master: master},
			workbooks: cfg.Report.Workbooks,
			csvDir:    cfg.Report.CSVDir,
			opts:      report.SyncOptions{TabColor: cfg.Report.TabColor},
		}
		_, err = recordRun(ctx, st, store.RunKindSync, job.run)
		return err
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

// syncJob rebuilds every report table and writes it to the workbooks.
type syncJob struct {
	source    warehouseReader
	forecast  *forecastJob
	metrics   *metricsJob
	workbooks []string
	csvDir    string
	opts      report.SyncOptions
}

// tables returns the report tables in workbook order.
func (j *syncJob) tables(ctx context.Context) ([]report.Table, *store.RunSummary, error) {
	economy, err := j.metrics.economy(ctx)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := j.metrics.marketMetrics(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := j.forecast.forecast(ctx)
	if err != nil {
		return nil, nil, err
	}
	usage, err := j.source.ServiceUsage(ctx)
	if err != nil {
		return nil, nil, err
	}

	tables := []report.Table{
		report.BasicInfoTable(economy),
		report.MarketTable(metrics),
		report.EstimateTable(estimate.Calculate(economy, j.metrics.master)),
		report.ForecastTable(res.Records),
		report.ServiceUsageTable(usage),
	}
	summary := &store.RunSummary{
		RegionsProcessed: len(res.Fits),
		Skipped:          res.Skipped,
		NonConvergent:    res.NonConvergent(),
	}
	return tables, summary, nil
}

func (j *syncJob) run(ctx context.Context, _ string) (store.RunSummary, error) {
	tables, summary, err := j.tables(ctx)
	if err != nil {
		return store.RunSummary{}, err
	}
	for _, t := range tables {
		summary.Rows += int64(len(t.Rows))
	}

	if j.csvDir != "" {
		if _, err := writeCSVs(j.csvDir, tables); err != nil {
			return *summary, err
		}
	}

	updated := 0
	for _, path := range j.workbooks {
		ok, err := report.SyncWorkbook(path, tables, j.opts)
		if err != nil {
			return *summary, err
		}
		if ok {
			updated++
		}
	}
	zap.L().Info("workbooks synced", zap.Int("updated", updated), zap.Int("configured", len(j.workbooks)))
	return *summary, nil
}
