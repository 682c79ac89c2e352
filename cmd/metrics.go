package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/config"
	"github.com/sells-group/market-forecast/internal/estimate"
	"github.com/sells-group/market-forecast/internal/market"
	"github.com/sells-group/market-forecast/internal/masterdata"
	"github.com/sells-group/market-forecast/internal/report"
	"github.com/sells-group/market-forecast/internal/store"
	"github.com/sells-group/market-forecast/internal/warehouse"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Export market share and indexed revenue metrics",
	Long: "Reads company subscriptions and revenue per territory, derives market shares, " +
		"USD revenue and ARPU, computes the indexed local-currency metric from the master " +
		"table, and writes both tables as CSV.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("metrics"); err != nil {
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

		job := &metricsJob{
			source: warehouse.New(pool),
			filter: marketFilter(cfg.Market),
			master: master,
			csvDir: cfg.Report.CSVDir,
		}
		if cmd.Flags().Changed("csv-dir") {
			job.csvDir, _ = cmd.Flags().GetString("csv-dir")
		}

		_, err = recordRun(ctx, st, store.RunKindMetrics, job.run)
		return err
	},
}

func init() {
	metricsCmd.Flags().String("csv-dir", "", "directory for the metric CSVs (default: report.csv_dir)")
	rootCmd.AddCommand(metricsCmd)
}

// loadMaster reads the master table when one is configured.
func loadMaster(m config.MarketConfig) ([]estimate.MasterEntry, error) {
	if m.MasterFile == "" {
		zap.L().Warn("no market.master_file configured, indexed metrics will be empty")
		return nil, nil
	}
	return masterdata.LoadMasterTable(m.MasterFile, m.MasterSheet)
}

// metricsJob derives the market and indexed metric tables.
type metricsJob struct {
	source warehouseReader
	filter warehouse.Filter
	master []estimate.MasterEntry
	csvDir string
}

func (j *metricsJob) marketMetrics(ctx context.Context) ([]market.Metric, error) {
	rows, err := j.source.MarketRows(ctx, j.filter)
	if err != nil {
		return nil, err
	}
	return market.Compute(rows), nil
}

func (j *metricsJob) economy(ctx context.Context) ([]estimate.EconomyRow, error) {
	return j.source.EconomyRows(ctx, j.filter)
}

// tables returns the market metric and indexed metric tables.
func (j *metricsJob) tables(ctx context.Context) ([]report.Table, error) {
	metrics, err := j.marketMetrics(ctx)
	if err != nil {
		return nil, err
	}
	economy, err := j.economy(ctx)
	if err != nil {
		return nil, err
	}
	return []report.Table{
		report.MarketTable(metrics),
		report.EstimateTable(estimate.Calculate(economy, j.master)),
	}, nil
}

func (j *metricsJob) run(ctx context.Context, _ string) (store.RunSummary, error) {
	tables, err := j.tables(ctx)
	if err != nil {
		return store.RunSummary{}, err
	}
	return writeCSVs(j.csvDir, tables)
}

// writeCSVs writes each table to dir and counts the rows written.
func writeCSVs(dir string, tables []report.Table) (store.RunSummary, error) {
	var summary store.RunSummary
	for _, t := range tables {
		if _, err := report.WriteCSV(dir, t); err != nil {
			return summary, err
		}
		summary.Rows += int64(len(t.Rows))
	}
	return summary, nil
}
