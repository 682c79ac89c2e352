package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/config"
	"github.com/sells-group/market-forecast/internal/forecast"
	"github.com/sells-group/market-forecast/internal/growth"
	"github.com/sells-group/market-forecast/internal/masterdata"
	"github.com/sells-group/market-forecast/internal/report"
	"github.com/sells-group/market-forecast/internal/store"
	"github.com/sells-group/market-forecast/internal/survey"
	"github.com/sells-group/market-forecast/internal/timeaxis"
	"github.com/sells-group/market-forecast/internal/warehouse"
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Fit and project regional adoption curves",
	Long: "Reads survey usage from the warehouse, fits a logistic curve per region " +
		"against its configured ceiling, projects it over the forecast horizon, " +
		"and writes the combined series to CSV, charts, a fit report and the warehouse.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyForecastFlags(cmd, &cfg.Forecast)
		if err := cfg.Validate("forecast"); err != nil {
			return err
		}

		job, err := newForecastJob(cfg)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("csv-dir") {
			job.csvDir, _ = cmd.Flags().GetString("csv-dir")
		}
		if charts, _ := cmd.Flags().GetBool("charts"); charts {
			job.chartDir = cfg.Report.ChartDir
		}
		job.fitReport = cfg.Report.FitReport

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
		job.source = wh
		if noPublish, _ := cmd.Flags().GetBool("no-publish"); !noPublish {
			job.publisher = wh
		}

		_, err = recordRun(ctx, st, store.RunKindForecast, job.run)
		return err
	},
}

func init() {
	f := forecastCmd.Flags()
	f.StringSlice("regions", nil, "regions to forecast (default: every region with a ceiling)")
	f.StringSlice("skip", nil, "regions to leave out")
	f.String("csv-dir", "", "directory for the forecast CSV (default: report.csv_dir)")
	f.Bool("no-publish", false, "do not write results to the warehouse")
	f.Bool("charts", false, "render a PNG chart per region into report.chart_dir")
	f.Int("concurrency", 0, "regions fitted at once (default: forecast.concurrency)")
	rootCmd.AddCommand(forecastCmd)
}

// applyForecastFlags overlays command-line overrides on the loaded config.
func applyForecastFlags(cmd *cobra.Command, fc *config.ForecastConfig) {
	flags := cmd.Flags()
	if flags.Changed("regions") {
		fc.Regions, _ = flags.GetStringSlice("regions")
	}
	if flags.Changed("skip") {
		fc.SkipRegions, _ = flags.GetStringSlice("skip")
	}
	if flags.Changed("concurrency") {
		fc.Concurrency, _ = flags.GetInt("concurrency")
	}
}

// forecastSettings converts the forecast config into orchestrator settings.
func forecastSettings(fc config.ForecastConfig) (forecast.Settings, error) {
	g, err := timeaxis.ParseGranularity(fc.Granularity)
	if err != nil {
		return forecast.Settings{}, err
	}
	h, err := timeaxis.NewHorizon(fc.HorizonStart, fc.HorizonEnd, g)
	if err != nil {
		return forecast.Settings{}, err
	}

	opts := growth.DefaultOptions()
	if fc.InitialK != 0 {
		opts.InitialK = fc.InitialK
	}
	if fc.InitialX0 != 0 {
		opts.InitialX0 = fc.InitialX0
	}
	if fc.MaxIterations > 0 {
		opts.MaxEvaluations = fc.MaxIterations
	}

	return forecast.Settings{
		Regions:     fc.Regions,
		Skip:        fc.SkipRegions,
		Service:     fc.PrimaryService,
		Horizon:     h,
		Fit:         opts,
		Concurrency: fc.Concurrency,
	}, nil
}

// loadCeilings prefers ceilings listed in the config and falls back to the
// ceilings workbook.
func loadCeilings(fc config.ForecastConfig) (forecast.CeilingTable, error) {
	if len(fc.Ceilings) > 0 {
		return forecast.NewCeilingTable(fc.CeilingMap())
	}
	if fc.CeilingsFile == "" {
		return forecast.CeilingTable{}, eris.New("forecast: no ceilings configured")
	}
	return masterdata.LoadCeilings(fc.CeilingsFile, fc.CeilingsSheet)
}

// forecastPublisher writes forecast rows and fitted parameters to the
// warehouse.
type forecastPublisher interface {
	Publish(ctx context.Context, runID string, records []forecast.Record) (int64, error)
	PublishFits(ctx context.Context, runID string, fits []forecast.RegionFit) (int64, error)
}

// forecastJob is one forecast run and its outputs. Empty output fields and
// a nil publisher switch that output off.
type forecastJob struct {
	orch      *forecast.Orchestrator
	assembler *survey.Assembler
	settings  forecast.Settings
	source    warehouseReader
	publisher forecastPublisher

	csvDir    string
	chartDir  string
	fitReport string
}

// newForecastJob validates the forecast configuration, including every
// region's ceiling, before anything is read from the warehouse.
func newForecastJob(c *config.Config) (*forecastJob, error) {
	settings, err := forecastSettings(c.Forecast)
	if err != nil {
		return nil, err
	}
	ceilings, err := loadCeilings(c.Forecast)
	if err != nil {
		return nil, err
	}
	orch, err := forecast.NewOrchestrator(settings, ceilings)
	if err != nil {
		return nil, err
	}
	asm, err := survey.NewAssembler(c.Forecast.Services, c.Forecast.PrimaryService, c.Forecast.Jitter)
	if err != nil {
		return nil, err
	}
	return &forecastJob{
		orch:      orch,
		assembler: asm,
		settings:  settings,
		csvDir:    c.Report.CSVDir,
	}, nil
}

// observations reads the survey extract and assembles adoption ratios.
func (j *forecastJob) observations(ctx context.Context) ([]survey.Observation, error) {
	usage, err := j.source.SurveyUsage(ctx)
	if err != nil {
		return nil, err
	}
	sizes, err := j.source.SampleSizes(ctx)
	if err != nil {
		return nil, err
	}
	obs := j.assembler.Assemble(usage, sizes)
	zap.L().Info("survey assembled",
		zap.Int("usage_rows", len(usage)),
		zap.Int("observations", len(obs)),
	)
	return obs, nil
}

// forecast runs the orchestrator over the warehouse survey data.
func (j *forecastJob) forecast(ctx context.Context) (*forecast.Result, error) {
	obs, err := j.observations(ctx)
	if err != nil {
		return nil, err
	}
	return j.orch.Run(ctx, obs)
}

func (j *forecastJob) run(ctx context.Context, runID string) (store.RunSummary, error) {
	res, err := j.forecast(ctx)
	if err != nil {
		return store.RunSummary{}, err
	}

	summary := store.RunSummary{
		RegionsProcessed: len(res.Fits),
		Skipped:          res.Skipped,
		NonConvergent:    res.NonConvergent(),
		Rows:             int64(len(res.Records)),
	}

	if j.csvDir != "" {
		if _, err := report.WriteCSV(j.csvDir, report.ForecastTable(res.Records)); err != nil {
			return summary, err
		}
	}

	if j.chartDir != "" {
		for _, f := range res.Fits {
			if err := report.RenderChart(report.ChartPath(j.chartDir, f.Region), f.Region, res.Records); err != nil {
				return summary, err
			}
		}
	}

	if j.fitReport != "" {
		h := j.settings.Horizon
		horizon := timeaxis.Label(h.Start, h.Granularity) + "-" + timeaxis.Label(h.End, h.Granularity)
		rep, err := report.BuildFitReport(res, runID, j.settings.Service, horizon)
		if err != nil {
			return summary, err
		}
		if err := report.WriteFitReport(j.fitReport, rep); err != nil {
			return summary, err
		}
	}

	if j.publisher != nil {
		n, err := j.publisher.Publish(ctx, runID, res.Records)
		if err != nil {
			return summary, err
		}
		summary.Rows = n
		if _, err := j.publisher.PublishFits(ctx, runID, res.Fits); err != nil {
			return summary, err
		}
	}
	return summary, nil
}
