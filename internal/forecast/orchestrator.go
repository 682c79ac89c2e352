package forecast

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-forecast/internal/growth"
	"github.com/sells-group/market-forecast/internal/survey"
	"github.com/sells-group/market-forecast/internal/timeaxis"
)

// Settings is the immutable configuration of a forecast run.
type Settings struct {
	// Regions to process, in output order. Empty means every region in the
	// ceiling table, sorted.
	Regions []string
	// Skip lists regions excluded even when present in Regions.
	Skip []string
	// Service is the survey service column being forecast.
	Service string
	Horizon timeaxis.Horizon
	Fit     growth.Options
	// Concurrency bounds the number of regions fitted at once. Values below
	// one run regions sequentially.
	Concurrency int
}

// RegionFit summarises the fit of one region.
type RegionFit struct {
	Region       string        `json:"region"`
	L            float64       `json:"L"`
	Fit          growth.Result `json:"-"`
	Observations int           `json:"observations"`
	FirstDate    string        `json:"first_date"`
	LastDate     string        `json:"last_date"`
}

// Params returns the parameters the region's records were evaluated with:
// the fitted values, or the sentinel when the fit did not converge.
func (f RegionFit) Params() growth.Params {
	if !f.Fit.Converged() {
		return growth.Sentinel
	}
	return f.Fit.Params
}

// Result is the combined output of a run.
type Result struct {
	Records []Record
	Fits    []RegionFit
	// Skipped lists regions that had no observations.
	Skipped []string
}

// NonConvergent returns the regions whose fit fell back to the sentinel.
func (r *Result) NonConvergent() []string {
	var out []string
	for _, f := range r.Fits {
		if !f.Fit.Converged() {
			out = append(out, f.Region)
		}
	}
	return out
}

// Orchestrator fits and composes every configured region.
type Orchestrator struct {
	settings Settings
	ceilings CeilingTable
}

// NewOrchestrator validates settings against the ceiling table. It fails
// when the horizon is empty or any region to be processed has no ceiling,
// so no fitting starts on a bad configuration.
func NewOrchestrator(settings Settings, ceilings CeilingTable) (*Orchestrator, error) {
	if err := settings.Horizon.Validate(); err != nil {
		return nil, eris.Wrap(err, "forecast: horizon")
	}
	if settings.Service == "" {
		return nil, eris.New("forecast: no service to forecast")
	}

	o := &Orchestrator{settings: settings, ceilings: ceilings}

	var missing []string
	for _, region := range o.Regions() {
		if _, ok := ceilings.Lookup(region); !ok {
			missing = append(missing, region)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingCeiling, "no ceiling configured for region(s) %s", strings.Join(missing, ", "))
	}

	return o, nil
}

// Regions returns the regions to process: the configured list, or every
// ceiling region when none is configured, minus the skip list.
func (o *Orchestrator) Regions() []string {
	regions := o.settings.Regions
	if len(regions) == 0 {
		regions = o.ceilings.Regions()
	}

	skip := make(map[string]bool, len(o.settings.Skip))
	for _, s := range o.settings.Skip {
		skip[s] = true
	}

	seen := make(map[string]bool, len(regions))
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		if skip[r] || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

type regionOutput struct {
	fit     *RegionFit
	records []Record
}

// Run fits every region and concatenates the records in region order.
// Regions without observations are skipped and a non-convergent fit uses
// the sentinel parameters; neither aborts the run.
func (o *Orchestrator) Run(ctx context.Context, obs []survey.Observation) (*Result, error) {
	regions := o.Regions()
	outputs := make([]regionOutput, len(regions))

	limit := o.settings.Concurrency
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, region := range regions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs[i] = o.runRegion(region, obs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "forecast: run")
	}

	res := &Result{}
	for i, out := range outputs {
		if out.fit == nil {
			res.Skipped = append(res.Skipped, regions[i])
			continue
		}
		res.Fits = append(res.Fits, *out.fit)
		res.Records = append(res.Records, out.records...)
	}

	zap.L().Info("forecast complete",
		zap.Int("regions", len(res.Fits)),
		zap.Strings("skipped", res.Skipped),
		zap.Strings("non_convergent", res.NonConvergent()),
		zap.Int("records", len(res.Records)),
	)
	return res, nil
}

func (o *Orchestrator) runRegion(region string, obs []survey.Observation) regionOutput {
	log := zap.L().With(zap.String("region", region))

	view := survey.View(obs, region, o.settings.Service)
	if len(view) == 0 {
		log.Warn("no observations for region, skipping", zap.String("service", o.settings.Service))
		return regionOutput{}
	}

	// Presence was checked in NewOrchestrator.
	L, _ := o.ceilings.Lookup(region)

	x := make([]float64, len(view))
	y := make([]float64, len(view))
	for i, v := range view {
		x[i] = float64(v.DateNum)
		y[i] = v.Ratio
	}

	first, last := view[0].Date, view[len(view)-1].Date
	log.Info("building forecast",
		zap.String("history", first.Format("2006-01")+" - "+last.Format("2006-01")),
		zap.String("horizon_end", o.settings.Horizon.End.Format("2006-01")),
		zap.Float64("ceiling", L),
	)

	fit := growth.Fit(x, y, L, o.settings.Fit)
	if !fit.Converged() {
		log.Warn("failed to fit logistic model, using flat fallback",
			zap.Error(fit.Err),
			zap.Int("evaluations", fit.Evaluations),
			zap.Float64("fallback_value", growth.Sentinel.Eval(L, 0)),
		)
	} else {
		log.Debug("logistic fit converged",
			zap.Float64("k", fit.Params.K),
			zap.Float64("x0", fit.Params.X0),
			zap.Float64("rss", fit.RSS),
			zap.Int("evaluations", fit.Evaluations),
		)
	}

	return regionOutput{
		fit: &RegionFit{
			Region:       region,
			L:            L,
			Fit:          fit,
			Observations: len(view),
			FirstDate:    first.Format("2006-01-02"),
			LastDate:     last.Format("2006-01-02"),
		},
		records: Compose(region, view, L, fit, o.settings.Horizon),
	}
}

// SortByRegion orders records by (region, date) without disturbing the
// order of equal keys.
func SortByRegion(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Region != records[j].Region {
			return records[i].Region < records[j].Region
		}
		return records[i].Date.Before(records[j].Date)
	})
}
