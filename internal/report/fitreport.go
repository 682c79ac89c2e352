package report

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/market-forecast/internal/forecast"
	"github.com/sells-group/market-forecast/internal/growth"
)

// formulaTolerance bounds the difference between a row's stored forecast
// and its re-evaluated formula.
const formulaTolerance = 1e-9

// FitReport summarises the per-region fits of one forecast run.
type FitReport struct {
	RunID       string         `yaml:"run_id,omitempty"`
	GeneratedAt time.Time      `yaml:"generated_at"`
	Service     string         `yaml:"service"`
	Horizon     string         `yaml:"horizon"`
	Skipped     []string       `yaml:"skipped,omitempty"`
	Regions     []RegionReport `yaml:"regions"`
}

// RegionReport is one region's fitted curve.
type RegionReport struct {
	Region       string        `yaml:"region"`
	L            float64       `yaml:"L"`
	K            float64       `yaml:"k"`
	X0           float64       `yaml:"x0"`
	Status       growth.Status `yaml:"status"`
	Reason       string        `yaml:"reason,omitempty"`
	Observations int           `yaml:"observations"`
	FirstDate    string        `yaml:"first_date"`
	LastDate     string        `yaml:"last_date"`
	Formula      string        `yaml:"formula"`
	Rows         int           `yaml:"rows"`
}

// BuildFitReport summarises res. Every record's formula is re-evaluated
// and must reproduce its forecast value.
func BuildFitReport(res *forecast.Result, runID, service, horizon string) (*FitReport, error) {
	rows := make(map[string]int, len(res.Fits))
	for _, r := range res.Records {
		v, err := forecast.EvaluateFormula(r.Formula)
		if err != nil {
			return nil, eris.Wrapf(err, "report: region %s", r.Region)
		}
		if math.Abs(v-r.Forecast) > formulaTolerance {
			return nil, eris.Errorf("report: region %s %s: formula gives %g, forecast is %g",
				r.Region, formatDate(r.Date), v, r.Forecast)
		}
		rows[r.Region]++
	}

	report := &FitReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Service:     service,
		Horizon:     horizon,
		Skipped:     res.Skipped,
		Regions:     make([]RegionReport, 0, len(res.Fits)),
	}
	for _, f := range res.Fits {
		p := f.Params()
		rr := RegionReport{
			Region:       f.Region,
			L:            f.L,
			K:            p.K,
			X0:           p.X0,
			Status:       f.Fit.Status,
			Observations: f.Observations,
			FirstDate:    f.FirstDate,
			LastDate:     f.LastDate,
			Formula:      formulaTemplate(f.L, p),
			Rows:         rows[f.Region],
		}
		if f.Fit.Err != nil {
			rr.Reason = f.Fit.Err.Error()
		}
		report.Regions = append(report.Regions, rr)
	}
	return report, nil
}

// formulaTemplate renders the curve with t left symbolic.
func formulaTemplate(L float64, p growth.Params) string {
	num := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return num(L) + " / (1 + exp(-" + num(p.K) + " * (t - " + num(p.X0) + ")))"
}

// WriteFitReport writes report as YAML to path.
func WriteFitReport(path string, report *FitReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "report: marshal fit report")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "report: create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}
