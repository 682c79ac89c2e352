// Package forecast projects fitted growth curves over each region's history
// and the global horizon, and runs the per-region fit across the region set.
package forecast

import (
	"sort"
	"time"

	"github.com/sells-group/market-forecast/internal/growth"
	"github.com/sells-group/market-forecast/internal/survey"
	"github.com/sells-group/market-forecast/internal/timeaxis"
)

// Compose evaluates the curve for one region over its observed dates (flag
// A) and the horizon dates (flag F), returning rows sorted by date with one
// row per date. A horizon date that is also observed keeps only the
// observed row.
//
// view must be the region's observations as returned by survey.View. Every
// row is evaluated at its offset from the region's earliest observation;
// T is the offset from the earliest row of the combined series.
func Compose(region string, view []survey.Observation, L float64, fit growth.Result, horizon timeaxis.Horizon) []Record {
	if len(view) == 0 {
		return nil
	}

	p := fit.Params
	if !fit.Converged() {
		p = growth.Sentinel
	}
	ref := view[0].Date

	observed := make(map[time.Time]struct{}, len(view))
	records := make([]Record, 0, len(view)+len(horizon.Dates()))

	for _, o := range view {
		ratio := o.Ratio
		day := timeaxis.Day(o.Date)
		observed[day] = struct{}{}
		records = append(records, Record{
			Date:         day,
			Region:       region,
			ServiceRatio: &ratio,
			Forecast:     p.Eval(L, float64(o.DateNum)),
			Flag:         FlagActual,
			L:            L,
			K:            p.K,
			X0:           p.X0,
			DateNum:      o.DateNum,
		})
	}

	for _, d := range horizon.Dates() {
		if _, dup := observed[d]; dup {
			continue
		}
		num := timeaxis.DaysSince(ref, d)
		records = append(records, Record{
			Date:     d,
			Region:   region,
			Forecast: p.Eval(L, float64(num)),
			Flag:     FlagForecast,
			L:        L,
			K:        p.K,
			X0:       p.X0,
			DateNum:  num,
		})
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	minDate := records[0].Date
	for i := range records {
		records[i].T = timeaxis.DaysSince(minDate, records[i].Date)
		records[i].Formula = FormatFormula(L, p.K, p.X0, records[i].DateNum)
	}
	return records
}
