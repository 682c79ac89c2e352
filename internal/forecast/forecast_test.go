package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-forecast/internal/growth"
	"github.com/sells-group/market-forecast/internal/survey"
	"github.com/sells-group/market-forecast/internal/timeaxis"
)

var historyStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func observations(region string, offsets []int, ratios []float64) []survey.Observation {
	out := make([]survey.Observation, len(offsets))
	for i, d := range offsets {
		out[i] = survey.Observation{
			Date:    historyStart.AddDate(0, 0, d),
			Region:  region,
			Service: "service_1",
			Ratio:   ratios[i],
		}
	}
	return out
}

func horizon(t *testing.T, start, end string) timeaxis.Horizon {
	t.Helper()
	h, err := timeaxis.NewHorizon(start, end, timeaxis.Quarterly)
	require.NoError(t, err)
	return h
}

func ceilings(t *testing.T, m map[string]float64) CeilingTable {
	t.Helper()
	c, err := NewCeilingTable(m)
	require.NoError(t, err)
	return c
}

func settings(t *testing.T, regions, skip []string) Settings {
	return Settings{
		Regions:     regions,
		Skip:        skip,
		Service:     "service_1",
		Horizon:     horizon(t, "2023Q2", "2024Q4"),
		Fit:         growth.DefaultOptions(),
		Concurrency: 1,
	}
}

func recordAt(t *testing.T, recs []Record, region string, dateNum int) Record {
	t.Helper()
	for _, r := range recs {
		if r.Region == region && r.DateNum == dateNum {
			return r
		}
	}
	t.Fatalf("no %s record at offset %d", region, dateNum)
	return Record{}
}

func assertComposed(t *testing.T, recs []Record) {
	t.Helper()
	seen := map[string]bool{}
	for i, r := range recs {
		key := r.Region + r.Date.Format("2006-01-02")
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true

		if i > 0 && recs[i-1].Region == r.Region {
			assert.True(t, recs[i-1].Date.Before(r.Date), "records out of order at %d", i)
		}

		v, err := EvaluateFormula(r.Formula)
		require.NoError(t, err)
		assert.InDelta(t, r.Forecast, v, 1e-12, r.Formula)

		if r.Flag == FlagActual {
			assert.NotNil(t, r.ServiceRatio)
		} else {
			assert.Nil(t, r.ServiceRatio)
		}
	}
}

func TestNewCeilingTable(t *testing.T) {
	_, err := NewCeilingTable(map[string]float64{"North": 0})
	require.Error(t, err)

	src := map[string]float64{"North": 100, "East": 40}
	c, err := NewCeilingTable(src)
	require.NoError(t, err)
	src["North"] = 1

	v, ok := c.Lookup("North")
	assert.True(t, ok)
	assert.Equal(t, 100.0, v)
	assert.Equal(t, []string{"East", "North"}, c.Regions())
	assert.Equal(t, 2, c.Len())
}

func TestFormula_RoundTrip(t *testing.T) {
	f := FormatFormula(100, 0.0283, -12.5, 60)
	assert.Equal(t, "100 / (1 + exp(-0.0283 * (60 - -12.5)))", f)

	terms, err := ParseFormula(f)
	require.NoError(t, err)
	assert.Equal(t, FormulaTerms{L: 100, K: 0.0283, X0: -12.5, T: 60}, terms)

	v, err := EvaluateFormula(f)
	require.NoError(t, err)
	assert.Equal(t, growth.Logistic(100, 0.0283, -12.5, 60), v)

	_, err = ParseFormula("L / 2")
	assert.Error(t, err)
}

func TestCompose_FlagsAndOrdering(t *testing.T) {
	view := survey.View(observations("North", []int{0, 30, 60, 90}, []float64{1e-6, 0.1, 0.5, 0.9}), "North", "service_1")
	fit := growth.Result{Params: growth.Params{K: 0.07, X0: 60}, Status: growth.StatusConverged}

	recs := Compose("North", view, 1, fit, horizon(t, "2023Q2", "2024Q4"))
	require.Len(t, recs, 4+7)
	assertComposed(t, recs)

	var actual, projected int
	for _, r := range recs {
		switch r.Flag {
		case FlagActual:
			actual++
		case FlagForecast:
			projected++
		}
		assert.Equal(t, 1.0, r.L)
		assert.Equal(t, 0.07, r.K)
		assert.Equal(t, 60.0, r.X0)
	}
	assert.Equal(t, 4, actual)
	assert.Equal(t, 7, projected)

	assert.InDelta(t, 0.5, recordAt(t, recs, "North", 60).Forecast, 1e-12)
}

func TestCompose_ObservedHorizonDateKeepsActualRow(t *testing.T) {
	q := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)
	view := survey.View([]survey.Observation{
		{Date: q.AddDate(0, -3, 0), Region: "North", Service: "service_1", Ratio: 0.1},
		{Date: q, Region: "North", Service: "service_1", Ratio: 0.2},
	}, "North", "service_1")

	recs := Compose("North", view, 1, growth.Result{Status: growth.StatusNonConvergent}, horizon(t, "2023Q2", "2023Q4"))
	assertComposed(t, recs)
	require.Len(t, recs, 4)

	for _, r := range recs {
		if r.Date.Equal(q) {
			assert.Equal(t, FlagActual, r.Flag)
		}
	}
}

func TestCompose_HorizonBeforeHistoryKeepsSeparateOffsets(t *testing.T) {
	view := survey.View(observations("North", []int{0, 90}, []float64{0.1, 0.2}), "North", "service_1")
	fit := growth.Result{Params: growth.Params{K: 0.01, X0: 30}, Status: growth.StatusConverged}

	recs := Compose("North", view, 1, fit, horizon(t, "2022Q3", "2023Q1"))
	assertComposed(t, recs)

	first := recs[0]
	assert.Equal(t, time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, 0, first.T)
	assert.Equal(t, -93, first.DateNum)

	hist := recordAt(t, recs, "North", 0)
	assert.Equal(t, 93, hist.T)
	assert.Equal(t, FlagActual, hist.Flag)
}

func TestCompose_SentinelIsHalfCeiling(t *testing.T) {
	view := survey.View(observations("North", []int{0, 30}, []float64{1e-6, 1e-6}), "North", "service_1")

	recs := Compose("North", view, 100, growth.Result{Params: growth.Params{K: 3, X0: 9}}, horizon(t, "2023Q2", "2024Q4"))
	require.NotEmpty(t, recs)
	for _, r := range recs {
		assert.Equal(t, 50.0, r.Forecast)
		assert.Equal(t, 0.0, r.K)
		assert.Equal(t, 0.0, r.X0)
	}
}

func TestCompose_EmptyView(t *testing.T) {
	assert.Nil(t, Compose("North", nil, 1, growth.Result{}, horizon(t, "2023Q2", "2024Q4")))
}

func TestOrchestrator_GrowthScenario(t *testing.T) {
	o, err := NewOrchestrator(settings(t, []string{"North"}, nil), ceilings(t, map[string]float64{"North": 1}))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), observations("North", []int{0, 30, 60, 90}, []float64{1e-6, 0.1, 0.5, 0.9}))
	require.NoError(t, err)

	require.Len(t, res.Fits, 1)
	fit := res.Fits[0]
	require.True(t, fit.Fit.Converged())
	assert.Greater(t, fit.Fit.Params.K, 0.0)
	assert.Equal(t, 4, fit.Observations)
	assert.Empty(t, res.NonConvergent())

	at60 := recordAt(t, res.Records, "North", 60)
	assert.InDelta(t, 0.5, at60.Forecast, 0.5*0.05)
	assertComposed(t, res.Records)
}

func TestOrchestrator_GrowthScenarioHighCeiling(t *testing.T) {
	o, err := NewOrchestrator(settings(t, []string{"North"}, nil), ceilings(t, map[string]float64{"North": 100}))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), observations("North", []int{0, 30, 60, 90}, []float64{1e-6, 0.1, 0.5, 0.9}))
	require.NoError(t, err)

	require.Len(t, res.Fits, 1)
	require.True(t, res.Fits[0].Fit.Converged())
	assert.Greater(t, res.Fits[0].Fit.Params.K, 0.0)
}

func TestOrchestrator_FlatSeriesUsesSentinel(t *testing.T) {
	o, err := NewOrchestrator(settings(t, []string{"North"}, nil), ceilings(t, map[string]float64{"North": 100}))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), observations("North", []int{0, 30, 60, 90}, []float64{1e-6, 1e-6, 1e-6, 1e-6}))
	require.NoError(t, err)

	assert.Equal(t, []string{"North"}, res.NonConvergent())
	require.NotEmpty(t, res.Records)
	for _, r := range res.Records {
		assert.Equal(t, 50.0, r.Forecast)
	}
}

func TestOrchestrator_MissingCeilingFailsBeforeFitting(t *testing.T) {
	_, err := NewOrchestrator(settings(t, []string{"North", "South"}, nil), ceilings(t, map[string]float64{"North": 100}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCeiling))
	assert.Contains(t, err.Error(), "South")
}

func TestOrchestrator_MissingCeilingForSkippedRegionIsIgnored(t *testing.T) {
	_, err := NewOrchestrator(settings(t, []string{"North", "South"}, []string{"South"}), ceilings(t, map[string]float64{"North": 100}))
	assert.NoError(t, err)
}

func TestOrchestrator_EmptyHorizon(t *testing.T) {
	s := settings(t, []string{"North"}, nil)
	s.Horizon = timeaxis.Horizon{
		Start:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Granularity: timeaxis.Quarterly,
	}
	_, err := NewOrchestrator(s, ceilings(t, map[string]float64{"North": 100}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, timeaxis.ErrEmptyHorizon))
}

func TestOrchestrator_SkipListAndEmptyRegions(t *testing.T) {
	c := ceilings(t, map[string]float64{"North": 1, "South": 1, "East": 1, "West": 1})
	o, err := NewOrchestrator(settings(t, []string{"West", "North", "South", "East"}, []string{"South"}), c)
	require.NoError(t, err)
	assert.Equal(t, []string{"West", "North", "East"}, o.Regions())

	obs := append(
		observations("North", []int{0, 30, 60, 90}, []float64{1e-6, 0.1, 0.5, 0.9}),
		observations("South", []int{0, 30}, []float64{0.1, 0.2})...,
	)
	obs = append(obs, observations("West", []int{0, 91}, []float64{0.2, 0.3})...)

	res, err := o.Run(context.Background(), obs)
	require.NoError(t, err)

	assert.Equal(t, []string{"East"}, res.Skipped)
	require.Len(t, res.Fits, 2)
	assert.Equal(t, "West", res.Fits[0].Region)
	assert.Equal(t, "North", res.Fits[1].Region)

	regions := map[string]bool{}
	for _, r := range res.Records {
		regions[r.Region] = true
	}
	assert.Equal(t, map[string]bool{"West": true, "North": true}, regions)
	// Concatenation follows region order.
	assert.Equal(t, "West", res.Records[0].Region)
	assertComposed(t, res.Records)
}

func TestOrchestrator_DefaultsToCeilingRegions(t *testing.T) {
	o, err := NewOrchestrator(settings(t, nil, []string{"B"}), ceilings(t, map[string]float64{"C": 1, "A": 1, "B": 1}))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, o.Regions())
}

func TestOrchestrator_ConcurrentMatchesSequential(t *testing.T) {
	c := ceilings(t, map[string]float64{"North": 1, "South": 1, "East": 1})
	obs := append(
		observations("North", []int{0, 30, 60, 90}, []float64{1e-6, 0.1, 0.5, 0.9}),
		observations("South", []int{0, 30, 60, 90}, []float64{1e-6, 1e-6, 1e-6, 1e-6})...,
	)
	obs = append(obs, observations("East", []int{0, 60, 120}, []float64{0.05, 0.2, 0.4})...)

	seq := settings(t, []string{"North", "South", "East"}, nil)
	par := seq
	par.Concurrency = 3

	o1, err := NewOrchestrator(seq, c)
	require.NoError(t, err)
	o2, err := NewOrchestrator(par, c)
	require.NoError(t, err)

	r1, err := o1.Run(context.Background(), obs)
	require.NoError(t, err)
	r2, err := o2.Run(context.Background(), obs)
	require.NoError(t, err)

	assert.Equal(t, r1.Records, r2.Records)
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	o, err := NewOrchestrator(settings(t, []string{"North"}, nil), ceilings(t, map[string]float64{"North": 1}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = o.Run(ctx, observations("North", []int{0, 30}, []float64{0.1, 0.2}))
	assert.Error(t, err)
}

func TestSortByRegion(t *testing.T) {
	d1 := time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 3, 0)
	recs := []Record{
		{Region: "West", Date: d2},
		{Region: "East", Date: d2},
		{Region: "West", Date: d1},
	}
	SortByRegion(recs)
	assert.Equal(t, "East", recs[0].Region)
	assert.Equal(t, d1, recs[1].Date)
	assert.Equal(t, d2, recs[2].Date)
}
