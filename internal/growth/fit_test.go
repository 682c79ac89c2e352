package growth

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quarterDays = []float64{0, 30, 60, 90}

func TestLogistic_SentinelIsHalfCeiling(t *testing.T) {
	for _, tt := range []float64{-365, 0, 1, 90, 1e6} {
		assert.Equal(t, 50.0, Sentinel.Eval(100, tt))
	}
	assert.True(t, Sentinel.IsSentinel())
	assert.False(t, Params{K: 0.1}.IsSentinel())
}

func TestLogistic_Extremes(t *testing.T) {
	assert.Equal(t, 0.0, Logistic(100, 1, 0, -1e4))
	assert.Equal(t, 100.0, Logistic(100, 1, 0, 1e4))
	assert.InDelta(t, 0.5, Logistic(1, 0.3, 12, 12), 1e-15)
}

func TestFit_GrowthSeries(t *testing.T) {
	res := Fit(quarterDays, []float64{1e-6, 0.1, 0.5, 0.9}, 1, DefaultOptions())
	require.True(t, res.Converged(), "err: %v", res.Err)
	require.NoError(t, res.Err)

	assert.Greater(t, res.Params.K, 0.0)
	assert.InDelta(t, 0.5, res.Params.Eval(1, 60), 0.025)
	assert.InDelta(t, 60, res.Params.X0, 1)
	assert.LessOrEqual(t, res.Evaluations, DefaultOptions().MaxEvaluations)
}

func TestFit_GrowthSeriesHighCeiling(t *testing.T) {
	res := Fit(quarterDays, []float64{1e-6, 0.1, 0.5, 0.9}, 100, DefaultOptions())
	require.True(t, res.Converged(), "err: %v", res.Err)

	assert.Greater(t, res.Params.K, 0.0)
	assert.False(t, math.IsNaN(res.Params.X0))
	assert.Less(t, res.RSS, 0.05)
}

func TestFit_RecoversKnownCurve(t *testing.T) {
	var x, y []float64
	for d := 0.0; d <= 300; d += 30 {
		x = append(x, d)
		y = append(y, Logistic(40, 0.02, 200, d))
	}

	res := Fit(x, y, 40, DefaultOptions())
	require.True(t, res.Converged(), "err: %v", res.Err)
	assert.InDelta(t, 0.02, res.Params.K, 1e-6)
	assert.InDelta(t, 200, res.Params.X0, 1e-3)
}

func TestFit_FlatSeriesFallsBackToSentinel(t *testing.T) {
	res := Fit(quarterDays, []float64{1e-6, 1e-6, 1e-6, 1e-6}, 100, DefaultOptions())

	assert.False(t, res.Converged())
	assert.Equal(t, StatusNonConvergent, res.Status)
	assert.Equal(t, Sentinel, res.Params)
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, ErrNonConvergent))
	assert.LessOrEqual(t, res.Evaluations, DefaultOptions().MaxEvaluations)
}

func TestFit_EvaluationBound(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxEvaluations = 5

	res := Fit(quarterDays, []float64{0.2, 0.2, 0.2, 0.2}, 1, opts)
	assert.False(t, res.Converged())
	assert.LessOrEqual(t, res.Evaluations, 5)
}

func TestFit_InsufficientData(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
	}{
		{"empty", nil, nil},
		{"single", []float64{0}, []float64{0.1}},
		{"repeated date", []float64{30, 30}, []float64{0.1, 0.2}},
		{"length mismatch", []float64{0, 30}, []float64{0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Fit(tt.x, tt.y, 1, DefaultOptions())
			assert.Equal(t, Sentinel, res.Params)
			assert.True(t, errors.Is(res.Err, ErrInsufficientData))
		})
	}
}

func TestFit_InvalidCeiling(t *testing.T) {
	res := Fit(quarterDays, []float64{0.1, 0.2, 0.3, 0.4}, 0, DefaultOptions())
	assert.Equal(t, Sentinel, res.Params)
	assert.True(t, errors.Is(res.Err, ErrNonConvergent))
}

func TestFit_NeverReturnsNonFinite(t *testing.T) {
	series := [][]float64{
		{1e-6, 0.1, 0.5, 0.9},
		{0.9, 0.5, 0.1, 1e-6},
		{1e-6, 1e-6, 1e-6, 1e-6},
		{5, 5, 5, 5},
		{0.3, 0.1, 0.4, 0.2},
	}
	for _, y := range series {
		res := Fit(quarterDays, y, 1, DefaultOptions())
		if !res.Converged() {
			assert.Equal(t, Sentinel, res.Params)
			continue
		}
		assert.False(t, math.IsNaN(res.Params.K) || math.IsInf(res.Params.K, 0))
		assert.False(t, math.IsNaN(res.Params.X0) || math.IsInf(res.Params.X0, 0))
	}
}
