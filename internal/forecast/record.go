package forecast

import (
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Flag distinguishes historical rows from projected rows.
type Flag string

const (
	FlagActual   Flag = "A"
	FlagForecast Flag = "F"
)

// Record is one (date, region) row of the combined historical and projected
// series.
type Record struct {
	Date   time.Time `json:"date"`
	Region string    `json:"region"`
	// ServiceRatio is the observed adoption ratio; nil on projected rows.
	ServiceRatio *float64 `json:"service_ratio,omitempty"`
	Forecast     float64  `json:"forecast"`
	Flag         Flag     `json:"forecast_flag"`
	L            float64  `json:"L"`
	K            float64  `json:"k"`
	X0           float64  `json:"x0"`
	// T is the day offset from the earliest date of the region's combined
	// series.
	T int `json:"t"`
	// DateNum is the day offset from the region's earliest observation, the
	// axis the curve was fitted and evaluated on.
	DateNum int    `json:"date_num"`
	Formula string `json:"formula"`
}

// FormatFormula renders the logistic curve with literal values, e.g.
// "100 / (1 + exp(-0.05 * (30 - 60)))".
func FormatFormula(L, k, x0 float64, t int) string {
	return formatNumber(L) + " / (1 + exp(-" + formatNumber(k) + " * (" +
		strconv.Itoa(t) + " - " + formatNumber(x0) + ")))"
}

// formatNumber uses the shortest representation that parses back to the
// same float64.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var formulaRe = regexp.MustCompile(`^(\S+) / \(1 \+ exp\(-(\S+) \* \((\S+) - (\S+)\)\)\)$`)

// FormulaTerms are the literal values extracted from a rendered formula.
type FormulaTerms struct {
	L, K, X0 float64
	T        int
}

// ParseFormula extracts the literal values of a formula rendered by
// FormatFormula.
func ParseFormula(s string) (FormulaTerms, error) {
	m := formulaRe.FindStringSubmatch(s)
	if m == nil {
		return FormulaTerms{}, eris.Errorf("forecast: unrecognised formula %q", s)
	}

	var terms FormulaTerms
	var err error
	if terms.L, err = strconv.ParseFloat(m[1], 64); err != nil {
		return FormulaTerms{}, eris.Wrapf(err, "forecast: formula L %q", m[1])
	}
	if terms.K, err = strconv.ParseFloat(m[2], 64); err != nil {
		return FormulaTerms{}, eris.Wrapf(err, "forecast: formula k %q", m[2])
	}
	if terms.T, err = strconv.Atoi(m[3]); err != nil {
		return FormulaTerms{}, eris.Wrapf(err, "forecast: formula t %q", m[3])
	}
	if terms.X0, err = strconv.ParseFloat(m[4], 64); err != nil {
		return FormulaTerms{}, eris.Wrapf(err, "forecast: formula x0 %q", m[4])
	}
	return terms, nil
}

// EvaluateFormula parses and evaluates a rendered formula.
func EvaluateFormula(s string) (float64, error) {
	terms, err := ParseFormula(s)
	if err != nil {
		return 0, err
	}
	return terms.L / (1 + math.Exp(-terms.K*(float64(terms.T)-terms.X0))), nil
}
