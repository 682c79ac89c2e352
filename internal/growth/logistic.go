// Package growth fits a two-parameter logistic growth curve with a fixed
// ceiling to an adoption series using Levenberg-Marquardt least squares.
package growth

import "math"

// Params holds the free logistic parameters: growth rate K (per day) and
// midpoint X0 (day offset).
type Params struct {
	K  float64 `json:"k" yaml:"k"`
	X0 float64 `json:"x0" yaml:"x0"`
}

// Sentinel is substituted for the parameters of a fit that did not converge.
// With K = 0 the curve evaluates to exactly L/2 at every t.
var Sentinel = Params{K: 0, X0: 0}

// Logistic evaluates L / (1 + exp(-k*(t-x0))).
func Logistic(L, k, x0, t float64) float64 {
	return L / (1 + math.Exp(-k*(t-x0)))
}

// Eval evaluates the curve with ceiling L at t.
func (p Params) Eval(L, t float64) float64 {
	return Logistic(L, p.K, p.X0, t)
}

// IsSentinel reports whether p is the non-convergence sentinel.
func (p Params) IsSentinel() bool {
	return p == Sentinel
}

// sigmoid is 1 / (1 + exp(-z)) without overflow for large |z|.
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
