package growth

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNonConvergent is reported when the solver stops without meeting a
	// convergence test.
	ErrNonConvergent = eris.New("growth: fit did not converge")
	// ErrInsufficientData is reported when fewer than two distinct x values
	// are supplied.
	ErrInsufficientData = eris.New("growth: insufficient data")
)

// Status tags a fit outcome.
type Status string

const (
	StatusConverged     Status = "converged"
	StatusNonConvergent Status = "non_convergent"
)

// Options configures the solver.
type Options struct {
	// InitialK and InitialX0 are the starting point, expressed on the unit
	// time axis (the observed span mapped to [0, 1]).
	InitialK  float64
	InitialX0 float64
	// MaxEvaluations bounds the number of residual evaluations.
	MaxEvaluations int
	// FTol is the relative reduction in the residual sum of squares below
	// which an accepted step counts as converged.
	FTol float64
	// XTol is the relative step size below which the solver stops.
	XTol float64
	// GTol bounds the scaled gradient relative to the residual norm.
	GTol float64
}

// DefaultOptions mirrors MINPACK's lmdif defaults for a two-parameter model.
func DefaultOptions() Options {
	return Options{
		InitialK:       1,
		InitialX0:      0.01,
		MaxEvaluations: 600,
		FTol:           1.49012e-8,
		XTol:           1.49012e-8,
		GTol:           1e-12,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxEvaluations <= 0 {
		o.MaxEvaluations = d.MaxEvaluations
	}
	if o.FTol <= 0 {
		o.FTol = d.FTol
	}
	if o.XTol <= 0 {
		o.XTol = d.XTol
	}
	if o.GTol <= 0 {
		o.GTol = d.GTol
	}
	return o
}

// Result is the outcome of a fit. Params is always usable: it holds the
// fitted values when Status is StatusConverged and Sentinel otherwise.
type Result struct {
	Params      Params
	Status      Status
	Err         error
	Evaluations int
	RSS         float64
}

// Converged reports whether the solver met a convergence test.
func (r Result) Converged() bool {
	return r.Status == StatusConverged
}

// Fit finds (k, x0) minimising sum((y - L/(1+exp(-k*(x-x0))))^2) with L
// fixed. It never panics or returns an error; failures are reported through
// the Result with Sentinel parameters.
//
// The solver runs on x divided by its span so the starting point is
// independent of the calendar unit. Fitted parameters are converted back to
// the caller's x units.
func Fit(x, y []float64, L float64, opts Options) Result {
	opts = opts.withDefaults()

	if len(x) != len(y) {
		return failed(eris.Wrapf(ErrInsufficientData, "x has %d values, y has %d", len(x), len(y)), 0)
	}
	if distinct(x) < 2 {
		return failed(eris.Wrapf(ErrInsufficientData, "%d distinct x values", distinct(x)), 0)
	}
	if !(L > 0) || math.IsInf(L, 0) {
		return failed(eris.Wrapf(ErrNonConvergent, "invalid ceiling %v", L), 0)
	}

	// Scale without shifting the origin so x0 stays an offset.
	var span float64
	for _, v := range x {
		span = math.Max(span, math.Abs(v))
	}

	u := make([]float64, len(x))
	for i, v := range x {
		u[i] = v / span
	}

	s := newSolver(u, y, L, opts)
	p, evals, rss, err := s.run(opts.InitialK, opts.InitialX0)
	if err != nil {
		return failed(err, evals)
	}

	fitted := Params{K: p[0] / span, X0: p[1] * span}
	if !finite(fitted.K) || !finite(fitted.X0) {
		return failed(eris.Wrap(ErrNonConvergent, "non-finite parameters"), evals)
	}

	return Result{
		Params:      fitted,
		Status:      StatusConverged,
		Evaluations: evals,
		RSS:         rss,
	}
}

func failed(err error, evals int) Result {
	return Result{
		Params:      Sentinel,
		Status:      StatusNonConvergent,
		Err:         err,
		Evaluations: evals,
		RSS:         math.NaN(),
	}
}

func distinct(x []float64) int {
	seen := make(map[float64]struct{}, len(x))
	for _, v := range x {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// solver is a Levenberg-Marquardt iteration with MINPACK-style column
// scaling (running maximum of the Jacobian column norms) and Nielsen's
// damping update.
type solver struct {
	x, y []float64
	L    float64
	opts Options

	jac *mat.Dense
	res *mat.VecDense
}

func newSolver(x, y []float64, L float64, opts Options) *solver {
	return &solver{
		x:    x,
		y:    y,
		L:    L,
		opts: opts,
		jac:  mat.NewDense(len(x), 2, nil),
		res:  mat.NewVecDense(len(x), nil),
	}
}

// residuals fills s.res with y - f(x) and returns the sum of squares.
func (s *solver) residuals(k, x0 float64) float64 {
	for i, xi := range s.x {
		s.res.SetVec(i, s.y[i]-s.L*sigmoid(k*(xi-x0)))
	}
	return mat.Dot(s.res, s.res)
}

// jacobian fills s.jac with the model derivatives at (k, x0).
func (s *solver) jacobian(k, x0 float64) {
	for i, xi := range s.x {
		z := k * (xi - x0)
		d := s.L * sigmoid(z) * sigmoid(-z)
		s.jac.Set(i, 0, d*(xi-x0))
		s.jac.Set(i, 1, -d*k)
	}
}

// normal returns J^T J and J^T r for the current Jacobian and residuals.
func (s *solver) normal() (*mat.SymDense, *mat.VecDense) {
	var a mat.SymDense
	a.SymOuterK(1, s.jac.T())
	var g mat.VecDense
	g.MulVec(s.jac.T(), s.res)
	return &a, &g
}

func (s *solver) run(k, x0 float64) ([2]float64, int, float64, error) {
	const (
		tau       = 1e-3
		maxDamp   = 1e20
		minFactor = 1.0 / 3
	)

	p := [2]float64{k, x0}
	cost := s.residuals(p[0], p[1])
	evals := 1
	if !finite(cost) {
		return p, evals, cost, eris.Wrap(ErrNonConvergent, "non-finite residuals at initial guess")
	}

	s.jacobian(p[0], p[1])
	a, g := s.normal()

	var scale [2]float64
	mu, nu := tau, 2.0

	for evals < s.opts.MaxEvaluations {
		for j := 0; j < 2; j++ {
			scale[j] = math.Max(scale[j], a.At(j, j))
		}
		if scale[0] <= 0 || scale[1] <= 0 {
			return p, evals, cost, eris.Wrap(ErrNonConvergent, "jacobian column vanished")
		}

		gradNorm := math.Max(
			math.Abs(g.AtVec(0))/math.Sqrt(scale[0]),
			math.Abs(g.AtVec(1))/math.Sqrt(scale[1]),
		)
		if gradNorm <= s.opts.GTol*math.Sqrt(math.Max(cost, math.SmallestNonzeroFloat64)) {
			return p, evals, cost, nil
		}

		damped := mat.NewSymDense(2, []float64{
			a.At(0, 0) + mu*scale[0], a.At(0, 1),
			a.At(1, 0), a.At(1, 1) + mu*scale[1],
		})
		var chol mat.Cholesky
		if !chol.Factorize(damped) {
			mu *= nu
			nu *= 2
			if mu > maxDamp {
				return p, evals, cost, eris.Wrap(ErrNonConvergent, "damped system is singular")
			}
			continue
		}

		var step mat.VecDense
		if err := chol.SolveVecTo(&step, g); err != nil {
			return p, evals, cost, eris.Wrap(ErrNonConvergent, "solve damped system")
		}
		dk, dx := step.AtVec(0), step.AtVec(1)

		if math.Hypot(dk, dx) <= s.opts.XTol*(math.Hypot(p[0], p[1])+s.opts.XTol) {
			return p, evals, cost, nil
		}

		next := [2]float64{p[0] + dk, p[1] + dx}
		newCost := s.residuals(next[0], next[1])
		evals++

		predicted := dk*(mu*scale[0]*dk+g.AtVec(0)) + dx*(mu*scale[1]*dx+g.AtVec(1))
		rho := -1.0
		if predicted > 0 {
			rho = (cost - newCost) / predicted
		}

		if finite(newCost) && rho > 0 {
			reduction := 0.0
			if cost > 0 {
				reduction = (cost - newCost) / cost
			}
			p, cost = next, newCost
			s.jacobian(p[0], p[1])
			a, g = s.normal()

			mu *= math.Max(minFactor, 1-math.Pow(2*rho-1, 3))
			nu = 2
			if reduction <= s.opts.FTol {
				return p, evals, cost, nil
			}
			continue
		}

		mu *= nu
		nu *= 2
		if mu > maxDamp {
			return p, evals, cost, eris.Wrap(ErrNonConvergent, "damping overflow")
		}
	}

	return p, evals, cost, eris.Wrapf(ErrNonConvergent, "reached %d evaluations", s.opts.MaxEvaluations)
}
