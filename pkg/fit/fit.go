// Package fit estimates the time constant of a single charging or
// discharging segment by nonlinear least squares.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/itohio/gorc/pkg/config"
	"github.com/itohio/gorc/pkg/sample"
)

// ErrNoConvergence is returned when the optimizer cannot produce a usable fit.
var ErrNoConvergence = errors.New("fit did not converge")

// minPoints is the smallest segment that leaves a residual degree of freedom.
const minPoints = numParams + 1

// Method selects the optimizer.
type Method string

const (
	LevenbergMarquardt Method = "lm"
	NelderMead         Method = "nelder-mead"
	LBFGS              Method = "lbfgs"
)

// Result holds the fitted parameters of one segment.
type Result struct {
	Index int
	Kind  sample.Kind

	A    float64 // swing
	Rate float64 // b, 1/s
	C    float64 // offset

	RateErr         float64 // one standard error of Rate, NaN if unavailable
	TimeConstant    float64 // 1/b, s
	TimeConstantErr float64 // one standard error of TimeConstant, NaN if unavailable
	SSR             float64 // sum of squared residuals at the optimum
}

// Fitter fits exponential models to segments. It holds no mutable state and
// is safe for concurrent use.
type Fitter struct {
	method        Method
	maxIterations int
	tolerance     float64
}

// New creates a Fitter from the fit configuration.
func New(cfg *config.FitConfig) (*Fitter, error) {
	def := config.Default().Fit
	if cfg == nil {
		cfg = &def
	}

	f := &Fitter{
		method:        Method(cfg.Method),
		maxIterations: cfg.MaxIterations,
		tolerance:     cfg.Tolerance,
	}
	if f.method == "" {
		f.method = Method(def.Method)
	}
	if f.maxIterations <= 0 {
		f.maxIterations = def.MaxIterations
	}
	if f.tolerance <= 0 {
		f.tolerance = def.Tolerance
	}

	switch f.method {
	case LevenbergMarquardt, NelderMead, LBFGS:
	default:
		return nil, fmt.Errorf("unknown fit method %q", cfg.Method)
	}
	return f, nil
}

// Method returns the optimizer in use.
func (f *Fitter) Method() Method {
	return f.method
}

// Fit selects the model from the segment's kind and minimises the sum of
// squared residuals. Failures wrap ErrNoConvergence.
func (f *Fitter) Fit(seg sample.Segment) (Result, error) {
	res := Result{Index: seg.Index, Kind: seg.Kind}

	if len(seg.Points) < minPoints {
		return res, fmt.Errorf("%w: segment %d has %d points, need %d", ErrNoConvergence, seg.Index, len(seg.Points), minPoints)
	}

	ts := seg.Times()
	vs := seg.Values()
	span := ts[len(ts)-1]
	if !(span > 0) || math.IsInf(span, 0) {
		return res, fmt.Errorf("%w: segment %d has no time span", ErrNoConvergence, seg.Index)
	}

	scaled := make([]float64, len(ts))
	for i, t := range ts {
		scaled[i] = t / span
	}

	x, err := f.solve(seg.Kind, scaled, vs, initialGuess(seg.Kind, scaled, vs))
	if err != nil {
		return res, fmt.Errorf("%w: segment %d: %w", ErrNoConvergence, seg.Index, err)
	}

	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return res, fmt.Errorf("%w: segment %d: non-finite parameters %v", ErrNoConvergence, seg.Index, x)
		}
	}
	if x[paramB] <= 0 {
		return res, fmt.Errorf("%w: segment %d: non-positive rate %g", ErrNoConvergence, seg.Index, x[paramB]/span)
	}

	p := []float64{x[paramA], x[paramB] / span, x[paramC]}
	res.A = p[paramA]
	res.Rate = p[paramB]
	res.C = p[paramC]
	res.TimeConstant = 1 / res.Rate
	res.SSR = ssr(seg.Kind, ts, vs, p)
	res.RateErr = rateStdErr(seg.Kind, ts, p, res.SSR)
	res.TimeConstantErr = res.RateErr / (res.Rate * res.Rate)

	return res, nil
}

func (f *Fitter) solve(kind sample.Kind, ts, vs, x0 []float64) ([]float64, error) {
	switch f.method {
	case NelderMead:
		return f.solveNelderMead(kind, ts, vs, x0)
	case LBFGS:
		return f.solveLBFGS(kind, ts, vs, x0)
	default:
		return f.solveLM(kind, ts, vs, x0)
	}
}

// rateStdErr returns sqrt(cov[b,b]) with cov = s²(JᵀJ)⁻¹ and s² = SSR/(m-3).
// A singular JᵀJ yields NaN.
func rateStdErr(kind sample.Kind, ts, p []float64, ssr float64) float64 {
	m := len(ts)
	jac := mat.NewDense(m, numParams, nil)
	row := make([]float64, numParams)
	for i, t := range ts {
		partials(row, kind, t, p)
		jac.SetRow(i, row)
	}

	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&jtj); !ok {
		return math.NaN()
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return math.NaN()
	}

	s2 := ssr / float64(m-numParams)
	v := s2 * inv.At(paramB, paramB)
	if v < 0 {
		return math.NaN()
	}
	return math.Sqrt(v)
}
