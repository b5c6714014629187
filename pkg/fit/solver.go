package fit

import (
	"errors"
	"fmt"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/itohio/gorc/pkg/sample"
)

func (f *Fitter) solveLM(kind sample.Kind, ts, vs, x0 []float64) (x []float64, err error) {
	fnc := func(dst, p []float64) {
		residuals(dst, kind, ts, vs, p)
	}

	row := make([]float64, numParams)
	jac := func(dst *mat.Dense, p []float64) {
		for i, t := range ts {
			partials(row, kind, t, p)
			dst.SetRow(i, row)
		}
	}

	problem := lm.LMProblem{
		Dim:        numParams,
		Size:       len(ts),
		Func:       fnc,
		Jac:        jac,
		InitParams: x0,
		Tau:        1e-3,
		Eps1:       1e-10,
		Eps2:       1e-12,
	}

	// LM panics on singular systems.
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("levenberg-marquardt panicked: %v", r)
		}
	}()

	res, err := lm.LM(problem, &lm.Settings{Iterations: f.maxIterations, ObjectiveTol: f.tolerance})
	if err != nil {
		return nil, fmt.Errorf("levenberg-marquardt: %w", err)
	}
	if res.Status.Early() {
		return nil, fmt.Errorf("levenberg-marquardt: stopped early: %s", res.Status)
	}
	return res.X, nil
}

func (f *Fitter) solveNelderMead(kind sample.Kind, ts, vs, x0 []float64) ([]float64, error) {
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			return ssr(kind, ts, vs, p)
		},
	}

	settings := &optimize.Settings{
		MajorIterations: f.maxIterations,
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	return result("nelder-mead", res, err)
}

func (f *Fitter) solveLBFGS(kind sample.Kind, ts, vs, x0 []float64) ([]float64, error) {
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			return ssr(kind, ts, vs, p)
		},
		Grad: func(grad, p []float64) {
			ssrGradient(grad, kind, ts, vs, p)
		},
	}

	settings := &optimize.Settings{
		MajorIterations: f.maxIterations,
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	return result("lbfgs", res, err)
}

// result accepts a line search that stalls at floating point resolution, the
// best location found is then the optimum.
func result(name string, res *optimize.Result, err error) ([]float64, error) {
	if err != nil && !errors.Is(err, optimize.ErrNoProgress) {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%s: no result", name)
	}
	if err == nil && res.Status.Early() {
		return nil, fmt.Errorf("%s: stopped early: %s", name, res.Status)
	}
	return res.X, nil
}
