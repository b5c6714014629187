package fit

import (
	"math"

	"github.com/itohio/gorc/pkg/sample"
)

// Parameter indices into a model parameter vector.
const (
	paramA = iota
	paramB
	paramC
	numParams
)

// Eval returns the model value at t for parameters (a, b, c).
//
//	Rising:  a(1 - e^(-bt)) + c
//	Falling: a e^(-bt) + c
func Eval(kind sample.Kind, t float64, p []float64) float64 {
	e := math.Exp(-p[paramB] * t)
	if kind == sample.Falling {
		return p[paramA]*e + p[paramC]
	}
	return p[paramA]*(1-e) + p[paramC]
}

// partials writes d/da, d/db and d/dc of the model at t into dst.
func partials(dst []float64, kind sample.Kind, t float64, p []float64) {
	e := math.Exp(-p[paramB] * t)
	if kind == sample.Falling {
		dst[paramA] = e
		dst[paramB] = -p[paramA] * t * e
	} else {
		dst[paramA] = 1 - e
		dst[paramB] = p[paramA] * t * e
	}
	dst[paramC] = 1
}

// residuals writes model - observed for every point into dst.
func residuals(dst []float64, kind sample.Kind, ts, vs, p []float64) {
	for i, t := range ts {
		dst[i] = Eval(kind, t, p) - vs[i]
	}
}

// ssr returns the sum of squared residuals.
func ssr(kind sample.Kind, ts, vs, p []float64) float64 {
	var sum float64
	for i, t := range ts {
		r := Eval(kind, t, p) - vs[i]
		sum += r * r
	}
	return sum
}

// ssrGradient writes the gradient of ssr with respect to p into grad.
func ssrGradient(grad []float64, kind sample.Kind, ts, vs, p []float64) {
	var d [numParams]float64
	for k := range grad {
		grad[k] = 0
	}
	for i, t := range ts {
		r := Eval(kind, t, p) - vs[i]
		partials(d[:], kind, t, p)
		for k := range grad {
			grad[k] += 2 * r * d[k]
		}
	}
}

// initialGuess derives starting parameters on a time axis scaled to [0, 1].
// c is taken from the resting end of the segment, a from the swing and b from
// the time the swing first crosses 1 - 1/e.
func initialGuess(kind sample.Kind, ts, vs []float64) []float64 {
	first, last := vs[0], vs[len(vs)-1]

	var a, c float64
	if kind == sample.Falling {
		a, c = first-last, last
	} else {
		a, c = last-first, first
	}

	b := 3.0
	if a != 0 {
		const level = 1 - 1/math.E
		for i, v := range vs {
			progress := (v - first) / (last - first)
			if progress >= level && ts[i] > 0 {
				b = 1 / ts[i]
				break
			}
		}
	}

	return []float64{a, b, c}
}
