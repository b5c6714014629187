package meter

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when no segment produced a usable fit.
var ErrInsufficientData = errors.New("insufficient data")

// Estimate is the aggregate time constant over all converged segments.
type Estimate struct {
	Mean   float64 // s
	StdDev float64 // population standard deviation, s
	N      int     // number of contributing segments
}

func (e Estimate) String() string {
	return fmt.Sprintf("%v +/- %v", e.Mean, e.StdDev)
}

// Aggregate returns the arithmetic mean and population standard deviation of
// the time constants. No outliers are rejected.
func Aggregate(timeConstants []float64) (Estimate, error) {
	if len(timeConstants) == 0 {
		return Estimate{}, ErrInsufficientData
	}

	mean, std := stat.PopMeanStdDev(timeConstants, nil)
	return Estimate{Mean: mean, StdDev: std, N: len(timeConstants)}, nil
}
