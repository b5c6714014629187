package meter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		wantMean   float64
		wantStdDev float64
	}{
		{name: "identical values", values: []float64{1, 1, 1}, wantMean: 1, wantStdDev: 0},
		{name: "population spread", values: []float64{1, 3}, wantMean: 2, wantStdDev: 1},
		{name: "single value", values: []float64{0.01}, wantMean: 0.01, wantStdDev: 0},
		{name: "eight values", values: []float64{2, 4, 4, 4, 5, 5, 7, 9}, wantMean: 5, wantStdDev: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := Aggregate(tt.values)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantMean, est.Mean, 1e-12)
			assert.InDelta(t, tt.wantStdDev, est.StdDev, 1e-12)
			assert.Equal(t, len(tt.values), est.N)
		})
	}
}

func TestAggregate_Empty(t *testing.T) {
	_, err := Aggregate(nil)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = Aggregate([]float64{})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestEstimate_String(t *testing.T) {
	assert.Equal(t, "2 +/- 1", Estimate{Mean: 2, StdDev: 1}.String())
	assert.Equal(t, "0.01 +/- 0.0002", Estimate{Mean: 0.01, StdDev: 0.0002}.String())
}
