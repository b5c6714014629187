package sample

import (
	"encoding/binary"
	"fmt"

	"github.com/itohio/gorc/pkg/picoscope"
)

// Point is one waveform sample: time in seconds since the trigger and the
// value as a fraction of full scale.
type Point struct {
	T float64
	V float64
}

// Decode interprets raw as consecutive little-endian 16-bit words.
func Decode(raw []byte) ([]uint16, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd sample buffer length %d", len(raw))
	}

	words := make([]uint16, len(raw)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return words, nil
}

// Normalize converts a 12-bit ADC code to a fraction of full scale.
func Normalize(raw uint16) float64 {
	return float64(raw) / picoscope.FullScale
}

// Timestamps returns the sample instants in microseconds for a probe block.
// Sample j is taken at high + delay + j*(high+low).
func Timestamps(delay, high, low, points uint32) []float64 {
	ts := make([]float64, points)
	base := float64(high) + float64(delay)
	step := float64(high) + float64(low)
	for j := range ts {
		ts[j] = base + float64(j)*step
	}
	return ts
}

// Zip pairs timestamps in microseconds with raw ADC words, producing points
// in seconds and fractions of full scale.
func Zip(ts []float64, words []uint16) ([]Point, error) {
	if len(ts) != len(words) {
		return nil, fmt.Errorf("timestamp count %d does not match sample count %d", len(ts), len(words))
	}

	points := make([]Point, len(ts))
	for i := range points {
		points[i] = Point{T: ts[i] * 1e-6, V: Normalize(words[i])}
	}
	return points, nil
}
