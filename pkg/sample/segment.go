package sample

import "fmt"

// Kind tags a segment with the half of the stimulus cycle it covers.
type Kind int

const (
	// Rising is a charging segment.
	Rising Kind = iota
	// Falling is a discharging segment.
	Falling
)

func (k Kind) String() string {
	switch k {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Segment is one half-cycle window of the waveform with its time axis
// rebased to start at zero.
type Segment struct {
	Index  int
	Kind   Kind
	Points []Point
}

// Times returns the segment's time axis.
func (s Segment) Times() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.T
	}
	return out
}

// Values returns the segment's sample values.
func (s Segment) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.V
	}
	return out
}

// Split divides points into count equal windows of len(points)/count points.
// Even windows are Rising, odd ones Falling. Samples past count*n are dropped.
// The input is not modified.
func Split(points []Point, count int) ([]Segment, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid segment count %d", count)
	}
	n := len(points) / count
	if n == 0 {
		return nil, fmt.Errorf("%d points cannot fill %d segments", len(points), count)
	}

	segments := make([]Segment, count)
	for j := range segments {
		src := points[j*n : (j+1)*n]
		t0 := src[0].T

		pts := make([]Point, n)
		for i, p := range src {
			pts[i] = Point{T: p.T - t0, V: p.V}
		}

		kind := Rising
		if j%2 == 1 {
			kind = Falling
		}
		segments[j] = Segment{Index: j, Kind: kind, Points: pts}
	}
	return segments, nil
}
