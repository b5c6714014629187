package acquire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/itohio/gorc/pkg/picoscope"
)

// ErrTiming is returned for a target or timing the peripheral cannot run.
var ErrTiming = errors.New("invalid timing")

const (
	// DefaultPoints is the number of samples captured per acquisition.
	DefaultPoints = picoscope.MaxPoints
	// MinStep is the shortest probe half-period in microseconds.
	MinStep = 20
	// stepDivisor bounds the probe half-period to T/stepDivisor.
	stepDivisor = 20000
)

// Timing is the probe (acquisition) configuration. Times are in microseconds.
type Timing struct {
	Delay  uint32
	High   uint32
	Low    uint32
	Points uint32
}

// Block returns the probe register block.
func (t Timing) Block() picoscope.Block {
	return picoscope.Block{Delay: t.Delay, High: t.High, Low: t.Low, Points: t.Points}
}

// Validate checks that the timing fits the capture buffer and has a
// non-zero sample period.
func (t Timing) Validate() error {
	if t.Points == 0 {
		return fmt.Errorf("%w: no points requested", ErrTiming)
	}
	if t.Points > picoscope.MaxPoints {
		return fmt.Errorf("%w: %d points exceed capture buffer of %d", ErrTiming, t.Points, picoscope.MaxPoints)
	}
	if t.High == 0 && t.Low == 0 {
		return fmt.Errorf("%w: zero sample period", ErrTiming)
	}
	return nil
}

// Stimulus is the drive (square wave) configuration. Times are in microseconds.
type Stimulus struct {
	Delay uint32
	High  uint32
	Low   uint32
}

// Block returns the drive register block. The points field is always zero.
func (s Stimulus) Block() picoscope.Block {
	return picoscope.Block{Delay: s.Delay, High: s.High, Low: s.Low}
}

// DeriveTiming computes the stimulus and acquisition timing for a target time
// constant rc in seconds. The drive half-period T is rc in microseconds
// rounded to one decimal and truncated; the probe half-period is
// max(MinStep, T/20000) so the capture spans whole stimulus half-periods.
func DeriveTiming(rc float64) (Stimulus, Timing, error) {
	if math.IsNaN(rc) || math.IsInf(rc, 0) || rc <= 0 {
		return Stimulus{}, Timing{}, fmt.Errorf("%w: rc must be a positive number, got %v", ErrTiming, rc)
	}

	us := math.Round(rc*1e6*10) / 10
	if us >= math.MaxUint32+1 {
		return Stimulus{}, Timing{}, fmt.Errorf("%w: rc %v s overflows the drive timer", ErrTiming, rc)
	}

	half := uint32(us)
	if half == 0 {
		return Stimulus{}, Timing{}, fmt.Errorf("%w: rc %v s is below the 1 µs timer resolution", ErrTiming, rc)
	}

	step := max(uint32(MinStep), half/stepDivisor)

	return Stimulus{Delay: 0, High: half, Low: half},
		Timing{Delay: 0, High: step, Low: step, Points: DefaultPoints},
		nil
}

// SettleTime returns how long the capture takes plus margin:
// 1e-6 * (delay + points*(high+low)) seconds.
func SettleTime(t Timing, margin time.Duration) time.Duration {
	us := uint64(t.Delay) + uint64(t.Points)*(uint64(t.High)+uint64(t.Low))
	return time.Duration(us)*time.Microsecond + margin
}

// SegmentCount returns the number of stimulus half-periods spanned by the
// capture, points*2*dT/T with integer truncation.
func SegmentCount(s Stimulus, t Timing) int {
	if s.High == 0 {
		return 0
	}
	return int(uint64(t.Points) * 2 * uint64(t.High) / uint64(s.High))
}
