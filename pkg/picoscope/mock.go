package picoscope

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/itohio/gorc/pkg/config"
)

// Mock simulates the peripheral driving a first-order RC circuit.
type Mock struct {
	cfg *config.MockConfig

	mu      sync.Mutex
	rng     *rand.Rand
	probe   *Block
	drive   *Block
	armed   bool
	high    bool
	capture []uint16
	closed  bool

	writes       []Endpoint
	failEndpoint map[Endpoint]error
	failTransfer error
}

// NewMock creates a new mocked device instance.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	return &Mock{
		cfg:          cfg,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		failEndpoint: make(map[Endpoint]error),
	}
}

// FailEndpoint makes every subsequent write to ep fail with err.
func (m *Mock) FailEndpoint(ep Endpoint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEndpoint[ep] = err
}

// FailTransfer makes every subsequent Transfer fail with err.
func (m *Mock) FailTransfer(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTransfer = err
}

// Writes returns the endpoints of the accepted writes, in order.
func (m *Mock) Writes() []Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Endpoint(nil), m.writes...)
}

// Blocks returns the last probe and drive blocks written.
func (m *Mock) Blocks() (probe, drive Block, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probe == nil || m.drive == nil {
		return Block{}, Block{}, false
	}
	return *m.probe, *m.drive, true
}

// WriteBlock stores a probe or drive block, or arms the device.
func (m *Mock) WriteBlock(ep Endpoint, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("device closed")
	}
	if err := m.failEndpoint[ep]; err != nil {
		return err
	}

	switch ep {
	case Probe, Drive:
		var b Block
		if err := b.UnmarshalBinary(payload); err != nil {
			return fmt.Errorf("invalid %s block: %w", ep, err)
		}
		if ep == Probe {
			if b.Points > MaxPoints {
				return fmt.Errorf("probe points %d exceed capture buffer of %d", b.Points, MaxPoints)
			}
			m.probe = &b
		} else {
			m.drive = &b
		}
		m.armed = false
	case Arm:
		if m.probe == nil || m.drive == nil {
			return fmt.Errorf("arm before probe and drive are configured")
		}
		m.armed = true
		m.capture = nil
	default:
		return fmt.Errorf("unknown endpoint 0x%02x", uint8(ep))
	}
	m.writes = append(m.writes, ep)
	return nil
}

// High raises the trigger line. The rising edge runs the armed acquisition.
func (m *Mock) High() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("device closed")
	}
	if m.high {
		return nil
	}
	m.high = true
	if !m.armed {
		return fmt.Errorf("trigger while not armed")
	}
	m.armed = false
	m.capture = m.render(*m.probe, *m.drive)
	return nil
}

// Low lowers the trigger line.
func (m *Mock) Low() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("device closed")
	}
	m.high = false
	return nil
}

// HasReady always reports true, the mock signals completion on trigger.
func (m *Mock) HasReady() bool {
	return true
}

// WaitReady reports true as soon as a capture is available.
func (m *Mock) WaitReady(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture != nil, nil
}

// Transfer returns the first count captured words as little-endian bytes.
func (m *Mock) Transfer(count uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("device closed")
	}
	if m.failTransfer != nil {
		return nil, m.failTransfer
	}
	if m.capture == nil {
		return nil, fmt.Errorf("no capture available")
	}
	if int(count) > len(m.capture) {
		return nil, fmt.Errorf("requested %d samples, captured %d", count, len(m.capture))
	}

	buf := make([]byte, 2*count)
	for i := 0; i < int(count); i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], m.capture[i])
	}
	return buf, nil
}

// Close marks the device closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.capture = nil
	return nil
}

// render simulates the RC node voltage driven by the drive square wave and
// sampled at the probe instants. Times are in microseconds.
func (m *Mock) render(probe, drive Block) []uint16 {
	tau := m.cfg.RC * 1e6
	period := float64(drive.High) + float64(drive.Low)
	lo := m.cfg.Offset
	hi := m.cfg.Offset + m.cfg.Amplitude

	// level reports the drive state at t and the time of the next edge.
	level := func(t float64) (bool, float64) {
		d := float64(drive.Delay)
		if t < d {
			return false, d
		}
		if period == 0 {
			return drive.High > 0, math.Inf(1)
		}
		k := math.Floor((t - d) / period)
		start := d + k*period
		if t-start < float64(drive.High) {
			return true, start + float64(drive.High)
		}
		return false, start + period
	}

	out := make([]uint16, probe.Points)
	v := lo
	now := 0.0
	step := float64(probe.High) + float64(probe.Low)
	for j := range out {
		t := float64(probe.High) + float64(probe.Delay) + float64(j)*step
		for now < t {
			on, edge := level(now)
			end := math.Min(edge, t)
			target := lo
			if on {
				target = hi
			}
			if tau > 0 {
				v = target + (v-target)*math.Exp(-(end-now)/tau)
			} else {
				v = target
			}
			now = end
		}
		out[j] = quantize(v + m.rng.NormFloat64()*m.cfg.NoiseLevel)
	}
	return out
}

func quantize(v float64) uint16 {
	raw := math.Round(v * FullScale)
	if raw < 0 {
		return 0
	}
	if raw > FullScale {
		return FullScale
	}
	return uint16(raw)
}
