// Package acquire runs the pump/probe protocol against a peripheral and
// returns the captured waveform.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itohio/gorc/pkg/picoscope"
	"github.com/itohio/gorc/pkg/sample"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session closed")
	// ErrSequence is returned when a step is run out of order.
	ErrSequence = errors.New("acquisition step out of sequence")
)

const (
	DefaultPulse  = 10 * time.Millisecond
	DefaultMargin = 100 * time.Millisecond
)

// Echo reports what the peripheral says it did: the blocks it armed with and
// the size of its last transfer (zero until one is reported).
type Echo interface {
	ArmEcho() (probe, drive picoscope.Block, ok bool)
	Sent() int
}

// Options holds configuration for opening a session.
type Options struct {
	Pulse  time.Duration // trigger pulse width
	Margin time.Duration // added to the computed capture duration
	Echo   Echo          // optional, compared against the written blocks
}

type state int

const (
	stateIdle state = iota
	stateConfigured
	stateArmed
	stateTriggered
)

// Session owns a device for one or more acquisitions. Steps must run in order:
// Configure, Arm, TriggerAndWait, Capture. A transport failure resets the
// session so the next acquisition starts again from Configure.
type Session struct {
	dev    picoscope.Device
	stim   Stimulus
	timing Timing
	opts   Options

	mu     sync.Mutex
	state  state
	closed bool
}

// Open takes ownership of dev. The device is closed by Session.Close.
func Open(dev picoscope.Device, stim Stimulus, timing Timing, opts Options) (*Session, error) {
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	if stim.High == 0 && stim.Low == 0 {
		return nil, fmt.Errorf("%w: zero stimulus period", ErrTiming)
	}
	if opts.Pulse <= 0 {
		opts.Pulse = DefaultPulse
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}

	return &Session{
		dev:    dev,
		stim:   stim,
		timing: timing,
		opts:   opts,
	}, nil
}

// Stimulus returns the drive configuration.
func (s *Session) Stimulus() Stimulus {
	return s.stim
}

// Timing returns the probe configuration.
func (s *Session) Timing() Timing {
	return s.timing
}

// SegmentCount returns the number of half-period segments in a capture.
func (s *Session) SegmentCount() int {
	return SegmentCount(s.stim, s.timing)
}

// Run performs a complete acquisition.
func (s *Session) Run(ctx context.Context) ([]sample.Point, error) {
	if err := s.Configure(ctx); err != nil {
		return nil, err
	}
	if err := s.Arm(ctx); err != nil {
		return nil, err
	}
	if err := s.TriggerAndWait(ctx); err != nil {
		return nil, err
	}
	return s.Capture(ctx)
}

// Configure writes the probe block followed by the drive block.
func (s *Session) Configure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	s.state = stateIdle

	if err := s.write(picoscope.Probe, s.timing.Block()); err != nil {
		return err
	}
	if err := s.write(picoscope.Drive, s.stim.Block()); err != nil {
		return err
	}

	s.state = stateConfigured
	return nil
}

// Arm loads both timers on the peripheral.
func (s *Session) Arm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(ctx, stateConfigured, "arm"); err != nil {
		return err
	}
	if err := s.dev.WriteBlock(picoscope.Arm, nil); err != nil {
		return s.fault(err, "failed to arm")
	}

	s.state = stateArmed
	return nil
}

// TriggerAndWait pulses the trigger line and waits for the capture to
// complete. Devices with a wired ready signal are waited on with the settle
// time as timeout; others are given the full settle time.
func (s *Session) TriggerAndWait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(ctx, stateArmed, "trigger"); err != nil {
		return err
	}

	if err := s.dev.High(); err != nil {
		return s.fault(err, "failed to raise trigger")
	}
	pulseErr := sleep(ctx, s.opts.Pulse)
	if err := s.dev.Low(); err != nil {
		return s.fault(err, "failed to lower trigger")
	}
	if pulseErr != nil {
		s.state = stateIdle
		return pulseErr
	}

	settle := SettleTime(s.timing, s.opts.Margin)
	if ready, ok := s.dev.(picoscope.Ready); ok && ready.HasReady() {
		done, err := ready.WaitReady(ctx, settle)
		if err != nil {
			if ctx.Err() != nil {
				s.state = stateIdle
				return ctx.Err()
			}
			return s.fault(err, "failed waiting for ready")
		}
		if !done {
			log.Printf("No ready signal after %v, reading anyway", settle)
		}
	} else if err := sleep(ctx, settle); err != nil {
		s.state = stateIdle
		return err
	}

	s.state = stateTriggered
	return nil
}

// Capture reads the waveform and pairs every sample with its timestamp.
func (s *Session) Capture(ctx context.Context) ([]sample.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(ctx, stateTriggered, "capture"); err != nil {
		return nil, err
	}

	raw, err := s.dev.Transfer(s.timing.Points)
	if err != nil {
		return nil, s.fault(err, "failed to read samples")
	}
	if len(raw) != 2*int(s.timing.Points) {
		return nil, s.fault(fmt.Errorf("got %d bytes, want %d", len(raw), 2*s.timing.Points), "short transfer")
	}

	words, err := sample.Decode(raw)
	if err != nil {
		return nil, s.fault(err, "failed to decode samples")
	}
	ts := sample.Timestamps(s.timing.Delay, s.timing.High, s.timing.Low, s.timing.Points)
	points, err := sample.Zip(ts, words)
	if err != nil {
		return nil, s.fault(err, "failed to build waveform")
	}

	s.checkEcho()
	s.state = stateIdle
	return points, nil
}

// Close releases the device. Further calls return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.dev.Close(); err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}
	return nil
}

func (s *Session) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *Session) expect(ctx context.Context, want state, step string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.state != want {
		return fmt.Errorf("%w: cannot %s now", ErrSequence, step)
	}
	return nil
}

func (s *Session) write(ep picoscope.Endpoint, b picoscope.Block) error {
	payload, err := b.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode %s block: %w", ep, err)
	}
	if err := s.dev.WriteBlock(ep, payload); err != nil {
		return s.fault(err, fmt.Sprintf("failed to write %s block", ep))
	}
	return nil
}

// fault resets the session and wraps err as a transport fault.
func (s *Session) fault(err error, msg string) error {
	s.state = stateIdle
	return fmt.Errorf("%w: %s: %w", picoscope.ErrTransport, msg, err)
}

func (s *Session) checkEcho() {
	if s.opts.Echo == nil {
		return
	}
	probe, drive, ok := s.opts.Echo.ArmEcho()
	if ok && (probe != s.timing.Block() || drive != s.stim.Block()) {
		log.Printf("Warning: device armed with reader %s, driver %s; expected reader %s, driver %s",
			probe, drive, s.timing.Block(), s.stim.Block())
	}

	want := 2 * int(s.timing.Points)
	if sent := s.opts.Echo.Sent(); sent != 0 && sent != want {
		log.Printf("Warning: device reported sending %d bytes, expected %d", sent, want)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
