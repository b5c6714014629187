package picoscope

import (
	"context"
	"errors"
	"time"
)

// ErrTransport is wrapped by every failure of the register bus, the trigger
// line or the sample link.
var ErrTransport = errors.New("transport fault")

// Endpoint selects the logical register the peripheral writes a block to.
type Endpoint uint8

const (
	// Probe receives the acquisition timing block.
	Probe Endpoint = 0x10
	// Drive receives the stimulus timing block.
	Drive Endpoint = 0x11
	// Arm loads both timers; it carries no payload.
	Arm Endpoint = 0xFF
)

func (e Endpoint) String() string {
	switch e {
	case Probe:
		return "probe"
	case Drive:
		return "drive"
	case Arm:
		return "arm"
	default:
		return "unknown"
	}
}

// Link sends configuration blocks to the peripheral.
type Link interface {
	WriteBlock(ep Endpoint, payload []byte) error
}

// Trigger is the digital line that starts the pump/probe cycle.
type Trigger interface {
	High() error
	Low() error
}

// Reader performs one synchronous transfer of count 16-bit sample words and
// returns the 2*count raw bytes in acquisition order.
type Reader interface {
	Transfer(count uint32) ([]byte, error)
}

// Ready is implemented by devices that can signal a completed acquisition.
// HasReady reports whether the signal is wired. WaitReady reports false when
// timeout elapses without the signal.
type Ready interface {
	HasReady() bool
	WaitReady(ctx context.Context, timeout time.Duration) (bool, error)
}

// Device defines the interface for pump/probe peripherals (real or mocked).
type Device interface {
	Link
	Trigger
	Reader
	Close() error
}

// Ensure Periph implements Device and Ready.
var (
	_ Device = (*Periph)(nil)
	_ Ready  = (*Periph)(nil)
)

// Ensure Mock implements Device and Ready.
var (
	_ Device = (*Mock)(nil)
	_ Ready  = (*Mock)(nil)
)
