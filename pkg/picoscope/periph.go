package picoscope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/itohio/gorc/pkg/config"
)

const readyPollInterval = 50 * time.Millisecond

// Periph drives the peripheral through host I²C, SPI and GPIO using periph.io.
type Periph struct {
	cfg *config.Config

	bus     i2c.BusCloser
	port    spi.PortCloser
	dev     *i2c.Dev
	spi     conn.Conn
	trigger gpio.PinOut
	ready   gpio.PinIn

	mu        sync.Mutex
	connected bool
}

// NewPeriph creates a new hardware device. Connect must be called before use.
func NewPeriph(cfg *config.Config) *Periph {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Periph{cfg: cfg}
}

// NewPeriphFromConn wraps already opened connections. The caller keeps
// ownership of bus and spiConn; Close only releases the pins.
func NewPeriphFromConn(bus i2c.Bus, addr uint16, spiConn conn.Conn, trigger gpio.PinOut, ready gpio.PinIn) *Periph {
	return &Periph{
		cfg:       config.Default(),
		dev:       &i2c.Dev{Bus: bus, Addr: addr},
		spi:       spiConn,
		trigger:   trigger,
		ready:     ready,
		connected: true,
	}
}

// Connect initialises the host drivers and opens the bus, the sample link and
// the trigger line. On failure everything opened so far is released.
func (p *Periph) Connect() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return fmt.Errorf("already connected")
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialise host drivers: %w", err)
	}

	defer func() {
		if err != nil {
			p.release()
		}
	}()

	p.bus, err = i2creg.Open(p.cfg.Bus.Name)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %w", p.cfg.Bus.Name, err)
	}
	p.dev = &i2c.Dev{Bus: p.bus, Addr: p.cfg.Bus.Address}

	p.port, err = spireg.Open(p.cfg.SPI.Port)
	if err != nil {
		return fmt.Errorf("failed to open SPI port %q: %w", p.cfg.SPI.Port, err)
	}
	p.spi, err = p.port.Connect(physic.Frequency(p.cfg.SPI.SpeedHz)*physic.Hertz, spi.Mode(p.cfg.SPI.Mode), 8)
	if err != nil {
		return fmt.Errorf("failed to configure SPI port: %w", err)
	}

	trigger := gpioreg.ByName(p.cfg.Trigger.Pin)
	if trigger == nil {
		return fmt.Errorf("trigger pin %q not found", p.cfg.Trigger.Pin)
	}
	if err = trigger.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set trigger pin %s as output: %w", trigger, err)
	}
	p.trigger = trigger

	if p.cfg.Ready.Pin != "" {
		ready := gpioreg.ByName(p.cfg.Ready.Pin)
		if ready == nil {
			return fmt.Errorf("ready pin %q not found", p.cfg.Ready.Pin)
		}
		if err = ready.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			return fmt.Errorf("failed to set ready pin %s as input: %w", ready, err)
		}
		p.ready = ready
	}

	p.connected = true
	return nil
}

// Close drives the trigger low and releases the bus, the port and the pins.
func (p *Periph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil
	}
	p.connected = false

	return p.release()
}

func (p *Periph) release() error {
	var errs []error
	if p.trigger != nil {
		if err := p.trigger.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("failed to release trigger pin: %w", err))
		}
		p.trigger = nil
	}
	if p.ready != nil {
		if err := p.ready.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release ready pin: %w", err))
		}
		p.ready = nil
	}
	if p.port != nil {
		if err := p.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SPI port: %w", err))
		}
		p.port = nil
	}
	if p.bus != nil {
		if err := p.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close I2C bus: %w", err))
		}
		p.bus = nil
	}
	p.spi = nil
	p.dev = nil
	return errors.Join(errs...)
}

// IsConnected returns whether the device is currently connected.
func (p *Periph) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// WriteBlock writes the endpoint byte followed by the payload in a single
// I²C transaction.
func (p *Periph) WriteBlock(ep Endpoint, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return fmt.Errorf("not connected")
	}

	msg := make([]byte, 0, len(payload)+1)
	msg = append(msg, byte(ep))
	msg = append(msg, payload...)
	if _, err := p.dev.Write(msg); err != nil {
		return fmt.Errorf("failed to write %s block: %w", ep, err)
	}
	return nil
}

// High raises the trigger line.
func (p *Periph) High() error {
	return p.setTrigger(gpio.High)
}

// Low lowers the trigger line.
func (p *Periph) Low() error {
	return p.setTrigger(gpio.Low)
}

func (p *Periph) setTrigger(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return fmt.Errorf("not connected")
	}
	if err := p.trigger.Out(l); err != nil {
		return fmt.Errorf("failed to set trigger %s: %w", l, err)
	}
	return nil
}

// Transfer clocks out zeros and reads 2*count bytes. Transfers larger than
// the port's maximum are split into consecutive chunks.
func (p *Periph) Transfer(count uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil, fmt.Errorf("not connected")
	}

	size := 2 * int(count)
	w := make([]byte, size)
	r := make([]byte, size)

	chunk := size
	if l, ok := p.spi.(conn.Limits); ok {
		if limit := l.MaxTxSize(); limit > 0 && limit < chunk {
			chunk = limit
		}
	}

	for off := 0; off < size; off += chunk {
		end := min(off+chunk, size)
		if err := p.spi.Tx(w[off:end], r[off:end]); err != nil {
			return nil, fmt.Errorf("failed to read samples at byte %d of %d: %w", off, size, err)
		}
	}
	return r, nil
}

// HasReady reports whether a ready line is configured.
func (p *Periph) HasReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready != nil
}

// WaitReady waits for a rising edge on the ready line. Without a configured
// ready line it waits the full timeout and returns false.
func (p *Periph) WaitReady(ctx context.Context, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()

	if ready == nil {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(timeout):
			return false, nil
		}
	}
	if ready.Read() == gpio.High {
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if ready.WaitForEdge(min(remaining, readyPollInterval)) {
			return true, nil
		}
	}
}
