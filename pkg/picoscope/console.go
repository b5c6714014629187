package picoscope

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is the baud rate of the peripheral's USB console.
const DefaultBaudRate = 115200

// EventKind identifies a recognised console line.
type EventKind int

const (
	// EventText is any line that is not otherwise recognised.
	EventText EventKind = iota
	// EventDrive echoes the drive block loaded on arm.
	EventDrive
	// EventReader echoes the probe block loaded on arm.
	EventReader
	// EventSent reports the number of bytes shifted out over the sample link.
	EventSent
)

// Event is one parsed console line.
type Event struct {
	Kind  EventKind
	Block Block
	Bytes int
	Line  string
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Console monitors the peripheral's diagnostic output. It logs every line and
// remembers the blocks the firmware reports when it arms.
type Console struct {
	port     string
	baudRate int

	conn   io.ReadCloser
	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	connected bool
	probe     *Block
	drive     *Block
	sent      int
}

// NewConsole creates a console monitor for the given serial port.
func NewConsole(port string, baudRate int) *Console {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Console{
		port:     port,
		baudRate: baudRate,
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect opens the serial port and starts reading lines.
func (c *Console) Connect() error {
	port, err := serial.Open(c.port, &serial.Mode{BaudRate: c.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", c.port, err)
	}
	if err := c.Attach(port); err != nil {
		port.Close()
		return err
	}
	return nil
}

// Attach starts reading lines from r. The console takes ownership of r.
func (c *Console) Attach(r io.ReadCloser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	c.conn = r
	c.connected = true

	go c.readLines(r)

	return nil
}

// Close stops the reader and closes the port.
func (c *Console) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.cancel()

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	<-c.done
	if err != nil {
		return fmt.Errorf("failed to close console: %w", err)
	}
	return nil
}

// Events returns the channel of parsed lines. It is closed when the reader
// stops. Events are dropped when nobody drains the channel.
func (c *Console) Events() <-chan Event {
	return c.events
}

// ArmEcho returns the probe and drive blocks last reported by the firmware.
func (c *Console) ArmEcho() (probe, drive Block, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.probe == nil || c.drive == nil {
		return Block{}, Block{}, false
	}
	return *c.probe, *c.drive, true
}

// Sent returns the byte count of the last reported transfer.
func (c *Console) Sent() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sent
}

// IsConnected returns whether the console is currently reading.
func (c *Console) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Console) readLines(conn io.Reader) {
	defer close(c.done)
	defer close(c.events)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in console reader: %v", r)
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ev, err := parseLine(line)
		if err != nil {
			log.Printf("device: failed to parse line '%s': %v", line, err)
			continue
		}
		log.Printf("device: %s", line)
		c.record(ev)

		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		default:
		}
	}

	if err := scanner.Err(); err != nil && c.ctx.Err() == nil {
		log.Printf("Error reading from console: %v", err)
	}
}

func (c *Console) record(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventDrive:
		b := ev.Block
		c.drive = &b
	case EventReader:
		b := ev.Block
		c.probe = &b
	case EventSent:
		c.sent = ev.Bytes
	}
}

// parseLine recognises the firmware's diagnostic lines:
//
//	driver: <delay> <high> <low> <points>
//	reader: <delay> <high> <low> <points>
//	sent <n> bytes
//
// Anything else is returned as EventText.
func parseLine(line string) (Event, error) {
	ev := Event{Kind: EventText, Line: line}

	switch {
	case strings.HasPrefix(line, "driver:"), strings.HasPrefix(line, "reader:"):
		name, rest, _ := strings.Cut(line, ":")
		fields := strings.Fields(rest)
		if len(fields) != 4 {
			return ev, fmt.Errorf("expected 4 fields, got %d", len(fields))
		}
		var vals [4]uint32
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return ev, fmt.Errorf("invalid field %d: %w", i, err)
			}
			vals[i] = uint32(v)
		}
		ev.Block = Block{Delay: vals[0], High: vals[1], Low: vals[2], Points: vals[3]}
		ev.Kind = EventReader
		if name == "driver" {
			ev.Kind = EventDrive
		}
	case strings.HasPrefix(line, "sent "):
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[2] != "bytes" {
			return ev, fmt.Errorf("malformed transfer report")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return ev, fmt.Errorf("invalid byte count: %w", err)
		}
		ev.Kind = EventSent
		ev.Bytes = n
	}

	return ev, nil
}
