package gpio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cjeanneret/photobox/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// ErrPinMode is returned when a pin is driven against its configured mode.
var ErrPinMode = errors.New("gpio: pin mode mismatch")

// Driver is the interface used to toggle the camera remote lines.
// It is backed by go-rpio on a Raspberry Pi or by MockDriver elsewhere.
//
// Remote release lines are active LOW, so Close drives every output HIGH
// before letting go of it; a crash or shutdown never leaves the shutter
// pressed.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// pinModes tracks configured pins. Callers hold the owning driver's lock.
type pinModes map[int]PinMode

func (p pinModes) configure(pin int, mode PinMode) error {
	if mode != Input && mode != Output {
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	p[pin] = mode
	return nil
}

// forWrite returns true when pin must first be configured as an output.
func (p pinModes) forWrite(pin int) (bool, error) {
	mode, ok := p[pin]
	if !ok {
		return true, nil
	}
	if mode != Output {
		return false, fmt.Errorf("%w: write to input pin %d", ErrPinMode, pin)
	}
	return false, nil
}

// outputs lists output pins in ascending order.
func (p pinModes) outputs() []int {
	var pins []int
	for pin, mode := range p {
		if mode == Output {
			pins = append(pins, pin)
		}
	}
	sort.Ints(pins)
	return pins
}

// MockDriver keeps pin modes and levels in memory. Used for development on
// PC or testing.
type MockDriver struct {
	mu     sync.Mutex
	modes  pinModes
	levels map[int]Level
}

// NewDriver creates a GPIO driver based on the chosen mode.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) init() {
	if m.modes == nil {
		m.modes = make(pinModes)
		m.levels = make(map[int]Level)
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.modes.configure(pin, mode)
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	setup, err := m.modes.forWrite(pin)
	if err != nil {
		return err
	}
	if setup {
		m.modes[pin] = Output
	}
	m.levels[pin] = level
	return nil
}

// ReadPin returns the last level written to pin, Low if never written.
func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// Close releases every output (HIGH) and returns the pins to inputs.
func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	for _, pin := range m.modes.outputs() {
		m.levels[pin] = High
		m.modes[pin] = Input
	}
	return nil
}
