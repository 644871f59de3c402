package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives the remote release lines through go-rpio's memory-mapped
// GPIO. Pins written before SetupPin are configured as outputs on first use.
type RPiDriver struct {
	mu    sync.Mutex
	modes pinModes
}

// NewRPiRealDriver maps /dev/gpiomem (or /dev/mem as root).
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")
	return &RPiDriver{modes: make(pinModes)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.modes.configure(pin, mode); err != nil {
		return err
	}
	applyMode(rpio.Pin(pin), mode)
	return nil
}

func applyMode(p rpio.Pin, mode PinMode) {
	if mode == Output {
		p.Output()
	} else {
		p.Input()
	}
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()
	setup, err := r.modes.forWrite(pin)
	if err != nil {
		return err
	}
	p := rpio.Pin(pin)
	if setup {
		r.modes[pin] = Output
		p.Output()
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

// ReadPin samples the line; output pins read back their driven level.
func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modes[pin]; !ok {
		r.modes[pin] = Input
		rpio.Pin(pin).Input()
	}
	return rpio.Pin(pin).Read() == rpio.High, nil
}

// Close releases the shutter and focus lines, floats them and unmaps GPIO.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pin := range r.modes.outputs() {
		debug.Verbose("Releasing pin %d (HIGH, then input)", pin)
		p := rpio.Pin(pin)
		p.High()
		p.Input()
		r.modes[pin] = Input
	}
	return rpio.Close()
}
