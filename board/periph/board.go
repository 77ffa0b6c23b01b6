// Package periph implements the board interfaces on real hardware through
// periph.io's GPIO and I2C host drivers.
package periph

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/strider-bot/strider/board"
)

// NewBoard initializes the periph host drivers and returns a board whose
// pins resolve through gpioreg.
func NewBoard() (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init failed")
	}
	return &Board{pins: map[string]*pin{}}, nil
}

// Board resolves pins by their periph name ("GPIO5", "P1_29", ...).
type Board struct {
	mu   sync.Mutex
	pins map[string]*pin
}

// GPIOPinByName returns the named pin.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[name]; ok {
		return p, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no GPIO pin named %q", name)
	}
	wrapped := &pin{pin: p}
	b.pins[name] = wrapped
	return wrapped, nil
}

type pin struct {
	mu      sync.Mutex
	pin     gpio.PinIO
	isInput bool
}

func (p *pin) Set(ctx context.Context, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isInput = false
	return p.pin.Out(gpio.Level(high))
}

func (p *pin) Get(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isInput {
		if err := p.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return false, errors.Wrapf(err, "cannot read pin %q", p.pin.Name())
		}
		p.isInput = true
	}
	return bool(p.pin.Read()), nil
}
