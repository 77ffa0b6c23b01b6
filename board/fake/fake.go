// Package fake provides in-memory board implementations for tests and for
// running the robot without hardware attached.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/strider-bot/strider/board"
)

// Board is a fake board that creates pins on demand.
type Board struct {
	mu   sync.Mutex
	pins map[string]*GPIOPin
}

// NewBoard returns an empty fake board.
func NewBoard() *Board {
	return &Board{pins: map[string]*GPIOPin{}}
}

// GPIOPinByName returns the named pin, creating it if needed.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[name]
	if !ok {
		p = &GPIOPin{}
		b.pins[name] = p
	}
	return p, nil
}

// GPIOPin is a fake pin that remembers its level and counts rising edges.
type GPIOPin struct {
	mu    sync.Mutex
	high  bool
	rises int
}

// Set records the pin level.
func (p *GPIOPin) Set(ctx context.Context, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if high && !p.high {
		p.rises++
	}
	p.high = high
	return nil
}

// Get returns the recorded level.
func (p *GPIOPin) Get(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high, nil
}

// Rises returns how many low-to-high transitions the pin has seen. Stepper
// tests use it as a step counter.
func (p *GPIOPin) Rises() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rises
}

// ServoController is a fake PWM controller recording the last value written
// to each channel.
type ServoController struct {
	mu     sync.Mutex
	values map[int]int
	writes []int
	fail   error
}

// NewServoController returns an empty fake controller.
func NewServoController() *ServoController {
	return &ServoController{values: map[int]int{}}
}

// SetPWM records the value written to the channel.
func (c *ServoController) SetPWM(ctx context.Context, channel, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.values[channel] = value
	c.writes = append(c.writes, value)
	return nil
}

// ReleaseAll zeroes every channel.
func (c *ServoController) ReleaseAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.values {
		c.values[ch] = 0
	}
	return nil
}

// Value returns the last value written to the channel.
func (c *ServoController) Value(channel int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[channel]
}

// Writes returns every value written so far, in order, across all channels.
func (c *ServoController) Writes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.writes))
	copy(out, c.writes)
	return out
}

// FailWith makes all subsequent writes return err.
func (c *ServoController) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// DistanceSensor is a fake sensor returning values from a caller-supplied
// function.
type DistanceSensor struct {
	mu     sync.Mutex
	sample func() (float64, error)
}

// NewDistanceSensor returns a sensor backed by sample.
func NewDistanceSensor(sample func() (float64, error)) *DistanceSensor {
	return &DistanceSensor{sample: sample}
}

// SampleOnce calls the backing function.
func (s *DistanceSensor) SampleOnce(ctx context.Context) (float64, error) {
	s.mu.Lock()
	sample := s.sample
	s.mu.Unlock()
	if sample == nil {
		return 0, errors.New("fake sensor has no sample function")
	}
	return sample()
}

// SetSample swaps the backing function.
func (s *DistanceSensor) SetSample(sample func() (float64, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = sample
}
