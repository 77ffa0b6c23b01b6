package periph

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// PCA9685 register map.
const (
	regMode1      = 0x00
	regPrescale   = 0xFE
	regLED0OnL    = 0x06
	regAllLEDOnL  = 0xFA
	mode1Sleep    = 0x10
	mode1Restart  = 0x80
	mode1AutoIncr = 0x20

	oscillatorHz = 25000000
	frameTicks   = 4096
)

// PCA9685 is a 16-channel 12-bit PWM servo controller on the I2C bus.
type PCA9685 struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev i2c.Dev
}

// NewPCA9685 opens the named I2C bus (empty for the platform default) and
// programs the controller for the given PWM frequency, typically 50 Hz for
// hobby servos.
func NewPCA9685(busName string, addr uint16, freqHz float64) (*PCA9685, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open I2C bus for PCA9685")
	}
	c := &PCA9685{bus: bus, dev: i2c.Dev{Bus: bus, Addr: addr}}
	if err := c.init(freqHz); err != nil {
		c.bus.Close()
		return nil, err
	}
	return c, nil
}

func (c *PCA9685) init(freqHz float64) error {
	if err := c.write(regMode1, mode1AutoIncr); err != nil {
		return errors.Wrap(err, "PCA9685 reset failed")
	}
	prescale := byte(float64(oscillatorHz)/(frameTicks*freqHz) + 0.5 - 1)

	// The prescaler can only be written in sleep mode.
	mode, err := c.read(regMode1)
	if err != nil {
		return err
	}
	if err := c.write(regMode1, (mode&^mode1Restart)|mode1Sleep); err != nil {
		return err
	}
	if err := c.write(regPrescale, prescale); err != nil {
		return err
	}
	if err := c.write(regMode1, mode); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return c.write(regMode1, mode|mode1Restart|mode1AutoIncr)
}

// SetPWM sets the off-count of one channel; the on-count is always zero.
// A value of 0 releases the channel.
func (c *PCA9685) SetPWM(ctx context.Context, channel, value int) error {
	if channel < 0 || channel > 15 {
		return errors.Errorf("PCA9685 channel %d out of range", channel)
	}
	if value < 0 || value >= frameTicks {
		return errors.Errorf("PCA9685 value %d out of range", value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	reg := byte(regLED0OnL + 4*channel)
	return c.dev.Tx([]byte{reg, 0, 0, byte(value), byte(value >> 8)}, nil)
}

// ReleaseAll drops PWM output on every channel at once.
func (c *PCA9685) ReleaseAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.Tx([]byte{regAllLEDOnL, 0, 0, 0, 0}, nil)
}

// Close releases all channels and closes the bus.
func (c *PCA9685) Close() error {
	if err := c.ReleaseAll(context.Background()); err != nil {
		return err
	}
	return c.bus.Close()
}

func (c *PCA9685) write(reg, val byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.Tx([]byte{reg, val}, nil)
}

func (c *PCA9685) read(reg byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, 1)
	if err := c.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
