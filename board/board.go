// Package board abstracts the slice of hardware the motion core touches:
// digital output pins for stepper and limit-switch wiring, a PWM servo
// controller, and single-shot distance sensors.
package board

import "context"

// A GPIOPin is a single digital pin.
type GPIOPin interface {
	// Set drives the pin high or low.
	Set(ctx context.Context, high bool) error
	// Get reads the pin level.
	Get(ctx context.Context) (bool, error)
}

// A ServoController drives PWM channels, e.g. a PCA9685 breakout. Values are
// raw off-counts in the controller's 12-bit frame; zero releases the channel.
type ServoController interface {
	SetPWM(ctx context.Context, channel, value int) error
	// ReleaseAll drops PWM output on every channel.
	ReleaseAll(ctx context.Context) error
}

// A DistanceSensor takes one distance measurement in centimeters. A reading
// of 0 with a nil error means nothing was seen in range.
type DistanceSensor interface {
	SampleOnce(ctx context.Context) (float64, error)
}

// A Board exposes its pins by name.
type Board interface {
	GPIOPinByName(name string) (GPIOPin, error)
}
