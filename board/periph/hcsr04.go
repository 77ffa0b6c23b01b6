package periph

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

const (
	// Echoes from farther than this are noise on the HC-SR04; the reading
	// is reported as "nothing in range".
	maxRangeCM = 600.0

	soundSpeedCMPerSec = 34300.0
)

// HCSR04 is an HC-SR04 ultrasonic distance sensor wired to a trigger output
// and an echo input pin.
type HCSR04 struct {
	mu      sync.Mutex
	trig    gpio.PinIO
	echo    gpio.PinIO
	timeout time.Duration
}

// NewHCSR04 sets up the sensor on the named pins.
func NewHCSR04(trigPin, echoPin string, timeout time.Duration) (*HCSR04, error) {
	trig := gpioreg.ByName(trigPin)
	if trig == nil {
		return nil, errors.Errorf("no GPIO pin named %q", trigPin)
	}
	echo := gpioreg.ByName(echoPin)
	if echo == nil {
		return nil, errors.Errorf("no GPIO pin named %q", echoPin)
	}
	if err := trig.Out(gpio.Low); err != nil {
		return nil, errors.Wrap(err, "cannot set trigger pin low")
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, errors.Wrap(err, "cannot watch echo pin")
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HCSR04{trig: trig, echo: echo, timeout: timeout}, nil
}

// SampleOnce fires one ultrasonic pulse and returns the measured distance in
// centimeters. Out-of-range echoes come back as 0 with no error.
func (s *HCSR04) SampleOnce(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.trig.Out(gpio.High); err != nil {
		return 0, errors.Wrap(err, "cannot raise trigger pin")
	}
	time.Sleep(10 * time.Microsecond)
	if err := s.trig.Out(gpio.Low); err != nil {
		return 0, errors.Wrap(err, "cannot lower trigger pin")
	}

	if !s.echo.WaitForEdge(s.timeout) {
		return 0, errors.New("timed out waiting for pulse start")
	}
	start := time.Now()
	if !s.echo.WaitForEdge(s.timeout) {
		return 0, errors.New("timed out waiting for echo")
	}
	flight := time.Since(start)

	distCM := flight.Seconds() * soundSpeedCMPerSec / 2
	if distCM > maxRangeCM {
		distCM = 0
	}
	return distCM, nil
}
