// Package obstacle tracks ultrasonic range readings and decides whether the
// robot may walk in a requested direction.
package obstacle

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/utils"
)

var (
	errBearingRange      = errors.New("bearing must be within [-180, 180]")
	errNegativeThreshold = errors.New("threshold_cm must not be negative")
)

// unsetDistance marks a reading that has no measurement yet, or whose sensor
// last errored.
const unsetDistance = -1

// ReadingConfig places one range sensor on the robot's body.
type ReadingConfig struct {
	Name string `json:"name"`
	// Bearing is the direction the sensor faces, in degrees. Bearings in
	// (0, 180) cover the robot's front, bearings in (-180, 0) its back.
	Bearing float64 `json:"bearing"`
	// Threshold is the distance in centimeters under which a measurement
	// counts as an obstacle.
	Threshold float64 `json:"threshold_cm"`
}

// Validate ensures all parts of the config are valid.
func (cfg *ReadingConfig) Validate(path string) error {
	if cfg.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if cfg.Bearing < -180 || cfg.Bearing > 180 {
		return utils.NewConfigValidationError(path, errBearingRange)
	}
	if cfg.Threshold < 0 {
		return utils.NewConfigValidationError(path, errNegativeThreshold)
	}
	return nil
}

// Reading holds the latest measurement from one range sensor. It is written
// by the sensor's sampling loop and read by the walking checks.
type Reading struct {
	cfg  ReadingConfig
	last atomic.Float64
}

// NewReading returns a reading with no measurement yet.
func NewReading(cfg ReadingConfig) *Reading {
	r := &Reading{cfg: cfg}
	r.last.Store(unsetDistance)
	return r
}

// Set records a measurement in centimeters. Zero means the sensor saw
// nothing in range.
func (r *Reading) Set(distance float64) {
	r.last.Store(distance)
}

// Clear discards the last measurement, after a sensor failure.
func (r *Reading) Clear() {
	r.last.Store(unsetDistance)
}

// Last returns the latest measurement, and false if there is none.
func (r *Reading) Last() (float64, bool) {
	d := r.last.Load()
	return d, d >= 0
}

// State is a point-in-time view of one reading.
type State struct {
	Name      string   `json:"name"`
	Bearing   float64  `json:"bearing"`
	Threshold float64  `json:"threshold_cm"`
	Distance  *float64 `json:"distance_cm"`
}

// Model aggregates every range reading on the body and answers whether a
// walk is safe.
type Model struct {
	readings []*Reading
}

// NewModel returns a model over the given readings.
func NewModel(readings ...*Reading) *Model {
	return &Model{readings: readings}
}

// Add registers another reading with the model.
func (m *Model) Add(r *Reading) {
	m.readings = append(m.readings, r)
}

// IsDirectionSafe reports whether the legs may run at the given signed
// rates. A sensor only vetoes a walk heading toward it: front sensors veto
// forward rates, rear sensors backward rates. Readings that are missing or
// out of range clear the walk, and turning in place is always allowed.
func (m *Model) IsDirectionSafe(left, right int) bool {
	result := true
	for _, r := range m.readings {
		distance, ok := r.Last()
		if !ok || distance == 0 {
			continue
		}
		result = distance > r.cfg.Threshold

		bearing := r.cfg.Bearing
		front := 0 < bearing && bearing < 180
		back := -180 < bearing && bearing < 0

		if left > 0 && !front {
			result = true
		} else if left < 0 && !back {
			result = true
		}
		if right > 0 && !front {
			result = true
		} else if right < 0 && !back {
			result = true
		}
		if left == -right {
			result = true
		}
		if !result {
			break
		}
	}
	return result
}

// Snapshot returns a view of every reading. Distances are nil until the
// sensor has produced a measurement.
func (m *Model) Snapshot() []State {
	out := make([]State, 0, len(m.readings))
	for _, r := range m.readings {
		st := State{
			Name:      r.cfg.Name,
			Bearing:   r.cfg.Bearing,
			Threshold: r.cfg.Threshold,
		}
		if d, ok := r.Last(); ok {
			st.Distance = &d
		}
		out = append(out, st)
	}
	return out
}
