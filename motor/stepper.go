// Package motor implements the rotary stepper driver used for the robot's
// head. The driver steps the motor one pulse at a time and re-checks its
// motion token between pulses, so a newer command or a stop supersedes an
// in-flight move within one step-wait.
package motor

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/board"
	"github.com/strider-bot/strider/motion"
)

const defaultMinStepWait = time.Microsecond

// Config describes a stepper's wiring and geometry.
type Config struct {
	StepPin   string `json:"step"`
	DirPin    string `json:"dir"`
	EnablePin string `json:"en"`

	// Bounds on the step counter relative to home. Min <= 0 <= Max. A nil
	// bound means unbounded on that side.
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`

	// Scale maps input angles to steps: a move of Scale degrees takes
	// ScaleSteps pulses.
	Scale      float64 `json:"scale"`
	ScaleSteps int64   `json:"scale_steps"`

	// MinStepWaitUsec is the floor on the per-step wait. A commanded rate
	// that would dip below it is unsafe for the driver hardware; the move
	// degrades to a stop instead.
	MinStepWaitUsec int `json:"min_step_wait_usec,omitempty"`

	// RateConst converts a commanded rate to a per-step wait:
	// wait seconds = RateConst / rate. Defaults to 1, i.e. rate is
	// steps per second.
	RateConst float64 `json:"rate_const,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.StepPin == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "step")
	}
	if cfg.DirPin == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "dir")
	}
	if cfg.Scale <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "scale")
	}
	if cfg.ScaleSteps <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "scale_steps")
	}
	if cfg.Min != nil && *cfg.Min > 0 {
		return utils.NewConfigValidationError(path, errors.New("min bound must be <= 0"))
	}
	if cfg.Max != nil && *cfg.Max < 0 {
		return utils.NewConfigValidationError(path, errors.New("max bound must be >= 0"))
	}
	return nil
}

// State is a read-only snapshot of a stepper.
type State struct {
	Position int64        `json:"position"`
	Min      *int64       `json:"min,omitempty"`
	Max      *int64       `json:"max,omitempty"`
	Scale    float64      `json:"scale"`
	Token    motion.Token `json:"-"`
}

// Stepper drives one step/dir/enable stepper axis.
type Stepper struct {
	name            string
	stepPin, dirPin board.GPIOPin
	enablePin       board.GPIOPin
	min, max        *int64
	scale           float64
	scaleSteps      int64
	minStepWait     time.Duration
	rateConst       float64
	logger          golog.Logger

	sup      motion.Supervisor
	position atomic.Int64
}

// NewStepper wires a stepper on the given board and leaves it de-energized.
func NewStepper(ctx context.Context, b board.Board, cfg Config, name string, logger golog.Logger) (*Stepper, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}

	s := &Stepper{
		name:        name,
		min:         cfg.Min,
		max:         cfg.Max,
		scale:       cfg.Scale,
		scaleSteps:  cfg.ScaleSteps,
		minStepWait: time.Duration(cfg.MinStepWaitUsec) * time.Microsecond,
		rateConst:   cfg.RateConst,
		logger:      logger,
	}
	if s.minStepWait <= 0 {
		s.minStepWait = defaultMinStepWait
	}
	if s.rateConst <= 0 {
		s.rateConst = 1
	}

	var err error
	if s.stepPin, err = b.GPIOPinByName(cfg.StepPin); err != nil {
		return nil, errors.Wrapf(err, "stepper %q step pin", name)
	}
	if s.dirPin, err = b.GPIOPinByName(cfg.DirPin); err != nil {
		return nil, errors.Wrapf(err, "stepper %q dir pin", name)
	}
	if cfg.EnablePin != "" {
		if s.enablePin, err = b.GPIOPinByName(cfg.EnablePin); err != nil {
			return nil, errors.Wrapf(err, "stepper %q enable pin", name)
		}
	}

	if _, err := s.Stop(ctx); err != nil {
		return nil, err
	}
	logger.Debugf("stepper %q initialized (step=%s dir=%s en=%s)", name, cfg.StepPin, cfg.DirPin, cfg.EnablePin)
	return s, nil
}

// MoveByAngle turns the motor by the given angle (sign is direction) at the
// given rate. It mints a fresh token for the move, blocks until the move
// completes, hits a bound or is superseded, and reports whether the move's
// token was still current when it ended. Callers wanting concurrency run it
// on their own goroutine.
func (s *Stepper) MoveByAngle(ctx context.Context, degrees, rate float64) (motion.Token, bool) {
	tok := s.sup.Supersede()
	if degrees == 0 {
		return tok, s.sup.IsCurrent(tok)
	}

	steps := int64(abs(degrees) / s.scale * float64(s.scaleSteps))
	forward := degrees > 0

	if err := s.run(ctx, tok, steps, forward, rate); err != nil {
		s.logger.Errorw("stepper move failed", "name", s.name, "error", err)
		if _, serr := s.Stop(ctx); serr != nil {
			s.logger.Errorw("stepper stop after failure also failed", "name", s.name, "error", serr)
		}
		return tok, false
	}
	return tok, s.sup.IsCurrent(tok)
}

func (s *Stepper) run(ctx context.Context, tok motion.Token, steps int64, forward bool, rate float64) error {
	if steps <= 0 {
		return nil
	}

	if err := s.energize(ctx, true); err != nil {
		return err
	}
	if err := s.dirPin.Set(ctx, forward); err != nil {
		return errors.Wrapf(err, "stepper %q dir pin", s.name)
	}

	// wait = rate constant / rate; a rate of 0 means "minimum wait", not an
	// error. A computed wait under the floor is an unsafe command: take the
	// floor and degrade to a stop, which the token check below turns into an
	// immediate return.
	wait := s.minStepWait
	if rate != 0 {
		wait = time.Duration(s.rateConst / rate * float64(time.Second))
	}
	if wait < s.minStepWait {
		wait = s.minStepWait
		s.logger.Debugf("stepper %q commanded wait below %v floor, stopping", s.name, s.minStepWait)
		if _, err := s.Stop(ctx); err != nil {
			return err
		}
	}

	for taken := int64(0); taken < steps; taken++ {
		if s.atBound(forward) {
			// Truncate at the bound and treat the move as a completed stop.
			s.logger.Debugw("stepper hit bound", "name", s.name, "position", s.position.Load())
			if _, err := s.Stop(ctx); err != nil {
				return err
			}
		}
		if !s.sup.IsCurrent(tok) {
			return nil
		}

		if err := s.pulse(ctx); err != nil {
			return err
		}
		if forward {
			s.position.Inc()
		} else {
			s.position.Dec()
		}
		if !utils.SelectContextOrWait(ctx, wait) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Stepper) pulse(ctx context.Context) error {
	return multierr.Combine(
		s.stepPin.Set(ctx, true),
		s.stepPin.Set(ctx, false),
	)
}

func (s *Stepper) atBound(forward bool) bool {
	pos := s.position.Load()
	if forward {
		return s.max != nil && pos >= *s.max
	}
	return s.min != nil && pos <= *s.min
}

// Stop supersedes any in-flight move and de-energizes the motor. It is
// idempotent and returns the freshly minted token.
func (s *Stepper) Stop(ctx context.Context) (motion.Token, error) {
	tok := s.sup.Supersede()
	if err := s.energize(ctx, false); err != nil {
		return tok, err
	}
	s.logger.Debugf("stepper %q stopped", s.name)
	return tok, nil
}

// Reset drives the motor back to its home position, clamping the step
// counter into bounds first and carrying any overshoot as a correction, the
// same way the head homes after losing steps.
func (s *Stepper) Reset(ctx context.Context) {
	var correction int64
	pos := s.position.Load()
	if s.min != nil && *s.min > pos {
		correction = pos - *s.min
		s.position.Store(*s.min)
		pos = *s.min
	} else if s.max != nil && *s.max < pos {
		correction = pos - *s.max
		s.position.Store(*s.max)
		pos = *s.max
	}

	// Home over roughly one second regardless of how far out we are.
	rate := abs(float64(pos)) * s.rateConst
	s.moveBySteps(ctx, -pos, rate)

	s.position.Store(correction)
	s.moveBySteps(ctx, -correction, rate)
}

func (s *Stepper) moveBySteps(ctx context.Context, steps int64, rate float64) {
	if steps == 0 {
		return
	}
	degrees := float64(steps) / float64(s.scaleSteps) * s.scale
	s.MoveByAngle(ctx, degrees, rate)
}

// Current returns the token of the command currently owning the motor.
func (s *Stepper) Current() motion.Token {
	return s.sup.Current()
}

// IsAtMax reports whether the motor sits at its max bound.
func (s *Stepper) IsAtMax() bool {
	return s.max != nil && s.position.Load() >= *s.max
}

// IsAtMin reports whether the motor sits at its min bound.
func (s *Stepper) IsAtMin() bool {
	return s.min != nil && s.position.Load() <= *s.min
}

// State returns a snapshot safe to call from any goroutine.
func (s *Stepper) State() State {
	return State{
		Position: s.position.Load(),
		Min:      s.min,
		Max:      s.max,
		Scale:    s.scale,
		Token:    s.sup.Current(),
	}
}

func (s *Stepper) energize(ctx context.Context, on bool) error {
	if s.enablePin == nil {
		return nil
	}
	// The enable line is active low.
	if err := s.enablePin.Set(ctx, !on); err != nil {
		return errors.Wrapf(err, "stepper %q enable pin", s.name)
	}
	return nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
