// Package servo implements the PWM servo driver used for the robot's legs,
// leg posture and camera tilt. A servo occupies one channel of a PWM
// controller; positions are raw off-counts in the controller's frame
// (roughly 228..458 for a 50 Hz hobby servo).
//
// Writes are gated on a motion token so that a paired command can drive two
// servos under one shared token and a stop on either supersedes both sides
// of the gait.
package servo

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/board"
	"github.com/strider-bot/strider/motion"
)

// settleWait covers the servo spinning up from a released channel.
const settleWait = 100 * time.Millisecond

// Config describes one servo channel.
type Config struct {
	Channel int `json:"channel"`
	// Home is the neutral position the servo re-centers to on stop.
	Home int `json:"home"`
	Min  int `json:"min"`
	Max  int `json:"max"`
	// Scale is the caller-side rate range: a commanded rate of Scale maps to
	// the servo's Min or Max position.
	Scale int `json:"scale"`
	// SweepDegrees is the physical sweep between Min and Max, used for
	// move-by-angle. Zero disables angle moves.
	SweepDegrees int `json:"sweep_degrees,omitempty"`
	// WaitPerUnit is how long one PWM unit of travel takes the horn.
	WaitPerUnitUsec int `json:"wait_per_unit_usec,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Max <= cfg.Min {
		return utils.NewConfigValidationError(path, errors.New("max must be greater than min"))
	}
	if cfg.Home < cfg.Min || cfg.Home > cfg.Max {
		return utils.NewConfigValidationError(path, errors.New("home must lie within [min, max]"))
	}
	if cfg.Scale <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "scale")
	}
	return nil
}

// State is a read-only snapshot of a servo.
type State struct {
	Channel  int          `json:"channel"`
	Position int          `json:"position"`
	Home     int          `json:"home"`
	Min      int          `json:"min"`
	Max      int          `json:"max"`
	Scale    int          `json:"scale"`
	Moving   bool         `json:"moving"`
	Token    motion.Token `json:"-"`
}

// Servo drives one PWM channel.
type Servo struct {
	name        string
	ctrl        board.ServoController
	channel     int
	home        int
	min, max    int
	scale       int
	sweep       int
	waitPerUnit time.Duration
	logger      golog.Logger

	sup motion.Supervisor

	// position and lastPWM are only written by the goroutine running the
	// current command; snapshots read them through atomics.
	position atomicInt
	lastPWM  atomicInt
	moving   atomic.Bool
}

// atomicInt is an int-typed view over an atomic int64.
type atomicInt struct {
	v atomic.Int64
}

func (a *atomicInt) Load() int   { return int(a.v.Load()) }
func (a *atomicInt) Store(i int) { a.v.Store(int64(i)) }

// NewServo sets up a servo and centers it on its home position.
func NewServo(ctx context.Context, ctrl board.ServoController, cfg Config, name string, logger golog.Logger) (*Servo, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	s := &Servo{
		name:        name,
		ctrl:        ctrl,
		channel:     cfg.Channel,
		home:        cfg.Home,
		min:         cfg.Min,
		max:         cfg.Max,
		scale:       cfg.Scale,
		sweep:       cfg.SweepDegrees,
		waitPerUnit: time.Duration(cfg.WaitPerUnitUsec) * time.Microsecond,
		logger:      logger,
	}
	if s.waitPerUnit <= 0 {
		s.waitPerUnit = 4 * time.Millisecond
	}
	s.position.Store(-1)

	tok := s.sup.Supersede()
	if _, err := s.write(ctx, s.home, tok); err != nil {
		return nil, err
	}
	return s, nil
}

// Set mints a fresh token and drives the servo to the given position,
// blocking for the horn's travel time. A position of 0 releases the channel.
func (s *Servo) Set(ctx context.Context, position int) (motion.Token, bool, error) {
	tok := s.sup.Supersede()
	ok, err := s.write(ctx, position, tok)
	return tok, ok, err
}

// SetWith drives the servo under an existing token. The write is skipped,
// returning false, if the token no longer owns the servo.
func (s *Servo) SetWith(ctx context.Context, position int, tok motion.Token) (bool, error) {
	return s.write(ctx, position, tok)
}

func (s *Servo) write(ctx context.Context, position int, tok motion.Token) (bool, error) {
	if !s.sup.IsCurrent(tok) {
		return false, nil
	}
	if position != 0 && (position < s.min || position > s.max) {
		return false, errors.Errorf("servo %q position %d outside [%d, %d]", s.name, position, s.min, s.max)
	}

	s.moving.Store(true)
	defer s.moving.Store(false)

	if err := s.ctrl.SetPWM(ctx, s.channel, position); err != nil {
		return false, errors.Wrapf(err, "servo %q channel %d", s.name, s.channel)
	}
	fromRelease := s.lastPWM.Load() == 0
	s.lastPWM.Store(position)

	wait := s.waitPerUnit * time.Duration(intAbs(position-s.position.Load()))
	if position != 0 {
		s.position.Store(position)
	}
	s.logger.Debugf("servo %q channel %d -> %d (travel %v)", s.name, s.channel, position, wait)

	if fromRelease && !utils.SelectContextOrWait(ctx, settleWait) {
		return false, ctx.Err()
	}
	if !utils.SelectContextOrWait(ctx, wait) {
		return false, ctx.Err()
	}
	return true, nil
}

// MoveTo ramps the servo to the target position in pace increments, clamping
// each one into bounds and re-checking the token between increments. It
// returns false once superseded.
func (s *Servo) MoveTo(ctx context.Context, target, pace int) (motion.Token, bool, error) {
	tok := s.sup.Supersede()
	ok, err := s.moveTo(ctx, target, pace, tok)
	return tok, ok, err
}

// MoveToWith is MoveTo under an existing token.
func (s *Servo) MoveToWith(ctx context.Context, target, pace int, tok motion.Token) (bool, error) {
	return s.moveTo(ctx, target, pace, tok)
}

func (s *Servo) moveTo(ctx context.Context, target, pace int, tok motion.Token) (bool, error) {
	if target == 0 {
		return false, nil
	}
	if pace < 1 {
		pace = 1
	}
	start := s.position.Load()
	tick := float64(target-start) / float64(pace)

	var ok bool
	for i := 1; i <= pace; i++ {
		next := start + int(float64(i)*tick)
		if next > s.max {
			next = s.max
		} else if next < s.min {
			next = s.min
		}
		if next == s.position.Load() {
			continue
		}
		var err error
		ok, err = s.write(ctx, next, tok)
		if err != nil {
			return false, err
		}
		if !ok || next == s.max || next == s.min {
			break
		}
	}
	return ok, nil
}

// MoveByAngle moves the servo by the given angle relative to its current
// position, using the configured sweep range.
func (s *Servo) MoveByAngle(ctx context.Context, degrees, pace int) (motion.Token, bool, error) {
	if s.sweep <= 0 || degrees == 0 {
		return motion.Token{}, false, nil
	}
	target := s.position.Load() + (s.max-s.min)*degrees/s.sweep
	return s.MoveTo(ctx, target, pace)
}

// MapRate maps a signed rate in [-Scale, Scale] to a position: positive
// rates run toward Max, negative toward Min, zero returns Home.
func (s *Servo) MapRate(rate int) int {
	switch {
	case rate > 0:
		return scaleToRange(rate, s.scale, s.home, s.max)
	case rate < 0:
		return scaleToRange(-rate, s.scale, s.home, s.min)
	default:
		return s.home
	}
}

// Stop supersedes the current command and re-centers the servo on home.
func (s *Servo) Stop(ctx context.Context) motion.Token {
	tok := s.sup.Supersede()
	if _, err := s.write(ctx, s.home, tok); err != nil {
		s.logger.Errorw("servo stop failed", "name", s.name, "error", err)
	}
	return tok
}

// StopWith re-centers the servo if tok still owns it.
func (s *Servo) StopWith(ctx context.Context, tok motion.Token) bool {
	ok, err := s.write(ctx, s.home, tok)
	if err != nil {
		s.logger.Errorw("servo stop failed", "name", s.name, "error", err)
		return false
	}
	return ok
}

// Release supersedes the current command and drops PWM output on the
// channel, letting the horn go slack.
func (s *Servo) Release(ctx context.Context) motion.Token {
	tok := s.sup.Supersede()
	if _, err := s.write(ctx, 0, tok); err != nil {
		s.logger.Errorw("servo release failed", "name", s.name, "error", err)
	}
	return tok
}

// Adopt installs a token minted elsewhere, superseding the current command.
func (s *Servo) Adopt(tok motion.Token) {
	s.sup.Adopt(tok)
}

// Current returns the token of the command currently owning the servo.
func (s *Servo) Current() motion.Token {
	return s.sup.Current()
}

// IsCurrent reports whether tok still owns the servo.
func (s *Servo) IsCurrent(tok motion.Token) bool {
	return s.sup.IsCurrent(tok)
}

// AtMax reports whether the servo sits at its max (or has never been driven).
func (s *Servo) AtMax() bool {
	pos := s.position.Load()
	return pos == s.max || pos <= 0
}

// AtMin reports whether the servo sits at its min (or has never been driven).
func (s *Servo) AtMin() bool {
	pos := s.position.Load()
	return pos == s.min || pos <= 0
}

// State returns a snapshot safe to call from any goroutine.
func (s *Servo) State() State {
	return State{
		Channel:  s.channel,
		Position: s.position.Load(),
		Home:     s.home,
		Min:      s.min,
		Max:      s.max,
		Scale:    s.scale,
		Moving:   s.moving.Load(),
		Token:    s.sup.Current(),
	}
}

func scaleToRange(x, inMax, outMin, outMax int) int {
	return x*(outMax-outMin)/inMax + outMin
}

func intAbs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
