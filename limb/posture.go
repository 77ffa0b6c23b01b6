package limb

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/atomic"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/board"
	"github.com/strider-bot/strider/motion"
	"github.com/strider-bot/strider/servo"
)

const (
	// postureBudget bounds a fold/unfold in case a limit switch never trips.
	postureBudget = 5 * time.Second
	posturePoll   = 500 * time.Millisecond
	postureSettle = time.Second
)

// PostureConfig names the limit-switch pins that report the folded and
// unfolded end positions.
type PostureConfig struct {
	UpPin   string `json:"up_pin"`
	DownPin string `json:"down_pin"`
}

// Validate ensures all parts of the config are valid.
func (cfg *PostureConfig) Validate(path string) error {
	if cfg.UpPin == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "up_pin")
	}
	if cfg.DownPin == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "down_pin")
	}
	return nil
}

// PostureState is a snapshot of the posture mechanism.
type PostureState struct {
	Servo   servo.State `json:"servo"`
	Up      bool        `json:"up"`
	UpPin   string      `json:"up_pin"`
	DownPin string      `json:"down_pin"`
}

// Posture folds and unfolds the legs under the body using a dedicated servo
// and two limit switches.
type Posture struct {
	servo       *servo.Servo
	upPin       board.GPIOPin
	downPin     board.GPIOPin
	left, right *Leg
	up          atomic.Bool
	cfg         PostureConfig
	logger      golog.Logger
}

// NewPosture wires the posture servo to its limit switches. The legs are
// stopped before every fold so they cannot fight the mechanism.
func NewPosture(
	ctx context.Context,
	b board.Board,
	s *servo.Servo,
	cfg PostureConfig,
	left, right *Leg,
	logger golog.Logger,
) (*Posture, error) {
	upPin, err := b.GPIOPinByName(cfg.UpPin)
	if err != nil {
		return nil, err
	}
	downPin, err := b.GPIOPinByName(cfg.DownPin)
	if err != nil {
		return nil, err
	}
	p := &Posture{
		servo:   s,
		upPin:   upPin,
		downPin: downPin,
		left:    left,
		right:   right,
		cfg:     cfg,
		logger:  logger,
	}
	p.up.Store(true)
	return p, nil
}

// Up folds the legs under the body.
func (p *Posture) Up(ctx context.Context) (bool, error) {
	return p.move(ctx, 1)
}

// Down unfolds the legs for walking.
func (p *Posture) Down(ctx context.Context) (bool, error) {
	return p.move(ctx, -1)
}

// Stop halts the mechanism, re-centers the servo, and releases it.
func (p *Posture) Stop(ctx context.Context) (bool, error) {
	return p.move(ctx, 0)
}

func (p *Posture) move(ctx context.Context, dir int) (bool, error) {
	p.left.Stop(ctx)
	p.right.Stop(ctx)

	tok := motion.NewToken()
	p.servo.Adopt(tok)
	p.logger.Debugf("posture move %d", dir)

	deadline := time.Now().Add(postureBudget)
	switch {
	case dir > 0:
		if err := p.driveUntil(ctx, p.upPin, p.servo.State().Max, tok, deadline); err != nil {
			return false, err
		}
		p.up.Store(true)
	case dir < 0:
		if err := p.driveUntil(ctx, p.downPin, p.servo.State().Min, tok, deadline); err != nil {
			return false, err
		}
		p.up.Store(false)
	}

	result := p.servo.IsCurrent(tok)
	p.servo.Stop(ctx)
	utils.SelectContextOrWait(ctx, postureSettle)
	p.servo.Release(ctx)
	return result, nil
}

// driveUntil pushes the servo toward target until the limit switch trips,
// the budget runs out, or a newer command takes the servo.
func (p *Posture) driveUntil(
	ctx context.Context,
	pin board.GPIOPin,
	target int,
	tok motion.Token,
	deadline time.Time,
) error {
	hit, err := pin.Get(ctx)
	if err != nil {
		return err
	}
	if hit {
		return nil
	}
	if _, err := p.servo.SetWith(ctx, target, tok); err != nil {
		return err
	}
	for {
		hit, err := pin.Get(ctx)
		if err != nil {
			return err
		}
		if hit || time.Now().After(deadline) || !p.servo.IsCurrent(tok) {
			return nil
		}
		if !utils.SelectContextOrWait(ctx, posturePoll) {
			return ctx.Err()
		}
	}
}

// IsUp reports whether the legs were last folded up.
func (p *Posture) IsUp() bool {
	return p.up.Load()
}

// State returns a snapshot of the posture mechanism.
func (p *Posture) State() PostureState {
	return PostureState{
		Servo:   p.servo.State(),
		Up:      p.up.Load(),
		UpPin:   p.cfg.UpPin,
		DownPin: p.cfg.DownPin,
	}
}
