// Package limb composes the low level servo and stepper drivers into the
// robot's articulated parts: the two walking legs, the neck stepper, and the
// posture servo that folds the legs under the body.
package limb

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/motion"
	"github.com/strider-bot/strider/servo"
)

// Walk durations outside this window are clamped rather than rejected.
const (
	minWalkDuration = 500 * time.Millisecond
	maxWalkDuration = 30 * time.Second
)

// ClampWalkDuration forces a walk duration into the supported window.
func ClampWalkDuration(d time.Duration) time.Duration {
	if d < minWalkDuration {
		return minWalkDuration
	}
	if d > maxWalkDuration {
		return maxWalkDuration
	}
	return d
}

// Leg is one continuous-rotation walking leg.
type Leg struct {
	servo  *servo.Servo
	name   string
	logger golog.Logger
}

// NewLeg wraps the given servo as a leg.
func NewLeg(s *servo.Servo, name string, logger golog.Logger) *Leg {
	return &Leg{servo: s, name: name, logger: logger}
}

// Name returns the leg's name.
func (l *Leg) Name() string { return l.name }

// Adopt installs a token minted elsewhere on the leg's servo, so that both
// legs of a gait can share one token.
func (l *Leg) Adopt(tok motion.Token) {
	l.servo.Adopt(tok)
}

// Direction drives the leg at the given signed rate for duration, under tok.
// It blocks for the whole walk, re-checking ownership every quarter of the
// duration, and returns false as soon as a newer command has taken the leg.
// On an undisturbed walk the leg is re-centered before returning true.
func (l *Leg) Direction(ctx context.Context, rate int, duration time.Duration, tok motion.Token) (bool, error) {
	if rate == 0 || duration <= 0 {
		return false, nil
	}
	duration = ClampWalkDuration(duration)

	l.logger.Debugf("leg %q rate %d for %v", l.name, rate, duration)
	ok, err := l.servo.SetWith(ctx, l.servo.MapRate(rate), tok)
	if err != nil || !ok {
		return false, err
	}

	quarter := duration / 4
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if !utils.SelectContextOrWait(ctx, quarter) {
			return false, ctx.Err()
		}
		if !l.servo.IsCurrent(tok) {
			l.logger.Debugf("leg %q superseded", l.name)
			return false, nil
		}
	}

	l.servo.Stop(ctx)
	return true, nil
}

// Stop supersedes whatever owns the leg and re-centers it.
func (l *Leg) Stop(ctx context.Context) motion.Token {
	return l.servo.Stop(ctx)
}

// StopWith re-centers the leg under an existing token.
func (l *Leg) StopWith(ctx context.Context, tok motion.Token) bool {
	return l.servo.StopWith(ctx, tok)
}

// IsCurrent reports whether tok still owns the leg.
func (l *Leg) IsCurrent(tok motion.Token) bool {
	return l.servo.IsCurrent(tok)
}

// State returns a snapshot of the underlying servo.
func (l *Leg) State() servo.State {
	return l.servo.State()
}
