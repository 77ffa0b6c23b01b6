package limb

import (
	"context"

	"github.com/edaniels/golog"

	"github.com/strider-bot/strider/motion"
	"github.com/strider-bot/strider/motor"
)

// shakeRate is the step rate used for the head-shake gesture, tuned so each
// swing takes a few hundred milliseconds.
const shakeRate = 2000

// Head is the neck stepper.
type Head struct {
	stepper *motor.Stepper
	logger  golog.Logger
}

// NewHead wraps the given stepper as the robot's head.
func NewHead(st *motor.Stepper, logger golog.Logger) *Head {
	return &Head{stepper: st, logger: logger}
}

// Turn rotates the head by degrees at the given step rate, blocking until the
// rotation finishes or is superseded. A non-positive rate stops the head
// instead.
func (h *Head) Turn(ctx context.Context, degrees, rate float64) (motion.Token, bool) {
	if rate <= 0 {
		tok, err := h.stepper.Stop(ctx)
		if err != nil {
			h.logger.Errorw("head stop failed", "error", err)
		}
		return tok, false
	}
	return h.stepper.MoveByAngle(ctx, degrees, rate)
}

// Shake waggles the head side to side, the robot's way of saying no. The
// sequence aborts as soon as one of its swings loses the stepper to a newer
// command.
func (h *Head) Shake(ctx context.Context) bool {
	if _, err := h.stepper.Stop(ctx); err != nil {
		h.logger.Errorw("head stop failed", "error", err)
		return false
	}
	for _, degrees := range []float64{15, -30, 30, -15} {
		if _, ok := h.stepper.MoveByAngle(ctx, degrees, shakeRate); !ok {
			return false
		}
	}
	return true
}

// Stop halts and de-energizes the head.
func (h *Head) Stop(ctx context.Context) (motion.Token, error) {
	return h.stepper.Stop(ctx)
}

// Reset drives the head back to its home position.
func (h *Head) Reset(ctx context.Context) {
	h.stepper.Reset(ctx)
}

// AtMax reports whether the head is at its rightmost position.
func (h *Head) AtMax() bool { return h.stepper.IsAtMax() }

// AtMin reports whether the head is at its leftmost position.
func (h *Head) AtMin() bool { return h.stepper.IsAtMin() }

// State returns a snapshot of the underlying stepper.
func (h *Head) State() motor.State {
	return h.stepper.State()
}
