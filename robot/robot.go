// Package robot is the coordination layer: it owns the legs, head, posture
// mechanism, and obstacle model, and turns high level commands into token
// supervised motion.
package robot

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/limb"
	"github.com/strider-bot/strider/motion"
	"github.com/strider-bot/strider/motor"
	"github.com/strider-bot/strider/obstacle"
	"github.com/strider-bot/strider/servo"
)

// safetyPollInterval is how often an executing walk re-checks the obstacle
// model.
const safetyPollInterval = 300 * time.Millisecond

// CommandState tracks a walk command through its lifecycle.
type CommandState int32

// The walk command lifecycle. Every command ends in one of the last three
// states.
const (
	StateIdle CommandState = iota
	StateValidating
	StateExecuting
	StateCompleted
	StateSuperseded
	StateSafetyStopped
)

func (s CommandState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateSuperseded:
		return "superseded"
	case StateSafetyStopped:
		return "safety_stopped"
	default:
		return "unknown"
	}
}

// WalkStatus identifies the most recent walk command and where it ended up.
type WalkStatus struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Status is a snapshot of the whole robot.
type Status struct {
	Walk      WalkStatus        `json:"walk"`
	LeftLeg   servo.State       `json:"left_leg"`
	RightLeg  servo.State       `json:"right_leg"`
	Head      motor.State       `json:"head"`
	Posture   limb.PostureState `json:"posture"`
	Obstacles []obstacle.State  `json:"obstacles"`
}

// Robot coordinates the limbs.
type Robot struct {
	left, right *limb.Leg
	head        *limb.Head
	posture     *limb.Posture
	obstacles   *obstacle.Model
	clk         clock.Clock
	logger      golog.Logger

	walkID    atomic.String
	walkState atomic.Int32

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// New returns a robot over the given parts.
func New(
	left, right *limb.Leg,
	head *limb.Head,
	posture *limb.Posture,
	obstacles *obstacle.Model,
	logger golog.Logger,
) *Robot {
	cancelCtx, cancel := context.WithCancel(context.Background())
	r := &Robot{
		left:      left,
		right:     right,
		head:      head,
		posture:   posture,
		obstacles: obstacles,
		clk:       clock.New(),
		logger:    logger,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}
	r.walkState.Store(int32(StateIdle))
	return r
}

// Walk drives both legs at the given signed rates for duration. An unsafe
// direction is silently downgraded to a stop rather than rejected, while a
// move with no duration is ignored outright. Walk returns true once the
// motion has been dispatched; the walk itself runs in
// the background under a token shared by both legs, re-checked against the
// obstacle model every safetyPollInterval.
func (r *Robot) Walk(ctx context.Context, left, right int, duration time.Duration) bool {
	if duration <= 0 && (left != 0 || right != 0) {
		r.logger.Debugw("ignoring walk with no duration", "left", left, "right", right)
		return false
	}
	opID := uuid.New().String()
	duration = limb.ClampWalkDuration(duration)
	r.walkID.Store(opID)
	r.setWalkState(StateValidating)

	if (left != 0 || right != 0) && !r.obstacles.IsDirectionSafe(left, right) {
		r.logger.Infow("unsafe direction, stopping instead", "op", opID, "left", left, "right", right)
		left, right = 0, 0
	}

	tok := motion.NewToken()
	r.left.Adopt(tok)
	r.right.Adopt(tok)
	r.setWalkState(StateExecuting)
	r.logger.Debugw("walk dispatched", "op", opID, "left", left, "right", right, "duration", duration)

	r.dispatchLeg(r.left, left, duration, tok)
	r.dispatchLeg(r.right, right, duration, tok)

	if left == 0 && right == 0 {
		r.setWalkState(StateCompleted)
		return true
	}

	started := time.Now()
	r.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		r.monitorWalk(r.cancelCtx, opID, tok, left, right, duration, started)
	}, r.activeBackgroundWorkers.Done)
	return true
}

func (r *Robot) dispatchLeg(l *limb.Leg, rate int, duration time.Duration, tok motion.Token) {
	r.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer r.activeBackgroundWorkers.Done()
		if rate == 0 {
			l.StopWith(r.cancelCtx, tok)
			return
		}
		if _, err := l.Direction(r.cancelCtx, rate, duration, tok); err != nil && r.cancelCtx.Err() == nil {
			r.logger.Errorw("leg move failed", "leg", l.Name(), "error", err)
		}
	})
}

// monitorWalk watches an executing walk. It ends the command in
// SafetyStopped when the obstacle model turns unsafe, in Superseded when a
// newer command takes the legs early, and in Completed otherwise.
func (r *Robot) monitorWalk(
	ctx context.Context,
	opID string,
	tok motion.Token,
	left, right int,
	duration time.Duration,
	started time.Time,
) {
	for r.left.IsCurrent(tok) && r.right.IsCurrent(tok) {
		if !r.obstacles.IsDirectionSafe(left, right) {
			r.logger.Infow("obstacle mid-walk, stopping", "op", opID)
			r.left.Stop(ctx)
			r.right.Stop(ctx)
			r.finishWalk(opID, StateSafetyStopped)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(safetyPollInterval):
		}
	}
	if time.Since(started) >= duration {
		r.finishWalk(opID, StateCompleted)
	} else {
		r.finishWalk(opID, StateSuperseded)
	}
}

func (r *Robot) setWalkState(s CommandState) {
	r.walkState.Store(int32(s))
}

// finishWalk records a terminal state, unless a newer walk has already
// replaced this command.
func (r *Robot) finishWalk(opID string, s CommandState) {
	if r.walkID.Load() != opID {
		return
	}
	r.setWalkState(s)
	r.logger.Debugw("walk finished", "op", opID, "state", s.String())
}

// TurnHead rotates the head by degrees at the given step rate, blocking
// until the rotation ends. A non-positive rate stops the head.
func (r *Robot) TurnHead(ctx context.Context, degrees, rate float64) bool {
	_, ok := r.head.Turn(ctx, degrees, rate)
	return ok
}

// ShakeHead makes the robot shake its head, blocking until the gesture ends
// or it loses the head to a newer command.
func (r *Robot) ShakeHead(ctx context.Context) bool {
	return r.head.Shake(ctx)
}

// FoldLegs folds (mode 1), unfolds (mode -1), or halts (mode 0) the posture
// mechanism. It blocks until the mechanism settles.
func (r *Robot) FoldLegs(ctx context.Context, mode int) (bool, error) {
	switch {
	case mode > 0:
		return r.posture.Up(ctx)
	case mode < 0:
		return r.posture.Down(ctx)
	default:
		return r.posture.Stop(ctx)
	}
}

// Status snapshots every part of the robot.
func (r *Robot) Status() Status {
	return Status{
		Walk: WalkStatus{
			ID:    r.walkID.Load(),
			State: CommandState(r.walkState.Load()).String(),
		},
		LeftLeg:   r.left.State(),
		RightLeg:  r.right.State(),
		Head:      r.head.State(),
		Posture:   r.posture.State(),
		Obstacles: r.obstacles.Snapshot(),
	}
}

// Close stops all motion and waits for background work to exit.
func (r *Robot) Close(ctx context.Context) error {
	r.cancel()
	r.left.Stop(ctx)
	r.right.Stop(ctx)
	if _, err := r.head.Stop(ctx); err != nil {
		r.logger.Errorw("head stop failed during close", "error", err)
	}
	r.activeBackgroundWorkers.Wait()
	return nil
}
