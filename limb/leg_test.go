package limb

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	fakeboard "github.com/strider-bot/strider/board/fake"
	"github.com/strider-bot/strider/motion"
	"github.com/strider-bot/strider/servo"
)

func legServoConfig() servo.Config {
	return servo.Config{
		Channel:         8,
		Home:            342,
		Min:             228,
		Max:             458,
		Scale:           4,
		WaitPerUnitUsec: 1,
	}
}

func newTestLeg(t *testing.T, ctrl *fakeboard.ServoController) *Leg {
	t.Helper()
	logger := golog.NewTestLogger(t)
	s, err := servo.NewServo(context.Background(), ctrl, legServoConfig(), "left", logger)
	test.That(t, err, test.ShouldBeNil)
	return NewLeg(s, "left", logger)
}

func TestLegDirectionCompletes(t *testing.T) {
	ctx := context.Background()
	ctrl := fakeboard.NewServoController()
	l := newTestLeg(t, ctrl)

	tok := motion.NewToken()
	l.Adopt(tok)

	start := time.Now()
	ok, err := l.Direction(ctx, 4, 100*time.Millisecond, tok)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	// durations below the floor are stretched to it
	test.That(t, time.Since(start), test.ShouldBeGreaterThan, 400*time.Millisecond)
	// an undisturbed walk re-centers the leg
	test.That(t, l.State().Position, test.ShouldEqual, 342)
}

func TestLegDirectionSuperseded(t *testing.T) {
	ctx := context.Background()
	ctrl := fakeboard.NewServoController()
	l := newTestLeg(t, ctrl)

	tok := motion.NewToken()
	l.Adopt(tok)

	done := make(chan bool)
	go func() {
		ok, _ := l.Direction(ctx, 4, 2*time.Second, tok)
		done <- ok
	}()

	time.Sleep(200 * time.Millisecond)
	l.Stop(ctx)

	select {
	case ok := <-done:
		test.That(t, ok, test.ShouldBeFalse)
	case <-time.After(2 * time.Second):
		t.Fatal("walk did not notice supersession")
	}
}

func TestLegDirectionZeroRate(t *testing.T) {
	ctx := context.Background()
	ctrl := fakeboard.NewServoController()
	l := newTestLeg(t, ctrl)

	ok, err := l.Direction(ctx, 0, time.Second, motion.NewToken())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestLegDirectionZeroDuration(t *testing.T) {
	ctx := context.Background()
	ctrl := fakeboard.NewServoController()
	l := newTestLeg(t, ctrl)

	tok := motion.NewToken()
	l.Adopt(tok)

	ok, err := l.Direction(ctx, 4, 0, tok)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
	// the leg never moved
	test.That(t, ctrl.Writes(), test.ShouldHaveLength, 1)
}

func TestLegDirectionStaleToken(t *testing.T) {
	ctx := context.Background()
	ctrl := fakeboard.NewServoController()
	l := newTestLeg(t, ctrl)

	stale := motion.NewToken()
	l.Adopt(stale)
	l.Stop(ctx)

	ok, err := l.Direction(ctx, 4, time.Second, stale)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}
