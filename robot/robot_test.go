package robot

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	fakeboard "github.com/strider-bot/strider/board/fake"
	"github.com/strider-bot/strider/limb"
	"github.com/strider-bot/strider/motor"
	"github.com/strider-bot/strider/obstacle"
	"github.com/strider-bot/strider/servo"
)

const legHome = 342

func boundPtr(v int64) *int64 { return &v }

type testBot struct {
	robot *Robot
	ctrl  *fakeboard.ServoController
	front *obstacle.Reading
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	b := fakeboard.NewBoard()
	ctrl := fakeboard.NewServoController()

	mkLeg := func(name string, channel int) *limb.Leg {
		s, err := servo.NewServo(ctx, ctrl, servo.Config{
			Channel:         channel,
			Home:            legHome,
			Min:             228,
			Max:             458,
			Scale:           4,
			WaitPerUnitUsec: 1,
		}, name, logger)
		test.That(t, err, test.ShouldBeNil)
		return limb.NewLeg(s, name, logger)
	}
	left := mkLeg("left", 9)
	right := mkLeg("right", 8)

	st, err := motor.NewStepper(ctx, b, motor.Config{
		StepPin:    "step",
		DirPin:     "dir",
		EnablePin:  "en",
		Min:        boundPtr(-100),
		Max:        boundPtr(100),
		Scale:      360,
		ScaleSteps: 100,
	}, "head", logger)
	test.That(t, err, test.ShouldBeNil)

	ps, err := servo.NewServo(ctx, ctrl, servo.Config{
		Channel:         10,
		Home:            342,
		Min:             305,
		Max:             440,
		Scale:           1,
		WaitPerUnitUsec: 1,
	}, "posture", logger)
	test.That(t, err, test.ShouldBeNil)
	posture, err := limb.NewPosture(ctx, b, ps, limb.PostureConfig{UpPin: "25", DownPin: "4"}, left, right, logger)
	test.That(t, err, test.ShouldBeNil)

	front := obstacle.NewReading(obstacle.ReadingConfig{Name: "front", Bearing: 85, Threshold: 10})
	r := New(left, right, limb.NewHead(st, logger), posture, obstacle.NewModel(front), logger)
	t.Cleanup(func() {
		test.That(t, r.Close(context.Background()), test.ShouldBeNil)
	})
	return &testBot{robot: r, ctrl: ctrl, front: front}
}

func TestWalkCompletes(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	test.That(t, tb.robot.Walk(ctx, 4, 4, 600*time.Millisecond), test.ShouldBeTrue)
	test.That(t, tb.robot.Status().Walk.State, test.ShouldEqual, "executing")

	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		test.That(t, tb.robot.Status().Walk.State, test.ShouldEqual, "completed")
	})
	// completion re-centers both legs
	test.That(t, tb.ctrl.Value(8), test.ShouldEqual, legHome)
	test.That(t, tb.ctrl.Value(9), test.ShouldEqual, legHome)
}

func TestWalkZeroDurationIgnored(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	test.That(t, tb.robot.Walk(ctx, 4, 4, 0), test.ShouldBeFalse)
	test.That(t, tb.robot.Walk(ctx, 4, -4, -time.Second), test.ShouldBeFalse)
	test.That(t, tb.robot.Status().Walk.State, test.ShouldEqual, "idle")
	// neither leg ever left home
	for _, v := range tb.ctrl.Writes() {
		test.That(t, v, test.ShouldEqual, legHome)
	}

	// a stop is still a valid zero-duration command
	test.That(t, tb.robot.Walk(ctx, 0, 0, 0), test.ShouldBeTrue)
	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		test.That(t, tb.robot.Status().Walk.State, test.ShouldEqual, "completed")
	})
}

func TestWalkUnsafeDowngradesToStop(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	tb.front.Set(5)
	test.That(t, tb.robot.Walk(ctx, 4, 4, time.Second), test.ShouldBeTrue)

	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		test.That(t, tb.robot.Status().Walk.State, test.ShouldEqual, "completed")
	})
	// neither leg ever left home
	for _, v := range tb.ctrl.Writes() {
		test.That(t, v, test.ShouldEqual, legHome)
	}
}

func TestWalkSafetyStop(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	test.That(t, tb.robot.Walk(ctx, 4, 4, 5*time.Second), test.ShouldBeTrue)
	time.Sleep(100 * time.Millisecond)
	tb.front.Set(5)

	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		test.That(t, tb.robot.Status().Walk.State, test.ShouldEqual, "safety_stopped")
	})
	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		test.That(t, tb.ctrl.Value(8), test.ShouldEqual, legHome)
		test.That(t, tb.ctrl.Value(9), test.ShouldEqual, legHome)
	})
}

func TestWalkExternallySuperseded(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	test.That(t, tb.robot.Walk(ctx, 4, -4, 5*time.Second), test.ShouldBeTrue)
	time.Sleep(100 * time.Millisecond)

	// another actor takes both legs
	tb.robot.left.Stop(ctx)
	tb.robot.right.Stop(ctx)

	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		test.That(t, tb.robot.Status().Walk.State, test.ShouldEqual, "superseded")
	})
}

func TestWalkNewCommandReplacesOld(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	tb.robot.Walk(ctx, 4, 4, 5*time.Second)
	first := tb.robot.Status().Walk.ID
	time.Sleep(100 * time.Millisecond)

	tb.robot.Walk(ctx, 0, 0, time.Second)
	st := tb.robot.Status().Walk
	test.That(t, st.ID, test.ShouldNotEqual, first)
	test.That(t, st.State, test.ShouldEqual, "completed")
}

func TestTurnAndShakeHead(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	test.That(t, tb.robot.TurnHead(ctx, 90, 10000), test.ShouldBeTrue)
	test.That(t, tb.robot.Status().Head.Position, test.ShouldEqual, 25)

	test.That(t, tb.robot.ShakeHead(ctx), test.ShouldBeTrue)
	test.That(t, tb.robot.Status().Head.Position, test.ShouldEqual, 25)
}

func TestCommandStateString(t *testing.T) {
	test.That(t, StateIdle.String(), test.ShouldEqual, "idle")
	test.That(t, StateSafetyStopped.String(), test.ShouldEqual, "safety_stopped")
	test.That(t, CommandState(99).String(), test.ShouldEqual, "unknown")
}
