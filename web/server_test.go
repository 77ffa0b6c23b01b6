package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/gorilla/websocket"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	fakeboard "github.com/strider-bot/strider/board/fake"
	"github.com/strider-bot/strider/limb"
	"github.com/strider-bot/strider/motor"
	"github.com/strider-bot/strider/obstacle"
	"github.com/strider-bot/strider/robot"
	"github.com/strider-bot/strider/servo"
)

func boundPtr(v int64) *int64 { return &v }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	b := fakeboard.NewBoard()
	ctrl := fakeboard.NewServoController()

	mkLeg := func(name string, channel int) *limb.Leg {
		s, err := servo.NewServo(ctx, ctrl, servo.Config{
			Channel:         channel,
			Home:            342,
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
	bot := robot.New(left, right, limb.NewHead(st, logger), posture, obstacle.NewModel(front), logger)
	t.Cleanup(func() {
		test.That(t, bot.Close(context.Background()), test.ShouldBeNil)
	})
	return NewServer(bot, logger)
}

func TestStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var status robot.Status
	test.That(t, json.NewDecoder(resp.Body).Decode(&status), test.ShouldBeNil)
	test.That(t, status.Walk.State, test.ShouldEqual, "idle")
	test.That(t, status.LeftLeg.Position, test.ShouldEqual, 342)
	test.That(t, status.Obstacles, test.ShouldHaveLength, 1)
}

func TestWalkEndpoint(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/walk", "application/json",
		strings.NewReader(`{"left": 4, "right": 4, "duration_ms": 600}`))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var res struct {
		OK bool `json:"ok"`
	}
	test.That(t, json.NewDecoder(resp.Body).Decode(&res), test.ShouldBeNil)
	test.That(t, res.OK, test.ShouldBeTrue)

	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		test.That(t, s.robot.Status().Walk.State, test.ShouldEqual, "completed")
	})
}

func TestWalkEndpointBadBody(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/walk", "application/json", strings.NewReader("not json"))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
}

func TestHeadEndpoint(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/head", "application/json",
		strings.NewReader(`{"degrees": 90, "rate": 10000}`))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, s.robot.Status().Head.Position, test.ShouldEqual, 25)
}

func TestStatusSocketStreams(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	var status robot.Status
	test.That(t, conn.ReadJSON(&status), test.ShouldBeNil)
	test.That(t, status.Walk.State, test.ShouldEqual, "idle")

	// commands ride the same connection
	test.That(t, conn.WriteJSON(SocketCommand{
		Command:    "walk",
		Left:       4,
		Right:      4,
		DurationMs: 600,
	}), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(t testing.TB) {
		t.Helper()
		st := s.robot.Status().Walk.State
		test.That(t, st == "executing" || st == "completed", test.ShouldBeTrue)
	})

	deadline := time.Now().Add(5 * time.Second)
	test.That(t, conn.SetReadDeadline(deadline), test.ShouldBeNil)
	test.That(t, conn.ReadJSON(&status), test.ShouldBeNil)
}
