// Package main runs the walking robot: hardware drivers, obstacle sampling,
// the coordination layer, and the web API.
package main

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/board"
	fakeboard "github.com/strider-bot/strider/board/fake"
	periphboard "github.com/strider-bot/strider/board/periph"
	"github.com/strider-bot/strider/config"
	"github.com/strider-bot/strider/limb"
	"github.com/strider-bot/strider/motor"
	"github.com/strider-bot/strider/obstacle"
	"github.com/strider-bot/strider/robot"
	"github.com/strider-bot/strider/servo"
	"github.com/strider-bot/strider/telemetry"
	"github.com/strider-bot/strider/web"
)

var logger = golog.NewDevelopmentLogger("strider")

const (
	pca9685Bus    = ""
	pca9685Addr   = 0x40
	pca9685FreqHz = 50
	echoTimeout   = 5 * time.Second
)

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=robot config file"`
	Fake       bool   `flag:"fake,usage=run against in-memory hardware"`
	BindAddr   string `flag:"bind,usage=web API bind address"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg := config.Default()
	if argsParsed.ConfigFile != "" {
		var err error
		cfg, err = config.Read(argsParsed.ConfigFile)
		if err != nil {
			return err
		}
	}
	if argsParsed.BindAddr != "" {
		cfg.Web.BindAddress = argsParsed.BindAddr
	}

	return runRobot(ctx, cfg, argsParsed.Fake, logger)
}

func runRobot(ctx context.Context, cfg *config.Config, fake bool, logger golog.Logger) (err error) {
	b, ctrl, sensors, cleanup, err := setupHardware(cfg, fake)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, cleanup())
	}()

	leftServo, err := servo.NewServo(ctx, ctrl, cfg.LeftLeg, "left", logger)
	if err != nil {
		return err
	}
	rightServo, err := servo.NewServo(ctx, ctrl, cfg.RightLeg, "right", logger)
	if err != nil {
		return err
	}
	left := limb.NewLeg(leftServo, "left", logger)
	right := limb.NewLeg(rightServo, "right", logger)

	headStepper, err := motor.NewStepper(ctx, b, cfg.Head, "head", logger)
	if err != nil {
		return err
	}
	head := limb.NewHead(headStepper, logger)

	postureServo, err := servo.NewServo(ctx, ctrl, cfg.Posture, "posture", logger)
	if err != nil {
		return err
	}
	posture, err := limb.NewPosture(ctx, b, postureServo, cfg.PosturePins, left, right, logger)
	if err != nil {
		return err
	}

	model := obstacle.NewModel()
	var samplers []*obstacle.Sampler
	for i, sensorCfg := range cfg.Sensors {
		reading := obstacle.NewReading(sensorCfg.ReadingConfig)
		model.Add(reading)
		interval := time.Duration(sensorCfg.IntervalMs) * time.Millisecond
		samplers = append(samplers, obstacle.NewSampler(sensors[i], reading, interval, logger))
	}
	defer func() {
		for _, s := range samplers {
			s.Close()
		}
	}()

	bot := robot.New(left, right, head, posture, model, logger)
	defer func() {
		err = multierr.Combine(err, bot.Close(context.Background()))
	}()

	if cfg.Telemetry != nil {
		rec := telemetry.NewRecorder(bot, *cfg.Telemetry, logger)
		defer rec.Close()
	}

	srv := &http.Server{
		Handler:     web.NewServer(bot, logger).Handler(),
		Addr:        cfg.Web.BindAddress,
		ReadTimeout: 15 * time.Second,
	}
	utils.PanicCapturingGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("web server shutdown failed", "error", err)
		}
	})

	logger.Infow("serving", "address", cfg.Web.BindAddress, "fake", fake)
	utils.ContextMainReadyFunc(ctx)()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// setupHardware returns the GPIO board, servo controller, and one distance
// sensor per configured slot, either real periph-backed hardware or
// in-memory fakes.
func setupHardware(cfg *config.Config, fake bool) (
	board.Board,
	board.ServoController,
	[]board.DistanceSensor,
	func() error,
	error,
) {
	if fake {
		b := fakeboard.NewBoard()
		ctrl := fakeboard.NewServoController()
		sensors := make([]board.DistanceSensor, len(cfg.Sensors))
		for i := range cfg.Sensors {
			sensors[i] = fakeboard.NewDistanceSensor(func() (float64, error) {
				return 1 + rand.Float64()*99, nil
			})
		}
		return b, ctrl, sensors, func() error { return nil }, nil
	}

	b, err := periphboard.NewBoard()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctrl, err := periphboard.NewPCA9685(pca9685Bus, pca9685Addr, pca9685FreqHz)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sensors := make([]board.DistanceSensor, len(cfg.Sensors))
	for i, sensorCfg := range cfg.Sensors {
		s, err := periphboard.NewHCSR04(sensorCfg.TriggerPin, sensorCfg.EchoPin, echoTimeout)
		if err != nil {
			return nil, nil, nil, nil, multierr.Combine(err, ctrl.Close())
		}
		sensors[i] = s
	}
	return b, ctrl, sensors, ctrl.Close, nil
}
