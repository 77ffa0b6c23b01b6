// Package config describes the robot's hardware layout and loads it from a
// JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/limb"
	"github.com/strider-bot/strider/motor"
	"github.com/strider-bot/strider/obstacle"
	"github.com/strider-bot/strider/servo"
	"github.com/strider-bot/strider/telemetry"
)

// SensorConfig places one ultrasonic sensor: its pins, where it points, and
// how often to sample it.
type SensorConfig struct {
	obstacle.ReadingConfig
	TriggerPin string `json:"trigger_pin"`
	EchoPin    string `json:"echo_pin"`
	IntervalMs int    `json:"interval_ms"`
}

// Validate ensures all parts of the config are valid.
func (cfg *SensorConfig) Validate(path string) error {
	if err := cfg.ReadingConfig.Validate(path); err != nil {
		return err
	}
	if cfg.TriggerPin == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "trigger_pin")
	}
	if cfg.EchoPin == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "echo_pin")
	}
	return nil
}

// WebConfig holds the API server settings.
type WebConfig struct {
	BindAddress string `json:"bind_address"`
}

// Config is the whole robot.
type Config struct {
	LeftLeg     servo.Config       `json:"left_leg"`
	RightLeg    servo.Config       `json:"right_leg"`
	Posture     servo.Config       `json:"posture"`
	PosturePins limb.PostureConfig `json:"posture_pins"`
	Head        motor.Config       `json:"head"`
	Sensors     []SensorConfig     `json:"sensors"`
	Web         WebConfig          `json:"web"`
	Telemetry   *telemetry.Config  `json:"telemetry,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate() error {
	if err := cfg.LeftLeg.Validate("left_leg"); err != nil {
		return err
	}
	if err := cfg.RightLeg.Validate("right_leg"); err != nil {
		return err
	}
	if err := cfg.Posture.Validate("posture"); err != nil {
		return err
	}
	if err := cfg.PosturePins.Validate("posture_pins"); err != nil {
		return err
	}
	if err := cfg.Head.Validate("head"); err != nil {
		return err
	}
	for i, sensor := range cfg.Sensors {
		if err := sensor.Validate(fmt.Sprintf("sensors.%d", i)); err != nil {
			return err
		}
	}
	if cfg.Telemetry != nil {
		if err := cfg.Telemetry.Validate("telemetry"); err != nil {
			return err
		}
	}
	return nil
}

// FromReader parses and validates a config.
func FromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads and validates a config file.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %q", path)
	}
	defer f.Close()
	return FromReader(f)
}

func boundPtr(v int64) *int64 { return &v }

// Default is the layout of the reference build: legs on PCA9685 channels 8
// and 9, the posture servo on 10, the head on a TB6600-driven stepper, and three
// ultrasonic sensors around the body.
func Default() *Config {
	leg := servo.Config{
		Home:  342,
		Min:   228,
		Max:   458,
		Scale: 4,
	}
	left := leg
	left.Channel = 9
	right := leg
	right.Channel = 8
	return &Config{
		LeftLeg:  left,
		RightLeg: right,
		Posture: servo.Config{
			Channel: 10,
			Home:    342,
			Min:     305,
			Max:     440,
			Scale:   1,
		},
		PosturePins: limb.PostureConfig{UpPin: "25", DownPin: "4"},
		Head: motor.Config{
			StepPin:    "24",
			DirPin:     "18",
			EnablePin:  "23",
			Min:        boundPtr(-16290),
			Max:        boundPtr(16290),
			Scale:      360,
			ScaleSteps: 16290,
		},
		Sensors: []SensorConfig{
			{
				ReadingConfig: obstacle.ReadingConfig{Name: "front", Bearing: 85, Threshold: 10},
				TriggerPin:    "13",
				EchoPin:       "16",
			},
			{
				ReadingConfig: obstacle.ReadingConfig{Name: "front-right", Bearing: 95, Threshold: 10},
				TriggerPin:    "26",
				EchoPin:       "21",
			},
			{
				ReadingConfig: obstacle.ReadingConfig{Name: "rear", Bearing: -90, Threshold: 10},
				TriggerPin:    "19",
				EchoPin:       "20",
			},
		},
		Web: WebConfig{BindAddress: "localhost:8502"},
	}
}
