package telemetry

import (
	"testing"

	"go.viam.com/test"

	"github.com/strider-bot/strider/obstacle"
	"github.com/strider-bot/strider/robot"
	"github.com/strider-bot/strider/servo"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	test.That(t, cfg.Validate("telemetry"), test.ShouldNotBeNil)
	cfg.Server = "http://localhost:9999"
	cfg.Org = "strider"
	test.That(t, cfg.Validate("telemetry"), test.ShouldNotBeNil)
	cfg.Bucket = "status"
	test.That(t, cfg.Validate("telemetry"), test.ShouldBeNil)
}

func TestFlattenStatus(t *testing.T) {
	distance := 12.5
	status := robot.Status{
		Walk:    robot.WalkStatus{ID: "op-1", State: "completed"},
		LeftLeg: servo.State{Channel: 9, Position: 342},
		Obstacles: []obstacle.State{
			{Name: "front", Bearing: 85, Threshold: 10, Distance: &distance},
			{Name: "rear", Bearing: -90, Threshold: 10},
		},
	}

	fields, err := flattenStatus(status)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, fields["walk.state"], test.ShouldEqual, "completed")
	test.That(t, fields["left_leg.position"], test.ShouldEqual, 342.0)
	test.That(t, fields["obstacles.0.distance_cm"], test.ShouldEqual, 12.5)
	test.That(t, fields["obstacles.0.name"], test.ShouldEqual, "front")
	// a reading with no measurement contributes no distance field
	_, ok := fields["obstacles.1.distance_cm"]
	test.That(t, ok, test.ShouldBeFalse)
}
