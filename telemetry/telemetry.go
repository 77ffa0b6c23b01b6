// Package telemetry ships robot status snapshots to InfluxDB.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edaniels/golog"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/robot"
)

// Config points the recorder at an InfluxDB instance.
type Config struct {
	Server     string `json:"server"`
	Token      string `json:"token"`
	Org        string `json:"org"`
	Bucket     string `json:"bucket"`
	IntervalMs int    `json:"interval_ms"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Server == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "server")
	}
	if cfg.Org == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "org")
	}
	if cfg.Bucket == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "bucket")
	}
	return nil
}

// Recorder periodically flattens the robot status into one InfluxDB point.
type Recorder struct {
	robot    *robot.Robot
	client   interface{ Close() }
	writeAPI api.WriteApi
	interval time.Duration
	logger   golog.Logger

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewRecorder starts recording. Callers own the recorder and must Close it.
func NewRecorder(r *robot.Robot, cfg Config, logger golog.Logger) *Recorder {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	client := influxdb2.NewClient(cfg.Server, cfg.Token)
	writeAPI := client.WriteApi(cfg.Org, cfg.Bucket)

	cancelCtx, cancel := context.WithCancel(context.Background())
	rec := &Recorder{
		robot:    r,
		client:   client,
		writeAPI: writeAPI,
		interval: interval,
		logger:   logger,
		cancel:   cancel,
	}

	errorsCh := writeAPI.Errors()
	rec.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for err := range errorsCh {
			logger.Errorw("telemetry write failed", "error", err)
		}
	}, rec.activeBackgroundWorkers.Done)

	rec.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		rec.run(cancelCtx)
	}, rec.activeBackgroundWorkers.Done)
	return rec
}

func (r *Recorder) run(ctx context.Context) {
	for utils.SelectContextOrWait(ctx, r.interval) {
		if err := r.record(); err != nil {
			r.logger.Errorw("telemetry snapshot failed", "error", err)
		}
	}
}

func (r *Recorder) record() error {
	fields, err := flattenStatus(r.robot.Status())
	if err != nil {
		return err
	}
	r.writeAPI.WritePoint(influxdb2.NewPoint("robot.status", nil, fields, time.Now()))
	return nil
}

// Close stops the recorder and flushes pending points.
func (r *Recorder) Close() {
	r.cancel()
	r.writeAPI.Close()
	r.client.Close()
	r.activeBackgroundWorkers.Wait()
}

// flattenStatus turns the nested status snapshot into dotted scalar fields,
// going through JSON so field names match the wire API.
func flattenStatus(status robot.Status) (map[string]interface{}, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return nil, errors.Wrap(err, "marshal status")
	}
	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, errors.Wrap(err, "unmarshal status")
	}
	fields := make(map[string]interface{})
	flatten(fields, tree, "")
	return fields, nil
}

func flatten(fields map[string]interface{}, node interface{}, prefix string) {
	switch node := node.(type) {
	case map[string]interface{}:
		for k, v := range node {
			flatten(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for i, v := range node {
			flatten(fields, v, fmt.Sprintf("%s.%d", prefix, i))
		}
	case nil:
	default:
		fields[prefix[1:]] = node
	}
}
