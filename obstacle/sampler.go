package obstacle

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/utils"

	"github.com/strider-bot/strider/board"
)

const defaultSampleInterval = 200 * time.Millisecond

// Sampler keeps one Reading fresh by polling its sensor in the background.
// A failed sample clears the reading so a stale measurement can never veto
// a walk.
type Sampler struct {
	sensor   board.DistanceSensor
	reading  *Reading
	interval time.Duration
	clk      clock.Clock
	logger   golog.Logger

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewSampler starts polling the sensor. Callers own the returned sampler and
// must Close it.
func NewSampler(
	sensor board.DistanceSensor,
	reading *Reading,
	interval time.Duration,
	logger golog.Logger,
) *Sampler {
	return newSampler(sensor, reading, interval, clock.New(), logger)
}

func newSampler(
	sensor board.DistanceSensor,
	reading *Reading,
	interval time.Duration,
	clk clock.Clock,
	logger golog.Logger,
) *Sampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	s := &Sampler{
		sensor:   sensor,
		reading:  reading,
		interval: interval,
		clk:      clk,
		logger:   logger,
		cancel:   cancel,
	}
	s.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		s.run(cancelCtx)
	}, s.activeBackgroundWorkers.Done)
	return s
}

func (s *Sampler) run(ctx context.Context) {
	for {
		distance, err := s.sensor.SampleOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debugw("range sample failed", "sensor", s.reading.cfg.Name, "error", err)
			s.reading.Clear()
		} else {
			s.reading.Set(distance)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(s.interval):
		}
	}
}

// Close stops the sampling loop and waits for it to exit.
func (s *Sampler) Close() {
	s.cancel()
	s.activeBackgroundWorkers.Wait()
}
