package correlator

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/sirupsen/logrus"
)

const sweepLockKey = "lock:correlation:sweep"

// Sweeper runs batch mode on a fixed interval. With a redislock client only
// one instance sweeps per interval.
type Sweeper struct {
	Correlator *Correlator
	Locker     *redislock.Client
	Logger     *logrus.Logger
	SweeperID  string
	Interval   time.Duration
}

func NewSweeper(c *Correlator, locker *redislock.Client, interval time.Duration) *Sweeper {
	return &Sweeper{
		Correlator: c,
		Locker:     locker,
		Logger:     c.logger,
		SweeperID:  uuid.NewString(),
		Interval:   interval,
	}
}

// Run blocks until ctx is done. A non-positive interval returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"field":      "Sweeper",
		"sweeper_id": s.SweeperID,
		"interval":   s.Interval.String(),
	}).Info("correlation sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
		s.sweepOnce(ctx)
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if s.Locker != nil {
		// Left to expire at the end of the interval.
		_, err := s.Locker.Obtain(ctx, sweepLockKey, s.Interval, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return
		}
		if err != nil {
			s.Logger.WithFields(logrus.Fields{
				"field":      "Sweeper",
				"sweeper_id": s.SweeperID,
			}).Warn("error obtaining sweep lock; sweeping without it: " + err.Error())
		}
	}
	if _, err := s.Correlator.Sweep(ctx, models.CorrelationTriggeredSchedule); err != nil && ctx.Err() == nil {
		config.LogError(s.Logger, "correlator", "Sweeper", "Sweep", s.SweeperID, err)
	}
}
