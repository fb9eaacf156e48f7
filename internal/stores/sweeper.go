package stores

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweepFunc removes expired records and reports how many it removed.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper runs registered sweep functions on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	log     logrus.FieldLogger
	timeout time.Duration
}

// NewSweeper creates a stopped sweeper. A nil logger uses logrus.StandardLogger.
func NewSweeper(log logrus.FieldLogger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		cron:    cron.New(),
		log:     log,
		timeout: 30 * time.Second,
	}
}

// Register schedules fn under spec (standard five-field cron syntax or
// descriptors such as "@every 5m").
func (s *Sweeper) Register(name, spec string, fn SweepFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.RunOnce(name, fn)
	})
	return err
}

// RunOnce executes fn immediately with the sweeper's timeout and logs the
// outcome.
func (s *Sweeper) RunOnce(name string, fn SweepFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	removed, err := fn(ctx)
	entry := s.log.WithField("sweep", name)
	if err != nil {
		entry.WithError(err).Warn("sweep failed")
		return
	}
	if removed > 0 {
		entry.WithField("removed", removed).Debug("sweep completed")
	}
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running sweeps to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
