// Package watchdog periodically scans for settlement locks held past a
// threshold. It alerts only: a stuck lock can still mean an in-flight
// broadcast waiting on its network timeout, so releasing it here could
// double-sell. Recovery is an operator decision.
package watchdog

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/CurioWorks/commerce_layer/internal/app/metrics"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
	"github.com/CurioWorks/commerce_layer/internal/events"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// DefaultThreshold is how long a processing lock may be held before it is
// reported as stuck.
const DefaultThreshold = 5 * time.Minute

// Sweeper runs the stuck-lock scan on a cron schedule.
type Sweeper struct {
	store     storage.Store
	pub       events.Publisher
	log       *logger.Logger
	threshold time.Duration
	cron      *cron.Cron
}

// New constructs a sweeper. threshold <= 0 uses DefaultThreshold.
func New(store storage.Store, pub events.Publisher, log *logger.Logger, threshold time.Duration) *Sweeper {
	if log == nil {
		log = logger.NewDefault("watchdog")
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Sweeper{
		store:     store,
		pub:       pub,
		log:       log,
		threshold: threshold,
		cron:      cron.New(),
	}
}

// Start schedules the sweep. schedule is a cron spec such as "@every 1m".
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep performs one scan and reports stuck locks.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.threshold)
	stuck, err := s.store.ListStuckListings(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Warn("stuck-lock scan failed")
		return
	}

	metrics.SetStuckLocks(len(stuck))
	for _, l := range stuck {
		s.log.WithField("listing", l.ID).
			WithField("held_since", l.ProcessingAt).
			Warn("settlement lock held past threshold")
		s.pub.Publish(ctx, events.TopicLockStuck, map[string]interface{}{
			"listing_id": l.ID,
			"held_since": l.ProcessingAt,
		})
	}
}
