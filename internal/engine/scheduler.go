package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/zombie-watcher/internal/metrics"
)

// Watcher is the unit of work driven by a Scheduler.
type Watcher interface {
	Name() string
	Tick(ctx context.Context)
}

// Scheduler drives one watcher: an initial tick, then a fixed delay after
// each completed tick. Ticks never overlap.
type Scheduler struct {
	watcher  Watcher
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler constructs a scheduler for w.
func NewScheduler(w Watcher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		watcher:  w,
		interval: interval,
		logger:   logger.Named("scheduler").With(zap.String("watcher", w.Name())),
	}
}

// Run ticks until ctx is cancelled. Ticks run on a context detached from ctx,
// so a kill in progress is never aborted; Run returns once the in-flight tick
// has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("scheduler started", zap.Duration("interval", s.interval))
	for {
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.tick(context.WithoutCancel(ctx))
		}()

		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Debug("waiting for in-flight tick")
			<-done
			s.logger.Debug("scheduler stopped")
			return nil
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Debug("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	s.watcher.Tick(ctx)
	metrics.ObserveTick(s.watcher.Name(), time.Since(start))
}
