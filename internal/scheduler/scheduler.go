package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval with the tick's wall time.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the reminder engine on a fixed interval. Ticks never
// overlap on one instance: a fire that arrives while the previous tick
// is still running is skipped and logged as an overrun. Cross-instance
// exclusion is not handled here; that belongs to the storage advisory
// lock.
type Scheduler struct {
	opts    Options
	logger  zerolog.Logger
	running atomic.Bool
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function on each interval until ctx is
// cancelled. On cancellation it waits for an in-flight tick to drain so
// a send is never abandoned between delivery and its ledger write.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup

	// First tick fires immediately so a restart catches up without
	// waiting a full interval.
	s.launch(ctx, &inflight, tick, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("waiting for in-flight tick to finish")
			inflight.Wait()
			return ctx.Err()
		case fired := <-ticker.C:
			s.launch(ctx, &inflight, tick, fired.UTC())
		}
	}
}

func (s *Scheduler) launch(ctx context.Context, inflight *sync.WaitGroup, tick TickFunc, now time.Time) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Time("fired_at", now).Msg("tick overrun: previous tick still running, skipping")
		return
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer s.running.Store(false)

		s.logger.Debug().Time("tick", now).Msg("executing tick")
		if err := tick(ctx, now); err != nil {
			s.logger.Error().Err(err).Time("tick", now).Msg("tick execution failed")
		}
	}()
}
