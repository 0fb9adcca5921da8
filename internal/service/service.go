package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deal-reminders/internal/config"
	"deal-reminders/internal/deal"
	"deal-reminders/internal/dispatch"
	"deal-reminders/internal/scheduler"
	"deal-reminders/internal/storage"
)

// Service runs the reminder engine: on every scheduler tick it takes
// the cross-instance advisory lock, enumerates candidate deals inside
// the retention window, and fans them out to the dispatcher through a
// bounded worker pool. Deals share no mutable state, so per-deal
// failures are isolated and logged without aborting the tick.
type Service struct {
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	deals      storage.DealStore
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	retention   time.Duration
	workers     int
	tickTimeout time.Duration
	lockKey     int64
}

// New constructs the reminder engine service.
func New(cfg *config.Config, sched *scheduler.Scheduler, dispatcher *dispatch.Dispatcher, deals storage.DealStore, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:   sched,
		dispatcher:  dispatcher,
		deals:       deals,
		locker:      locker,
		logger:      logger.With().Str("component", "service").Logger(),
		retention:   cfg.Reminders.RetentionWindow,
		workers:     cfg.Scheduler.Workers,
		tickTimeout: cfg.Scheduler.TickTimeout,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the scheduled reminder loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick executes one full pass over all candidate deals.
func (s *Service) ProcessTick(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", now).Msg("skip tick: advisory lock held by another instance")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
		defer cancel()
	}

	return s.executeTick(ctx, now)
}

func (s *Service) executeTick(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.retention)
	deals, err := s.deals.ListCandidateDeals(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("enumerate candidate deals: %w", err)
	}
	if len(deals) == 0 {
		s.logger.Debug().Time("tick", now).Msg("no candidate deals")
		return nil
	}

	workers := s.workers
	if workers > len(deals) {
		workers = len(deals)
	}

	jobs := make(chan deal.Deal)
	var failures sync.Map
	var wg sync.WaitGroup

	// Dispatch runs on a context detached from tick cancellation: a deal
	// already handed to a worker is finished, never abandoned between a
	// send and its ledger write. The feed loop below is the stop
	// mechanism.
	dealCtx := context.WithoutCancel(ctx)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				if err := s.dispatcher.DispatchDue(dealCtx, &d, now); err != nil {
					failures.Store(d.ID, err)
					s.logger.Error().Err(err).Str("deal_id", d.ID).Msg("deal dispatch failed")
				}
			}
		}()
	}

feed:
	for _, d := range deals {
		select {
		case <-ctx.Done():
			// Stop feeding new deals; workers finish their current one
			// so no send is left without its ledger write.
			break feed
		case jobs <- d:
		}
	}
	close(jobs)
	wg.Wait()

	failed := 0
	failures.Range(func(_, _ any) bool {
		failed++
		return true
	})

	s.logger.Info().
		Time("tick", now).
		Int("deals", len(deals)).
		Int("failed", failed).
		Msg("tick complete")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
