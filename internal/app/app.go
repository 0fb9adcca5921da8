package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"deal-reminders/internal/config"
	"deal-reminders/internal/dispatch"
	"deal-reminders/internal/messaging"
	"deal-reminders/internal/reminder"
	"deal-reminders/internal/scheduler"
	"deal-reminders/internal/service"
	"deal-reminders/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSender() messaging.Sender {
	if a.Config.Messaging.Provider == "sendgrid" {
		m := a.Config.Messaging
		return messaging.NewSendGridSender(messaging.SendGridOptions{
			APIKey:    m.SendGrid.APIKey,
			BaseURL:   m.SendGrid.BaseURL,
			FromEmail: m.FromEmail,
			FromName:  m.FromName,
			Timeout:   m.Timeout,
		}, a.Logger)
	}
	return messaging.NewLogSender(a.Logger)
}

func (a *App) thresholdTable() reminder.Table {
	offsets := make(map[string]time.Duration, len(a.Config.Reminders.Offsets))
	for name, offset := range a.Config.Reminders.Offsets {
		offsets[name] = offset
	}
	return reminder.NewTable(offsets, a.Config.Reminders.CatchupCutoff)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	dispatcher := dispatch.New(a.thresholdTable(), store, store, store, a.newSender(), a.Logger)
	return service.New(a.Config, sched, dispatcher, store, store, a.Logger)
}

// Run executes the long-running reminder engine.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store, sched)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Str("provider", a.Config.Messaging.Provider).
		Msg("starting reminder engine")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("reminder engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("reminder engine stopped")
	return nil
}

// TickOnce executes a single tick immediately and exits. Useful for
// operator-driven catch-up after downtime.
func (a *App) TickOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, nil)
	return svc.ProcessTick(ctx, time.Now().UTC())
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
