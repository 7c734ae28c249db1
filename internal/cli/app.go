package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/meterbot/internal/config"
	"github.com/rewired-gh/meterbot/internal/desco"
	"github.com/rewired-gh/meterbot/internal/health"
	"github.com/rewired-gh/meterbot/internal/logger"
	"github.com/rewired-gh/meterbot/internal/metrics"
	"github.com/rewired-gh/meterbot/internal/models"
	"github.com/rewired-gh/meterbot/internal/monitor"
	"github.com/rewired-gh/meterbot/internal/scheduler"
	"github.com/rewired-gh/meterbot/internal/storage"
	"github.com/rewired-gh/meterbot/internal/telegram"
)

// failureStreakAlert is the number of fully failed cycles before an alert
const failureStreakAlert = 3

// app holds the wired components
type app struct {
	cfg      *config.Config
	registry *models.Registry
	store    *storage.Storage
	tg       *telegram.Client
	metrics  *metrics.Metrics
	engine   *scheduler.Engine
	schedule scheduler.Schedule
}

func newApp(cfg *config.Config) (*app, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	schedule, err := scheduler.Parse(cfg.Schedule.Times, cfg.Schedule.Interval, cfg.Schedule.Timezone)
	if err != nil {
		return nil, &models.ConfigError{Field: "schedule", Reason: err.Error()}
	}

	descoLoc, err := time.LoadLocation(cfg.Desco.Timezone)
	if err != nil {
		return nil, &models.ConfigError{Field: "desco.timezone", Reason: err.Error()}
	}

	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.MaxCycles)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &app{
		cfg:      cfg,
		registry: registry,
		store:    store,
		metrics:  metrics.New(),
		schedule: schedule,
	}

	fetcher := desco.NewClient(cfg.Desco.BaseURL, desco.ClientConfig{
		MaxIdleConns:        cfg.Desco.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Desco.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Desco.IdleConnTimeout,
		Location:            descoLoc,
	})

	var notifier monitor.Notifier = telegram.LogNotifier{}
	if cfg.Telegram.Enabled {
		scheduleLoc, _ := time.LoadLocation(cfg.Schedule.Timezone)
		a.tg, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, telegram.Options{
			Location:     scheduleLoc,
			Schedule:     schedule.String(),
			ShowSchedule: cfg.Telegram.ShowSchedule,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		notifier = a.tg
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled; reports go to the log")
	}

	orchestrator := monitor.New(fetcher, store, notifier, monitor.Observers{monitor.LogObserver{}, a.metrics}, monitor.Options{
		Rules: monitor.Rules{
			RechargeThreshold: cfg.Monitor.RechargeThresholdAmount(),
			SanityBound:       cfg.Monitor.SanityBoundAmount(),
		},
		FetchTimeout:   cfg.Monitor.FetchTimeout,
		RetryCount:     cfg.Monitor.RetryCount,
		RetryDelayBase: cfg.Monitor.RetryDelayBase,
		MaxParallel:    cfg.Monitor.MaxParallel,
	})

	a.engine = scheduler.New(orchestrator, registry.Meters(), scheduler.Options{
		Schedule:   schedule,
		RunOnStart: cfg.Schedule.RunOnStart,
		OnFailure:  a.onFailure,
		OnRecovery: a.onRecovery,
	})
	if err := a.engine.Restore(context.Background(), store); err != nil {
		logger.Warn("%v", err)
	}

	return a, nil
}

func (a *app) onFailure(ctx context.Context, report *models.CycleReport, streak int) {
	logger.Warn("Monitoring cycle %s could not read any meter (%d in a row)", report.ID, streak)
	if a.tg == nil || streak != failureStreakAlert {
		return
	}
	if err := a.tg.SendFailureStreak(ctx, streak); err != nil {
		logger.Warn("Failed to send failure alert to Telegram: %v", err)
	}
}

func (a *app) onRecovery(ctx context.Context, streak int) {
	logger.Info("Monitoring recovered after %d failed cycle(s)", streak)
	if a.tg == nil || streak < failureStreakAlert {
		return
	}
	if err := a.tg.SendRecovery(ctx, streak); err != nil {
		logger.Warn("Failed to send recovery notification to Telegram: %v", err)
	}
}

// serveHealth starts the health server when enabled. The returned func shuts
// it down and waits for the listener to close.
func (a *app) serveHealth(ctx context.Context) (stop func()) {
	if !a.cfg.Health.Enabled {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	srv := health.NewServer(a.engine, a.metrics.Handler(), health.Info{
		Version: Version,
		Meters:  a.registry.Names(),
		Mode:    a.cfg.Schedule.Mode,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(ctx, a.cfg.Health.Port); err != nil {
			logger.Error("%v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// reportFatal tells the chat the bot is stopping
func (a *app) reportFatal(err error) {
	if a.tg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if sendErr := a.tg.SendError(ctx, err); sendErr != nil {
		logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
	logger.Sync()
}
