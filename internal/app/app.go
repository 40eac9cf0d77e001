package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"xalpha/internal/alerting"
	"xalpha/internal/analyzer"
	"xalpha/internal/collector"
	"xalpha/internal/config"
	"xalpha/internal/logging"
	"xalpha/internal/metrics"
	"xalpha/internal/scheduler"
	"xalpha/internal/service"
	"xalpha/internal/storage"
	"xalpha/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logging.Component(logger, "app"),
		Metrics: metrics.New(),
	}
}

func (a *App) newCollector() *collector.Collector {
	cfg := a.Config.Collector
	return collector.New(collector.Options{
		PrimaryBaseURL:  cfg.PrimaryBaseURL,
		MirrorInstances: cfg.MirrorInstances,
		Timeout:         cfg.RequestTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
		MinDelay:        cfg.MinDelay,
		MaxDelay:        cfg.MaxDelay,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
		BackoffJitter:   cfg.BackoffJitter,
		Cookies:         cfg.Cookies,
		UserAgents:      cfg.UserAgents,
		Metrics:         a.Metrics,
	}, a.Logger)
}

func (a *App) newAnalyzer() *analyzer.Analyzer {
	cfg := a.Config.Analyzer
	if cfg.APIKey == "" {
		a.Logger.Warn().Msg("analyzer.api_key not configured; every analysis will degrade to the default verdict")
	}

	client := analyzer.NewChatClient(analyzer.ClientOptions{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		UserAgent:   version.UserAgent(),
	}, a.Logger)

	return analyzer.New(client, analyzer.Options{
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		MinContentLength:  cfg.MinContentLength,
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Metrics:           a.Metrics,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("driver", a.Config.Database.Driver).Msg("signal store opened")
	return store, nil
}

func (a *App) newService(store storage.Store, sched *scheduler.Scheduler) *service.Service {
	return service.New(a.Config, sched, a.newCollector(), a.newAnalyzer(), store, a.newNotifier(), a.Metrics, a.Logger)
}

// RunOptions configure the long-running worker.
type RunOptions struct {
	// Serve also starts the query API in the same process.
	Serve bool
}

// Run executes the long-running harvesting service.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.PollInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store, sched)

	a.Logger.Info().
		Int("sources", len(a.Config.Roster)).
		Dur("poll_interval", a.Config.Scheduler.PollInterval).
		Msg("starting harvesting service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := svc.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if opts.Serve {
		g.Go(func() error {
			return a.serve(gctx, store)
		})
	}

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("harvesting service stopped")
	return nil
}

// RunOnce executes a single cycle and returns its report.
func (a *App) RunOnce(ctx context.Context) (service.CycleReport, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return service.CycleReport{}, err
	}
	defer store.Close()

	return a.newService(store, nil).RunCycle(ctx)
}

// ExportOptions hold parameters for exporting stored signals.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxRows int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit        int
	MinSentiment *int
	Asset        string
	SignalType   string
	Author       string
}

// AnalyzeOptions configure an ad-hoc analysis.
type AnalyzeOptions struct {
	Author string
	Text   string
	JSON   bool
}
