package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"whaleinsight/internal/alerting"
	"whaleinsight/internal/config"
	"whaleinsight/internal/domain"
	"whaleinsight/internal/enrichment"
	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/ingest"
	"whaleinsight/internal/scheduler"
	"whaleinsight/internal/service"
	"whaleinsight/internal/storage"
	"whaleinsight/internal/version"
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

func (a *App) newSECClient() (*fetcher.SECClient, error) {
	return fetcher.NewSECClient(a.Config.SECOptions(), a.Logger)
}

func (a *App) newYahooClient() *fetcher.YahooClient {
	opts := a.Config.YahooOptions()
	if opts.UserAgent != "" {
		opts.UserAgent += " " + version.UserAgentSuffix()
	}
	return fetcher.NewYahooClient(opts, a.Logger)
}

func (a *App) newFeedClient(sec *fetcher.SECClient) *fetcher.FeedClient {
	return fetcher.NewFeedClient(sec, fetcher.FeedOptions{
		URL:   a.Config.Feed.URL,
		Forms: a.Config.Feed.Forms,
		Count: a.Config.Feed.Count,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

// openStore returns the Postgres repository when a DSN is configured and an in-memory one otherwise.
func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.MigrateOnStart {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

// openDatabase is openStore for commands that only make sense against durable storage.
func (a *App) openDatabase(ctx context.Context, purpose string) (storage.Repository, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database not configured; cannot %s", purpose)
	}
	return a.openStore(ctx)
}

func (a *App) enrichmentOptions() enrichment.Options {
	threshold := a.Config.Enrichment.StaleThresholdDays
	return enrichment.Options{
		StaleThresholdDays: &threshold,
		CalcVersion:        a.Config.Enrichment.CalcVersion,
		HistoryRange:       a.Config.Enrichment.HistoryRange,
		WindowDays:         a.Config.Enrichment.WindowDays,
		Concurrency:        a.Config.Enrichment.Concurrency,
	}
}

func (a *App) newPipeline(sec fetcher.FilingSource, repo storage.Repository, notifier alerting.Notifier) *service.Pipeline {
	enricher := enrichment.New(a.newYahooClient(), a.Logger)
	return service.NewPipeline(sec, enricher, repo, notifier, service.PipelineOptions{
		FilingsPerInstitution: a.Config.Ingest.FilingsPerInstitution,
		TransformVersion:      a.Config.Ingest.TransformVersion,
		ArchiveBaseURL:        a.Config.SEC.ArchiveBaseURL,
		Enrichment:            a.enrichmentOptions(),
		NotifyFailures:        a.Config.Alerting.NotifyFailures,
		NotifyStale:           a.Config.Alerting.NotifyStale,
	}, a.Logger)
}

func (a *App) universeOptions(trigger domain.TriggerMode) ingest.UniverseOptions {
	return ingest.UniverseOptions{
		PriorityPercentile: a.Config.Ingest.PriorityPercentile,
		PriorityOverrides:  a.Config.Ingest.PriorityOverrides,
		TriggerMode:        trigger,
	}
}

// Watch runs scheduled syncs over the priority cohort until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sec, err := a.newSECClient()
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Cron:         a.Config.Scheduler.Cron,
	}, a.Logger)
	if err != nil {
		return err
	}

	pipeline := a.newPipeline(sec, repo, a.newNotifier())
	svc := service.New(sched, pipeline, repo, service.Options{
		Workers: a.Config.Ingest.Workers,
		LockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	switch {
	case a.Config.Feed.Enabled:
		// refresh the universe from the feed before the first tick so new filers join the cohort
		if _, err := a.discoverFromFeed(ctx, sec, repo, domain.TriggerScheduled); err != nil {
			a.Logger.Warn().Err(err).Msg("feed discovery failed; continuing with known universe")
		}
	case a.Config.Database.DSN == "":
		// an in-memory store starts empty
		if _, err := a.discoverTickers(ctx, sec, repo, domain.TriggerScheduled); err != nil {
			return err
		}
	}

	a.Logger.Info().Str("version", version.Version).Msg("starting watch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch service stopped")
	return nil
}

// SyncOptions configure the sync command.
type SyncOptions struct {
	CIKs     []string
	Priority bool
	Trigger  string
	JSON     bool
}

// FetchOptions configure the fetch command.
type FetchOptions struct {
	CIK       string
	Accession string
	Trigger   string
}

// DiscoverOptions configure the discover command.
type DiscoverOptions struct {
	FromFeed bool
	File     string
	Trigger  string
}

// RunsOptions configure the runs command.
type RunsOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting enriched positions.
type ExportOptions struct {
	CIK     string
	PNGPath string
	CSVPath string
	MaxRows int
}

// AlertTestOptions configure the alert-test command.
type AlertTestOptions struct {
	Kind string
}

func triggerMode(v string) domain.TriggerMode {
	switch mode := domain.TriggerMode(v); mode {
	case domain.TriggerScheduled, domain.TriggerReplay:
		return mode
	default:
		return domain.TriggerManual
	}
}
