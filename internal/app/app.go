// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/coordinator"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/colly"
	"github.com/JakeFAU/sitecrawler/internal/linksource"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/orchestrator"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/sitecrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitecrawler/internal/storage/gcs"
	"github.com/JakeFAU/sitecrawler/internal/storage/local"
	"github.com/JakeFAU/sitecrawler/internal/storage/memory"
	"github.com/JakeFAU/sitecrawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/sitecrawler/internal/storage/redis"
	"github.com/JakeFAU/sitecrawler/internal/store"
)

// App holds the shared, long-lived services. It is built once per command
// invocation and closed when the command returns.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTP
	hub          *progress.Hub
	orchestrator *orchestrator.Orchestrator
	scraper      *linksource.Scraper
	progress     store.ProgressRepository
	pingers      []func(context.Context) error
	closers      []func(context.Context) error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	fetcher crawler.Fetcher
}

// WithFetcher replaces the Colly fetcher, mostly for tests.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New builds every service cfg asks for. It fails fast: anything already
// opened is closed before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: metrics.NewRegistry(),
	}
	if err := a.init(ctx, o); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("cleanup after failed init", zap.Error(closeErr))
		}
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.Bool("publisher", cfg.PubSub.TopicName != ""),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, o options) error {
	httpMetrics, err := metrics.NewHTTP(a.registry)
	if err != nil {
		return err
	}
	a.httpMetrics = httpMetrics

	siteStore, err := a.openSiteStore(ctx)
	if err != nil {
		return err
	}
	archive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithNotifier(orchestrator.NewLogNotifier(a.logger.Named("notice"))),
	}
	if siteStore != nil {
		orchOpts = append(orchOpts, orchestrator.WithStore(siteStore))
	}
	if archive != nil {
		orchOpts = append(orchOpts, orchestrator.WithArchive(archive, a.cfg.Archive.Prefix))
	}
	if a.cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Dial(ctx, pubsubpublisher.Config{ProjectID: a.cfg.PubSub.ProjectID})
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		a.addCloser(func(context.Context) error { return pub.Close() })
		orchOpts = append(orchOpts, orchestrator.WithPublisher(pub, a.cfg.PubSub.TopicName))
	}

	if err := a.openProgress(ctx); err != nil {
		return err
	}
	orchOpts = append(orchOpts, orchestrator.WithEmitter(a.hub))

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:   a.cfg.Crawler.UserAgent,
			Timeout:     a.cfg.Crawler.RequestTimeout,
			MaxBodySize: a.cfg.Crawler.MaxBodyBytes,
		})
	}
	retrying := crawler.NewRetryingFetcher(
		fetcher,
		crawler.NewExponentialRetryPolicy(
			a.cfg.Crawler.MaxAttempts,
			a.cfg.Crawler.RetryBaseDelay,
			a.cfg.Crawler.RetryMaxDelay,
			a.cfg.Crawler.RetryMaxElapsed,
		),
		a.logger.Named("fetcher"),
		crawler.WithHeaders(a.cfg.Crawler.RequestHeaders()),
		crawler.WithRequestTimeout(a.cfg.Crawler.RequestTimeout),
		crawler.WithRetryHook(a.emitRetry),
	)
	coord, err := coordinator.New(
		coordinator.Config{MaxConcurrency: a.cfg.Crawler.MaxConcurrency},
		retrying,
		a.hub,
		a.logger.Named("coordinator"),
	)
	if err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}
	a.orchestrator, err = orchestrator.New(coord, a.logger.Named("orchestrator"), orchOpts...)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	a.scraper = linksource.NewScraper(a.cfg.Crawler.UserAgent, a.logger.Named("linksource"),
		linksource.WithHeaders(a.cfg.Crawler.RequestHeaders()))
	return nil
}

func (a *App) openSiteStore(ctx context.Context) (crawler.SiteStore, error) {
	switch a.cfg.Storage.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverMemory, "":
		return memory.NewSiteStore(), nil
	case config.DriverPostgres:
		s, err := postgres.NewSiteStore(ctx, a.postgresConfig())
		if err != nil {
			return nil, fmt.Errorf("init site store: %w", err)
		}
		a.addCloser(func(context.Context) error { s.Close(); return nil })
		a.pingers = append(a.pingers, s.Ping)
		if a.cfg.Storage.Postgres.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil
	case config.DriverRedis:
		rc := a.cfg.Storage.Redis
		s, err := redisstore.NewSiteStore(ctx, redisstore.Config{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init site store: %w", err)
		}
		a.addCloser(func(context.Context) error { return s.Close() })
		a.pingers = append(a.pingers, s.Ping)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Driver {
	case config.DriverNone, "":
		return nil, nil
	case config.DriverMemory:
		return memory.NewBlobStore(), nil
	case config.DriverLocal:
		s, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		return s, nil
	case config.DriverGCS:
		s, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.addCloser(func(context.Context) error { return s.Close() })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", a.cfg.Archive.Driver)
	}
}

// openProgress builds the hub and its sinks. Crawl history goes to Postgres
// when site records do, and stays in memory otherwise.
func (a *App) openProgress(ctx context.Context) error {
	if a.cfg.Storage.Driver == config.DriverPostgres {
		ps, err := postgres.NewProgressStore(ctx, a.postgresConfig())
		if err != nil {
			return fmt.Errorf("init progress store: %w", err)
		}
		a.addCloser(func(context.Context) error { ps.Close(); return nil })
		if a.cfg.Storage.Postgres.EnsureSchema {
			if err := ps.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		a.progress = ps
	} else {
		a.progress = memory.NewProgressRepo()
	}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{promSink, sinks.NewStoreSink(a.progress, a.logger.Named("progress"))}
	if a.cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		Logger:         a.logger.Named("progress"),
	}, hubSinks...)
	// Registered after the stores so the hub flushes before they close.
	a.addCloser(a.hub.Close)
	return nil
}

func (a *App) postgresConfig() postgres.Config {
	pc := a.cfg.Storage.Postgres
	return postgres.Config{
		DSN:             pc.DSN,
		Table:           pc.Table,
		MaxConns:        pc.MaxConns,
		MinConns:        pc.MinConns,
		MaxConnLifetime: pc.MaxConnLifetime,
	}
}

func (a *App) emitRetry(ctx context.Context, target string, attempt int, kind crawler.FailureKind) {
	host := ""
	if u, err := url.Parse(target); err == nil {
		host = u.Hostname()
	}
	a.hub.Emit(progress.Event{
		CrawlID:  progress.CrawlIDFrom(ctx),
		TS:       time.Now().UTC(),
		Stage:    progress.StageFetchRetry,
		Host:     host,
		URL:      target,
		Kind:     string(kind),
		Attempts: attempt,
	})
}

func (a *App) addCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Orchestrator returns the crawl pipeline.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Scraper returns the seed page link scraper.
func (a *App) Scraper() *linksource.Scraper { return a.scraper }

// Progress returns the crawl history repository.
func (a *App) Progress() store.ProgressRepository { return a.progress }

// Registry returns the Prometheus registry every collector is registered on.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Ready pings every remote store.
func (a *App) Ready(ctx context.Context) error {
	for _, ping := range a.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NewServer builds the HTTP API over the App's services.
func (a *App) NewServer() *api.Server {
	return api.NewServer(a.orchestrator, a.logger.Named("api"), api.Options{
		Gatherer:     a.registry,
		HTTPMetrics:  a.httpMetrics,
		Progress:     a.progress,
		Ready:        a.Ready,
		MaxBodyBytes: a.cfg.Server.MaxRequestBytes,
	})
}

// Close shuts services down in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
