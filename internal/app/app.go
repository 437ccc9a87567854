// Package app builds and holds the long-lived crawler services, acting as a
// dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/api"
	"github.com/JakeFAU/corpus-crawler/internal/clock/system"
	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/corpus-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/corpus-crawler/internal/hash/md5"
	"github.com/JakeFAU/corpus-crawler/internal/parser"
	"github.com/JakeFAU/corpus-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/corpus-crawler/internal/publisher/memory"
	"github.com/JakeFAU/corpus-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/corpus-crawler/internal/storage/gcs"
	"github.com/JakeFAU/corpus-crawler/internal/storage/local"
	"github.com/JakeFAU/corpus-crawler/internal/storage/memory"
	"github.com/JakeFAU/corpus-crawler/internal/storage/postgres"
	"github.com/JakeFAU/corpus-crawler/internal/storage/sqlite"
)

const recordTimeout = 5 * time.Second

// store is what every configured document store provides.
type store interface {
	crawler.DocumentStore
	crawler.RunStore
	io.Closer
}

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the shared services of one crawler process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   store
	archive crawler.BlobStore
	events  crawler.Publisher
	engine  *crawler.Engine
	ops     *api.Server
	closers []func() error
}

// Option customises New.
type Option func(*options)

type options struct {
	reportOut io.Writer
	migrate   func(dsn string, logger *zap.Logger) error
}

// WithReportWriter sends the end-of-run summary to w instead of stdout.
func WithReportWriter(w io.Writer) Option {
	return func(o *options) { o.reportOut = w }
}

// New wires every service named by cfg. Resources opened before a failure
// are released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{reportOut: os.Stdout, migrate: postgres.Migrate}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("Initializing crawler services",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notify", cfg.Notify.Provider),
		zap.Int("sources", len(cfg.Sources)),
	)

	a.store, err = openStore(ctx, cfg.DB, o.migrate, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if a.archive, err = a.openArchive(ctx); err != nil {
		return nil, err
	}
	if a.events, err = a.openPublisher(ctx); err != nil {
		return nil, err
	}

	pacer := crawler.NewPacer(cfg.Logic.BaseDelay(), cfg.Logic.Jitter(), crawler.TimerPauser{})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Logic.UserAgent,
		AcceptLanguage: cfg.Logic.AcceptLanguage,
		Timeout:        cfg.Logic.Timeout(),
	})
	var limiter crawler.Limiter
	if cfg.Logic.MaxRequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Logic.MaxRequestsPerSecond, DefaultBurst: 1})
	}
	controller := crawler.NewRetryController(
		fetcher,
		crawler.NewBlockDetector(cfg.Detector.MaxBodyBytes, cfg.Detector.Markers),
		pacer,
		limiter,
		cfg.Logic.Retry(),
		logger,
	)

	clock := system.New()
	walker := crawler.NewWalker(
		controller,
		parser.NewListingExtractor(logger),
		a.store,
		md5.New(),
		pacer,
		crawler.WalkerConfig{
			MaxPages:      cfg.Logic.MaxPages,
			ArchivePrefix: cfg.Archive.Prefix,
			NotifyTopic:   cfg.Notify.Topic,
		},
		logger,
	).
		WithRobots(crawler.NewRobotsEnforcer(cfg.Logic.RespectRobots, cfg.Logic.UserAgent, cfg.Logic.Timeout(), logger)).
		WithClock(clock)
	if a.archive != nil {
		walker.WithArchive(a.archive)
	}
	if a.events != nil {
		walker.WithPublisher(a.events)
	}

	recorder := &runRecorder{
		reporter: crawler.NewReporter(o.reportOut, logger),
		runs:     a.store,
		logger:   logger,
	}
	a.engine = crawler.NewEngine(cfg.Targets(), walker, recorder, clock, logger)

	if cfg.Metrics.Addr != "" {
		a.ops = api.NewServer(a.store, a.Ready, logger)
	}

	logger.Info("Crawler services initialized")
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Runs exposes the crawl session history.
func (a *App) Runs() crawler.RunStore {
	return a.store
}

// Ready pings the document store when it supports it.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("document store: %w", err)
		}
	}
	return nil
}

// Crawl runs every source once. The ops server, when configured, serves for
// the duration of the crawl; its failures are logged and never fail the run.
func (a *App) Crawl(ctx context.Context) (crawler.Session, error) {
	if a.ops == nil {
		return a.engine.Run(ctx), nil
	}

	opsCtx, stopOps := context.WithCancel(ctx)
	opsErr := make(chan error, 1)
	go func() { opsErr <- a.ops.Serve(opsCtx, a.cfg.Metrics.Addr) }()

	session := a.engine.Run(ctx)
	stopOps()
	if err := <-opsErr; err != nil {
		a.logger.Warn("Ops server stopped with an error", zap.String("addr", a.cfg.Metrics.Addr), zap.Error(err))
	}
	return session, nil
}

// Migrate applies the Postgres schema. Other drivers create their schema on
// open.
func (a *App) Migrate(_ context.Context) error {
	if a.cfg.DB.Driver != config.DriverPostgres {
		a.logger.Info("Driver manages its own schema; nothing to migrate", zap.String("driver", a.cfg.DB.Driver))
		return nil
	}
	if err := postgres.Migrate(a.cfg.DB.ConnString(), a.logger); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// Close releases every opened resource in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing crawler service", zap.Error(err))
		}
	}
	a.closers = nil
	// Flushing stdout-backed loggers fails on some platforms; best effort.
	_ = a.logger.Sync()
}

func openStore(
	ctx context.Context,
	cfg config.DBConfig,
	migrate func(string, *zap.Logger) error,
	logger *zap.Logger,
) (store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		dsn := cfg.ConnString()
		if cfg.AutoMigrate {
			if err := migrate(dsn, logger); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		s, err := postgres.New(ctx, postgres.Config{DSN: dsn, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Info("Connected to PostgreSQL")
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("Using SQLite document store", zap.String("path", cfg.Path))
		return s, nil
	case config.DriverMemory:
		logger.Warn("Using in-memory document store; documents are discarded on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver: %s", cfg.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case "", config.ProviderNone:
		return nil, nil
	case config.ProviderMemory:
		return memory.NewBlobStore(), nil
	case config.ProviderLocal:
		s, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		a.logger.Info("Archiving raw documents locally", zap.String("base_dir", a.cfg.Archive.BaseDir))
		return s, nil
	case config.ProviderGCS:
		// The walker applies archive.prefix to every object path.
		s, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.logger.Info("Archiving raw documents to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
}

func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Notify.Provider {
	case "", config.ProviderNone:
		return nil, nil
	case config.ProviderMemory:
		return memorypublisher.New(a.logger.Named("dry-run")), nil
	case config.ProviderPubSub:
		p, err := pubsub.New(ctx, pubsub.Config{ProjectID: a.cfg.Notify.ProjectID, Topic: a.cfg.Notify.Topic})
		if err != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.logger.Info("Publishing document events", zap.String("topic", a.cfg.Notify.Topic))
		return p, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", a.cfg.Notify.Provider)
	}
}

// runRecorder prints the summary and persists the session.
type runRecorder struct {
	reporter *crawler.Reporter
	runs     crawler.RunStore
	logger   *zap.Logger
}

func (r *runRecorder) Report(s crawler.Session) {
	r.reporter.Report(s)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.runs.RecordRun(ctx, s); err != nil {
		if errors.Is(err, crawler.ErrStoreClosed) {
			r.logger.Warn("Run not recorded; store already closed", zap.String("run_id", s.RunID))
			return
		}
		r.logger.Error("Failed to record crawl run", zap.String("run_id", s.RunID), zap.Error(err))
	}
}
