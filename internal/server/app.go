// Package server builds the long-lived services behind the CLI commands and
// runs them until their context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skairunner/commentater/internal/api"
	"github.com/skairunner/commentater/internal/archive"
	"github.com/skairunner/commentater/internal/articlesync"
	"github.com/skairunner/commentater/internal/clock/system"
	"github.com/skairunner/commentater/internal/commentater"
	"github.com/skairunner/commentater/internal/config"
	collyfetcher "github.com/skairunner/commentater/internal/fetcher/colly"
	headlessfetcher "github.com/skairunner/commentater/internal/fetcher/headless"
	"github.com/skairunner/commentater/internal/fetcher/ratelimit"
	"github.com/skairunner/commentater/internal/logging"
	"github.com/skairunner/commentater/internal/metrics"
	"github.com/skairunner/commentater/internal/parser"
	"github.com/skairunner/commentater/internal/reconcile"
	"github.com/skairunner/commentater/internal/scheduler"
	pgstore "github.com/skairunner/commentater/internal/storage/postgres"
	"github.com/skairunner/commentater/internal/worldanvil"
)

const (
	shutdownTimeout    = 10 * time.Second
	queueScrapeTimeout = 5 * time.Second
	readHeaderTimeout  = 5 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store         *pgstore.Store
	headless      *headlessfetcher.Fetcher
	archiveCloser io.Closer
}

// NewApp creates an App around an existing logger.
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger}
}

// Build creates the logger and the App for cfg.
func Build(cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("fetcher_mode", cfg.Fetcher.Mode),
		zap.Int("worker_concurrency", cfg.Worker.Concurrency),
		zap.String("archive_provider", cfg.Archive.Provider),
	)
	return NewApp(cfg, logger), nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Migrate applies pending schema migrations.
func (a *App) Migrate() error {
	if err := a.cfg.RequireDatabase(); err != nil {
		return err
	}
	version, err := pgstore.Migrate(a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.logger.Info("database migrated", zap.Uint("version", version))
	return nil
}

// Store connects to Postgres on first use, migrating first when
// database.migrate_on_start is set.
func (a *App) Store(ctx context.Context) (*pgstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	if a.cfg.Database.MigrateOnStart {
		if err := a.Migrate(); err != nil {
			return nil, err
		}
	}
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.store = store
	a.logger.Info("database connected", zap.Int32("max_conns", a.cfg.Database.MaxConns))
	return store, nil
}

// Syncer builds the article discovery workflow.
func (a *App) Syncer(ctx context.Context) (*articlesync.Syncer, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	wa := a.cfg.WorldAnvil
	client := worldanvil.New(worldanvil.Config{
		BaseURL:        wa.BaseURL,
		ApplicationKey: wa.ApplicationKey,
		UserAgent:      a.cfg.Fetcher.UserAgent,
		PageSize:       wa.PageSize,
		Timeout:        wa.Timeout,
		MaxAttempts:    wa.MaxAttempts,
		InitialBackoff: wa.InitialBackoff,
		MaxBackoff:     wa.MaxBackoff,
	}, a.logger)
	return articlesync.New(client, store, a.logger), nil
}

// SyncUser runs article discovery for the account behind apiKey.
func (a *App) SyncUser(ctx context.Context, apiKey string, enqueue bool) (articlesync.Summary, error) {
	syncer, err := a.Syncer(ctx)
	if err != nil {
		return articlesync.Summary{}, err
	}
	return syncer.SyncUser(ctx, apiKey, enqueue)
}

// RunWorkers runs the scheduler pool together with the ops HTTP server until
// ctx ends or a runner fails.
func (a *App) RunWorkers(ctx context.Context) error {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	pool, err := a.buildPool(ctx, store)
	if err != nil {
		return err
	}
	handler := a.apiHandler(store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("worker pool started", zap.Int("workers", pool.Size()))
		if err := pool.Run(gctx); err != nil {
			return fmt.Errorf("worker pool: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.serveHTTP(gctx, handler)
	})
	return g.Wait()
}

// Serve runs only the ops HTTP server.
func (a *App) Serve(ctx context.Context) error {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	return a.serveHTTP(ctx, a.apiHandler(store))
}

func (a *App) apiHandler(store *pgstore.Store) http.Handler {
	metrics.Init()
	collector := metrics.NewQueueCollector(store, queueScrapeTimeout, a.logger.Named("metrics"))
	if err := prometheus.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			a.logger.Warn("queue collector not registered", zap.Error(err))
		}
	}
	return api.NewServer(store, *a.cfg, a.logger).Handler()
}

func (a *App) serveHTTP(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

func (a *App) buildPool(ctx context.Context, store commentater.Store) (*scheduler.Pool, error) {
	fetcher, err := a.buildFetcher()
	if err != nil {
		return nil, err
	}
	archiver, err := a.buildArchiver(ctx)
	if err != nil {
		return nil, err
	}

	rec := reconcile.New(a.logger)
	clock := system.New()
	schedCfg := scheduler.Config{Cooldown: a.cfg.Worker.Cooldown}
	runners := make([]*scheduler.Runner, 0, a.cfg.Worker.Concurrency)
	for i := range a.cfg.Worker.Concurrency {
		logger := a.logger.Named("worker").With(zap.Int("index", i))
		s := scheduler.New(store, fetcher, parser.Parse, rec, clock, archiver, schedCfg, logger)
		runners = append(runners, scheduler.NewRunner(s, a.cfg.Worker.IdleInterval, logger))
	}
	return scheduler.NewPool(runners...), nil
}

// buildFetcher returns the configured page fetcher behind a per-site rate
// limiter shared by all workers.
func (a *App) buildFetcher() (commentater.Fetcher, error) {
	base, err := a.baseFetcher()
	if err != nil {
		return nil, err
	}
	fc := a.cfg.Fetcher
	a.logger.Info("fetch rate limit", zap.Float64("rate_per_second", fc.RatePerSecond), zap.Int("burst", fc.Burst))
	return ratelimit.New(base, ratelimit.Config{RPS: fc.RatePerSecond, Burst: fc.Burst}), nil
}

func (a *App) baseFetcher() (commentater.Fetcher, error) {
	fc := a.cfg.Fetcher
	if fc.Mode == config.FetcherModeHeadless {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       fc.HeadlessMaxParallel,
			UserAgent:         fc.UserAgent,
			NavigationTimeout: fc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = f
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", fc.HeadlessMaxParallel))
		return f, nil
	}
	a.logger.Info("using colly fetcher", zap.String("user_agent", fc.UserAgent))
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: fc.UserAgent,
		Timeout:   fc.Timeout,
	}), nil
}

// buildArchiver returns a nil interface when archiving is disabled.
func (a *App) buildArchiver(ctx context.Context) (scheduler.Archiver, error) {
	archiver, closer, err := archive.Open(ctx, a.cfg.Archive)
	if err != nil {
		return nil, err
	}
	a.archiveCloser = closer
	if archiver == nil {
		a.logger.Info("rejected page archive disabled")
		return nil, nil
	}
	a.logger.Info("archiving rejected pages",
		zap.String("provider", a.cfg.Archive.Provider),
		zap.String("prefix", a.cfg.Archive.Prefix),
	)
	return archiver, nil
}

// Close releases everything the App opened.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.archiveCloser != nil {
		if err := a.archiveCloser.Close(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}
