package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skairunner/commentater/internal/archive"
	"github.com/skairunner/commentater/internal/config"
	collyfetcher "github.com/skairunner/commentater/internal/fetcher/colly"
	"github.com/skairunner/commentater/internal/fetcher/ratelimit"
	pgstore "github.com/skairunner/commentater/internal/storage/postgres"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0},
		Worker:  config.WorkerConfig{Concurrency: 3, IdleInterval: time.Millisecond, Cooldown: time.Second},
		Fetcher: config.FetcherConfig{Mode: config.FetcherModeColly, UserAgent: config.DefaultUserAgent, Timeout: time.Second},
		Archive: config.ArchiveConfig{Provider: config.ArchiveNone},
	}
}

func TestStoreRequiresDSN(t *testing.T) {
	app := NewApp(testConfig(), zap.NewNop())

	_, err := app.Store(context.Background())
	require.ErrorContains(t, err, "database.dsn is required")
	require.ErrorContains(t, app.Migrate(), "database.dsn is required")
	require.Error(t, app.RunWorkers(context.Background()))
}

func TestBuildFetcherDefaultsToColly(t *testing.T) {
	app := NewApp(testConfig(), zap.NewNop())

	f, err := app.baseFetcher()
	require.NoError(t, err)
	assert.IsType(t, &collyfetcher.Fetcher{}, f)
	assert.Nil(t, app.headless)

	limited, err := app.buildFetcher()
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.Fetcher{}, limited)
}

func TestBuildArchiver(t *testing.T) {
	cfg := testConfig()
	app := NewApp(cfg, zap.NewNop())

	archiver, err := app.buildArchiver(context.Background())
	require.NoError(t, err)
	assert.Nil(t, archiver, "disabled archive must be a nil interface")

	cfg.Archive = config.ArchiveConfig{Provider: config.ArchiveLocal, BaseDir: t.TempDir(), Prefix: "rejected"}
	archiver, err = app.buildArchiver(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &archive.Archiver{}, archiver)
}

func TestBuildPoolSizesFromConfig(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := pgstore.NewWithPool(mock)
	require.NoError(t, err)
	app := NewApp(testConfig(), zap.NewNop())

	pool, err := app.buildPool(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())
}

func TestAPIHandlerServesProbes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := pgstore.NewWithPool(mock)
	require.NoError(t, err)
	app := NewApp(testConfig(), zap.NewNop())

	// Registering the queue collector twice must not fail.
	_ = app.apiHandler(store)
	handler := app.apiHandler(store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeHTTPStopsOnCancel(t *testing.T) {
	app := NewApp(testConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.serveHTTP(ctx, http.NotFoundHandler()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestCloseWithoutResources(t *testing.T) {
	app := NewApp(testConfig(), nil)
	assert.NotPanics(t, app.Close)
}
