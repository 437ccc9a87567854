package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/crawler"
	"github.com/JakeFAU/corpus-crawler/internal/hash/md5"
	memorypublisher "github.com/JakeFAU/corpus-crawler/internal/publisher/memory"
	"github.com/JakeFAU/corpus-crawler/internal/storage/memory"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="item" href="/news/a1/">first</a>
			<a class="item" href="/news/a2">second</a>
		</body></html>`)
	})
	mux.HandleFunc("/news/a1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>article one with enough text to pass the block detector</html>")
	})
	mux.HandleFunc("/news/a2", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>article two with enough text to pass the block detector</html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, startURL string) config.Config {
	t.Helper()
	return config.Config{
		Logic: config.LogicConfig{
			UserAgent:      "test-agent",
			MaxPages:       3,
			TimeoutSeconds: 5,
			MaxAttempts:    1,
		},
		Sources: []config.SourceConfig{{
			Name:         "test news",
			StartURL:     startURL,
			ItemSelector: "a.item",
		}},
		DB:      config.DBConfig{Driver: config.DriverMemory},
		Archive: config.ArchiveConfig{Provider: config.ProviderLocal, BaseDir: t.TempDir(), Prefix: "raw"},
	}
}

func TestCrawlStoresArchivesAndRecords(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv.URL+"/news")
	var report bytes.Buffer

	a, err := New(context.Background(), cfg, zap.NewNop(), WithReportWriter(&report))
	require.NoError(t, err)
	defer a.Close()

	session, err := a.Crawl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, session.PagesScanned)
	assert.Equal(t, 2, session.Downloaded)
	assert.Zero(t, session.Errors)
	assert.Contains(t, report.String(), "Docs Downloaded: 2")

	key := md5.Fingerprint(crawler.Canonicalize(srv.URL + "/news/a1/"))
	found, err := a.store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, found)

	// #nosec G304 -- test reads from the controlled temp directory.
	archived, err := os.ReadFile(filepath.Join(cfg.Archive.BaseDir, "raw", "test_news", key+".html"))
	require.NoError(t, err)
	assert.Contains(t, string(archived), "article one")

	run, err := a.Runs().GetRun(context.Background(), session.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Downloaded)
	assert.False(t, run.FinishedAt.IsZero())

	// A second run skips everything already stored.
	again, err := a.Crawl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
	assert.Zero(t, again.Downloaded)
}

func TestDryRunProvidersCaptureSideEffects(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv.URL+"/news")
	cfg.Archive = config.ArchiveConfig{Provider: config.ProviderMemory, Prefix: "raw"}
	cfg.Notify = config.NotifyConfig{Provider: config.ProviderMemory, Topic: "documents"}
	var report bytes.Buffer

	a, err := New(context.Background(), cfg, zap.NewNop(), WithReportWriter(&report))
	require.NoError(t, err)
	defer a.Close()

	session, err := a.Crawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, session.Downloaded)

	events, ok := a.events.(*memorypublisher.Publisher)
	require.True(t, ok)
	seen := events.Announcements()
	require.Len(t, seen, 2)
	assert.Equal(t, "documents", seen[0].Topic)
	event := seen[0].Event
	assert.Equal(t, session.RunID, event.RunID)
	assert.Equal(t, "memory://raw/test_news/"+event.URLHash+".html", event.BlobURI)

	archive, ok := a.archive.(*memory.BlobStore)
	require.True(t, ok)
	body, found := archive.Object("raw/test_news/" + event.URLHash + ".html")
	require.True(t, found)
	assert.Contains(t, string(body), "article")
}

func TestCrawlSucceedsWhenOpsPortIsBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	srv := newSite(t)
	cfg := testConfig(t, srv.URL+"/news")
	cfg.Metrics.Addr = busy.Addr().String()
	core, logs := observer.New(zapcore.WarnLevel)

	a, err := New(context.Background(), cfg, zap.New(core), WithReportWriter(io.Discard))
	require.NoError(t, err)
	defer a.Close()

	session, err := a.Crawl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, session.Downloaded)
	assert.Equal(t, 1, session.PagesScanned)
	assert.Equal(t, 1, logs.FilterMessage("Ops server stopped with an error").Len())
}

func TestNewFailsFast(t *testing.T) {
	cfg := testConfig(t, "https://example.com")

	bad := cfg
	bad.DB.Driver = "mysql"
	_, err := New(context.Background(), bad, zap.NewNop())
	require.ErrorContains(t, err, "unknown db driver")

	bad = cfg
	bad.Archive.Provider = "s3"
	_, err = New(context.Background(), bad, zap.NewNop())
	require.ErrorContains(t, err, "unknown archive provider")

	bad = cfg
	bad.Notify.Provider = "kafka"
	_, err = New(context.Background(), bad, zap.NewNop())
	require.ErrorContains(t, err, "unknown notify provider")

	bad = cfg
	bad.DB = config.DBConfig{Driver: config.DriverPostgres, DSN: "postgres://localhost/none", AutoMigrate: true}
	failingMigrate := func(o *options) {
		o.migrate = func(string, *zap.Logger) error { return errors.New("no database") }
	}
	_, err = New(context.Background(), bad, zap.NewNop(), failingMigrate)
	require.ErrorContains(t, err, "migrate postgres")
}

func TestSQLiteDriverAndReadiness(t *testing.T) {
	cfg := testConfig(t, "https://example.com")
	cfg.DB = config.DBConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "corpus.db")}
	cfg.Archive = config.ArchiveConfig{}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Ready(context.Background()))
	require.NoError(t, a.Migrate(context.Background()), "sqlite needs no migration")
	assert.Equal(t, cfg.DB.Path, a.Config().DB.Path)
	assert.NotNil(t, a.Logger())

	a.Close()
	require.ErrorIs(t, a.Ready(context.Background()), crawler.ErrStoreClosed)
}

func TestRunRecorderToleratesClosedStore(t *testing.T) {
	cfg := testConfig(t, "https://example.com")
	var report bytes.Buffer
	a, err := New(context.Background(), cfg, zap.NewNop(), WithReportWriter(&report))
	require.NoError(t, err)
	require.NoError(t, a.store.Close())

	rec := &runRecorder{reporter: crawler.NewReporter(&report, zap.NewNop()), runs: a.store, logger: zap.NewNop()}
	rec.Report(crawler.Session{RunID: "r"})
	assert.Contains(t, report.String(), "CRAWLER SESSION STATS")
}
