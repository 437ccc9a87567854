package postgres

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestExists(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(existsQuery)).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(existsQuery)).
		WithArgs("def").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(existsQuery)).
		WithArgs("ghi").
		WillReturnError(errors.New("connection lost"))

	found, err := store.Exists(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, found)

	found, err = store.Exists(context.Background(), "def")
	require.NoError(t, err)
	require.False(t, found)

	_, err = store.Exists(context.Background(), "ghi")
	require.ErrorContains(t, err, "connection lost")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentUsesConflictClause(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	doc := crawler.Document{
		URL:        "https://example.com/doc/1/",
		URLHash:    "0123456789abcdef0123456789abcdef",
		SourceName: "example",
		RawBody:    []byte("<html>тело\x00</html>"),
		CrawledAt:  1700000000,
	}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (url_hash) DO NOTHING")).
		WithArgs(doc.URL, doc.URLHash, doc.SourceName, "<html>тело</html>", doc.CrawledAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.InsertIfAbsent(context.Background(), doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("disk full"))

	err := store.InsertIfAbsent(context.Background(), crawler.Document{URLHash: "k"})
	require.ErrorContains(t, err, "insert document k")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	session := crawler.Session{
		RunID:        "run-1",
		StartedAt:    start,
		FinishedAt:   start.Add(time.Minute),
		PagesScanned: 2,
		Downloaded:   1,
		Skipped:      1,
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", start, pgxmock.AnyArg(), 2, 1, 1, 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	finished := start.Add(time.Minute)
	cols := []string{"run_id", "started_at", "finished_at", "pages_scanned", "downloaded", "skipped", "errors", "captcha_hits", "disallowed"}

	mock.ExpectQuery("FROM crawl_runs WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("run-1", start, &finished, 3, 2, 1, 0, 1, 0))
	mock.ExpectQuery("FROM crawl_runs WHERE run_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "run-1", run.RunID)
	require.Equal(t, 3, run.PagesScanned)
	require.Equal(t, 1, run.CaptchaHits)
	require.Equal(t, finished, run.FinishedAt)

	_, err = store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	var unfinished *time.Time
	cols := []string{"run_id", "started_at", "finished_at", "pages_scanned", "downloaded", "skipped", "errors", "captcha_hits", "disallowed"}

	mock.ExpectQuery("ORDER BY started_at DESC").
		WithArgs(10, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("run-2", start.Add(time.Hour), unfinished, 1, 0, 0, 0, 0, 0).
			AddRow("run-1", start, unfinished, 2, 1, 1, 0, 0, 0))

	runs, err := store.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].RunID)
	require.True(t, runs[0].FinishedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")

	mock.ExpectClose()
	require.NoError(t, store.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")
	_, err = New(context.Background(), Config{DSN: "postgres://%zz"})
	require.ErrorContains(t, err, "parse postgres dsn")
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"migrations/000001_create_documents.up.sql",
		"migrations/000001_create_documents.down.sql",
		"migrations/000002_create_crawl_runs.up.sql",
		"migrations/000002_create_crawl_runs.down.sql",
	}, names)

	up, err := fs.ReadFile(migrationFS, "migrations/000001_create_documents.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "url_hash    VARCHAR(32) NOT NULL UNIQUE")
}
