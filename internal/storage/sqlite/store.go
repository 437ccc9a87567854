// Package sqlite provides a single-file document and run store for local
// crawls, built on modernc.org/sqlite through sqlx.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT    NOT NULL,
	url_hash    TEXT    NOT NULL UNIQUE,
	source_name TEXT    NOT NULL,
	raw_html    TEXT    NOT NULL,
	crawled_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_name);

CREATE TABLE IF NOT EXISTS crawl_runs (
	run_id        TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER,
	pages_scanned INTEGER NOT NULL DEFAULT 0,
	downloaded    INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	errors        INTEGER NOT NULL DEFAULT 0,
	captcha_hits  INTEGER NOT NULL DEFAULT 0,
	disallowed    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_started ON crawl_runs(started_at);
`

// Store implements crawler.DocumentStore and crawler.RunStore on SQLite.
type Store struct {
	db     *sqlx.DB
	closed atomic.Bool
}

// Open opens or creates the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db.path must name the sqlite file")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialise sqlite: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle whose schema is already in place.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return crawler.ErrStoreClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database connection. Later calls return ErrStoreClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Exists reports whether a document with the key is stored.
func (s *Store) Exists(ctx context.Context, urlHash string) (bool, error) {
	if s.closed.Load() {
		return false, crawler.ErrStoreClosed
	}
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM documents WHERE url_hash = ?)`, urlHash)
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", urlHash, err)
	}
	return exists, nil
}

// InsertIfAbsent stores doc. A conflicting key leaves the stored row as is.
func (s *Store) InsertIfAbsent(ctx context.Context, doc crawler.Document) error {
	if s.closed.Load() {
		return crawler.ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO documents (url, url_hash, source_name, raw_html, crawled_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (url_hash) DO NOTHING`,
		doc.URL, doc.URLHash, doc.SourceName, string(doc.RawBody), doc.CrawledAt)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.URLHash, err)
	}
	return nil
}

type runRow struct {
	RunID        string        `db:"run_id"`
	StartedAt    int64         `db:"started_at"`
	FinishedAt   sql.NullInt64 `db:"finished_at"`
	PagesScanned int           `db:"pages_scanned"`
	Downloaded   int           `db:"downloaded"`
	Skipped      int           `db:"skipped"`
	Errors       int           `db:"errors"`
	CaptchaHits  int           `db:"captcha_hits"`
	Disallowed   int           `db:"disallowed"`
}

func toRow(s crawler.Session) runRow {
	row := runRow{
		RunID:        s.RunID,
		StartedAt:    s.StartedAt.UnixMilli(),
		PagesScanned: s.PagesScanned,
		Downloaded:   s.Downloaded,
		Skipped:      s.Skipped,
		Errors:       s.Errors,
		CaptchaHits:  s.CaptchaHits,
		Disallowed:   s.Disallowed,
	}
	if !s.FinishedAt.IsZero() {
		row.FinishedAt = sql.NullInt64{Int64: s.FinishedAt.UnixMilli(), Valid: true}
	}
	return row
}

func (r runRow) session() crawler.Session {
	s := crawler.Session{
		RunID:        r.RunID,
		StartedAt:    time.UnixMilli(r.StartedAt).UTC(),
		PagesScanned: r.PagesScanned,
		Downloaded:   r.Downloaded,
		Skipped:      r.Skipped,
		Errors:       r.Errors,
		CaptchaHits:  r.CaptchaHits,
		Disallowed:   r.Disallowed,
	}
	if r.FinishedAt.Valid {
		s.FinishedAt = time.UnixMilli(r.FinishedAt.Int64).UTC()
	}
	return s
}

// RecordRun upserts the counters of a run.
func (s *Store) RecordRun(ctx context.Context, session crawler.Session) error {
	if s.closed.Load() {
		return crawler.ErrStoreClosed
	}
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO crawl_runs (run_id, started_at, finished_at, pages_scanned, downloaded, skipped, errors, captcha_hits, disallowed)
VALUES (:run_id, :started_at, :finished_at, :pages_scanned, :downloaded, :skipped, :errors, :captcha_hits, :disallowed)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = excluded.finished_at,
	pages_scanned = excluded.pages_scanned,
	downloaded = excluded.downloaded,
	skipped = excluded.skipped,
	errors = excluded.errors,
	captcha_hits = excluded.captcha_hits,
	disallowed = excluded.disallowed`, toRow(session))
	if err != nil {
		return fmt.Errorf("record run %s: %w", session.RunID, err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.Session, error) {
	if s.closed.Load() {
		return crawler.Session{}, crawler.ErrStoreClosed
	}
	var row runRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM crawl_runs WHERE run_id = ?`, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Session{}, crawler.ErrRunNotFound
		}
		return crawler.Session{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return row.session(), nil
}

// ListRuns returns runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]crawler.Session, error) {
	if s.closed.Load() {
		return nil, crawler.ErrStoreClosed
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM crawl_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]crawler.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.session())
	}
	return out, nil
}
