package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

const (
	recordRunQuery = `
INSERT INTO crawl_runs (run_id, started_at, finished_at, pages_scanned, downloaded, skipped, errors, captcha_hits, disallowed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id) DO UPDATE
SET finished_at = EXCLUDED.finished_at,
    pages_scanned = EXCLUDED.pages_scanned,
    downloaded = EXCLUDED.downloaded,
    skipped = EXCLUDED.skipped,
    errors = EXCLUDED.errors,
    captcha_hits = EXCLUDED.captcha_hits,
    disallowed = EXCLUDED.disallowed`

	runColumns = `run_id, started_at, finished_at, pages_scanned, downloaded, skipped, errors, captcha_hits, disallowed`
)

// RecordRun upserts the counters of a run.
func (s *Store) RecordRun(ctx context.Context, session crawler.Session) error {
	var finished *time.Time
	if !session.FinishedAt.IsZero() {
		f := session.FinishedAt
		finished = &f
	}
	_, err := s.pool.Exec(ctx, recordRunQuery,
		session.RunID,
		session.StartedAt,
		finished,
		session.PagesScanned,
		session.Downloaded,
		session.Skipped,
		session.Errors,
		session.CaptchaHits,
		session.Disallowed,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", session.RunID, err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE run_id = $1`, runID)
	session, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Session{}, crawler.ErrRunNotFound
		}
		return crawler.Session{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return session, nil
}

// ListRuns returns runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]crawler.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM crawl_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []crawler.Session
	for rows.Next() {
		session, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (crawler.Session, error) {
	var (
		session  crawler.Session
		finished *time.Time
	)
	err := row.Scan(
		&session.RunID,
		&session.StartedAt,
		&finished,
		&session.PagesScanned,
		&session.Downloaded,
		&session.Skipped,
		&session.Errors,
		&session.CaptchaHits,
		&session.Disallowed,
	)
	if err != nil {
		return crawler.Session{}, err
	}
	if finished != nil {
		session.FinishedAt = *finished
	}
	return session, nil
}
