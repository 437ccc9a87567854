package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

const (
	existsQuery = `SELECT EXISTS (SELECT 1 FROM documents WHERE url_hash = $1)`
	insertQuery = `
INSERT INTO documents (url, url_hash, source_name, raw_html, crawled_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url_hash) DO NOTHING`
)

// Exists reports whether a document with the key is stored.
func (s *Store) Exists(ctx context.Context, urlHash string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, existsQuery, urlHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("check document %s: %w", urlHash, err)
	}
	return exists, nil
}

// InsertIfAbsent stores doc. A conflicting key leaves the stored row as is.
func (s *Store) InsertIfAbsent(ctx context.Context, doc crawler.Document) error {
	_, err := s.pool.Exec(ctx, insertQuery,
		doc.URL,
		doc.URLHash,
		doc.SourceName,
		toText(doc.RawBody),
		doc.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.URLHash, err)
	}
	return nil
}
