package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

// Store implements crawler.DocumentStore and crawler.RunStore in memory.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]crawler.Document
	runs   map[string]crawler.Session
	closed bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		docs: make(map[string]crawler.Document),
		runs: make(map[string]crawler.Session),
	}
}

// Exists reports whether a document with the key is stored.
func (s *Store) Exists(_ context.Context, urlHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, crawler.ErrStoreClosed
	}
	_, ok := s.docs[urlHash]
	return ok, nil
}

// InsertIfAbsent stores doc unless its key is already present.
func (s *Store) InsertIfAbsent(_ context.Context, doc crawler.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.ErrStoreClosed
	}
	if _, ok := s.docs[doc.URLHash]; ok {
		return nil
	}
	doc.RawBody = append([]byte(nil), doc.RawBody...)
	s.docs[doc.URLHash] = doc
	return nil
}

// Document returns the stored document for a key.
func (s *Store) Document(urlHash string) (crawler.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[urlHash]
	return doc, ok
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// RecordRun upserts a run.
func (s *Store) RecordRun(_ context.Context, session crawler.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.ErrStoreClosed
	}
	s.runs[session.RunID] = session
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, runID string) (crawler.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Session{}, crawler.ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns runs, most recent first.
func (s *Store) ListRuns(_ context.Context, limit, offset int) ([]crawler.Session, error) {
	s.mu.RLock()
	runs := make([]crawler.Session, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return []crawler.Session{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
