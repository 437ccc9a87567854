package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrStoreClosed is returned by stores used after Close.
	ErrStoreClosed = errors.New("store is closed")
	// ErrRunNotFound is returned when a run ID is unknown.
	ErrRunNotFound = errors.New("crawl run not found")
)

// Fetcher issues a single GET and returns the raw response. Transport
// failures must be reported as *NetworkError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Detector decides whether a response is an anti-bot wall.
type Detector interface {
	Detect(body []byte, statusCode int) (reason string, blocked bool)
}

// ListingExtractor pulls article links and the next-page link out of a
// listing page. Implementations resolve relative hrefs against currentURL and
// return empty results on malformed input.
type ListingExtractor interface {
	ParseListing(body []byte, currentURL string, target CrawlTarget) (articles []string, nextPage string)
}

// DocumentStore persists raw documents keyed by URL hash.
type DocumentStore interface {
	Exists(ctx context.Context, urlHash string) (bool, error)
	// InsertIfAbsent stores doc; an existing key is a no-op, not an error.
	InsertIfAbsent(ctx context.Context, doc Document) error
}

// RunStore keeps the history of crawl sessions.
type RunStore interface {
	RecordRun(ctx context.Context, session Session) error
	GetRun(ctx context.Context, runID string) (Session, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Session, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes ingest events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RobotsPolicy reports whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Limiter caps the request rate towards a host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Pauser suspends the crawl for a delay. It returns early with the context
// error when ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
