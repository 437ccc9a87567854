package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// PaginationType names how a listing advances to its next page.
type PaginationType string

// Supported pagination types.
const (
	PaginationNone     PaginationType = "none"
	PaginationHTMLLink PaginationType = "html_link"
)

// CrawlTarget is one configured source. It is never mutated during a run.
type CrawlTarget struct {
	Name               string
	StartURL           string
	ItemSelector       string
	PaginationType     PaginationType
	NextButtonSelector string
	// MaxPages overrides the run-wide page budget when positive.
	MaxPages int
}

// FollowsLinks reports whether the listing advances through next-page links.
func (t CrawlTarget) FollowsLinks() bool {
	return t.PaginationType == PaginationHTMLLink
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL string
	// Referer is sent only when non-empty.
	Referer string
}

// FetchResponse is the raw result of a single GET.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// NetworkError marks a transport-level failure (DNS, connect, TLS, timeout,
// reset). It is the only fetch error the retry controller retries.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResultKind classifies one fetch attempt.
type ResultKind int

// Fetch attempt classifications.
const (
	ResultSuccess ResultKind = iota
	ResultNotFound
	ResultOtherStatus
	ResultBlocked
	ResultNetworkError
	ResultUnexpected
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultNotFound:
		return "not_found"
	case ResultOtherStatus:
		return "other_status"
	case ResultBlocked:
		return "blocked"
	case ResultNetworkError:
		return "network_error"
	case ResultUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// FetchResult is the classified outcome of one attempt.
type FetchResult struct {
	Kind       ResultKind
	StatusCode int
	Body       []byte
	// Reason is set for blocked results.
	Reason string
	// Err is set for network and unexpected results.
	Err error
}

// Outcome is what the retry controller hands back to callers: the final
// classification of a request after all attempts.
type Outcome struct {
	URL        string
	Kind       ResultKind
	StatusCode int
	Body       []byte
	Attempts   int
	Reason     string
	Err        error
}

// Delivered reports whether the request produced content.
func (o Outcome) Delivered() bool {
	return o.Kind == ResultSuccess
}

// Document is one persisted raw article.
type Document struct {
	URL        string
	URLHash    string
	SourceName string
	RawBody    []byte
	CrawledAt  int64
}

// DocumentEvent is published after a document is stored.
type DocumentEvent struct {
	URL        string `json:"url"`
	URLHash    string `json:"url_hash"`
	SourceName string `json:"source_name"`
	CrawledAt  int64  `json:"crawled_at"`
	Bytes      int    `json:"bytes"`
	BlobURI    string `json:"blob_uri,omitempty"`
	RunID      string `json:"run_id"`
}
