package crawler

import (
	"time"

	"github.com/google/uuid"
)

// Session holds the counters of one crawl run. It is passed by value through
// the walker and read by the Reporter when the run ends.
type Session struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	PagesScanned int
	Downloaded   int
	Skipped      int
	Errors       int
	CaptchaHits  int
	// Disallowed counts article URLs rejected by robots.txt.
	Disallowed int
}

// NewSession starts a run with zeroed counters.
func NewSession(now time.Time) Session {
	runID := ""
	if id, err := uuid.NewV7(); err == nil {
		runID = id.String()
	} else {
		runID = uuid.NewString()
	}
	return Session{RunID: runID, StartedAt: now}
}

// Observe folds a final retry outcome into the counters. Only exhausted
// blocks and exhausted network errors are counted.
func (s Session) Observe(out Outcome) Session {
	switch out.Kind {
	case ResultBlocked:
		s.CaptchaHits++
	case ResultNetworkError:
		s.Errors++
	}
	return s
}

// Duration is the wall time of the run so far.
func (s Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
