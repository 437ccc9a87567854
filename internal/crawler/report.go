package crawler

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Reporter renders the end-of-run summary.
type Reporter struct {
	out    io.Writer
	logger *zap.Logger
}

// NewReporter writes summaries to out (stdout when nil).
func NewReporter(out io.Writer, logger *zap.Logger) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{out: out, logger: logger}
}

// Report prints the session counters and logs them as structured fields.
func (r *Reporter) Report(s Session) {
	rule := strings.Repeat("=", 30)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", rule)
	fmt.Fprintf(&b, "   CRAWLER SESSION STATS   \n")
	fmt.Fprintf(&b, "%s\n", rule)
	fmt.Fprintf(&b, " Pages Scanned:   %d\n", s.PagesScanned)
	fmt.Fprintf(&b, " Docs Downloaded: %d\n", s.Downloaded)
	fmt.Fprintf(&b, " Docs Skipped:    %d\n", s.Skipped)
	fmt.Fprintf(&b, " Errors:          %d\n", s.Errors)
	fmt.Fprintf(&b, " Captcha Hits:    %d\n", s.CaptchaHits)
	fmt.Fprintf(&b, " Robots Denied:   %d\n", s.Disallowed)
	fmt.Fprintf(&b, " Duration:        %s\n", s.Duration().Round(time.Second))
	fmt.Fprintf(&b, " Run ID:          %s\n", s.RunID)
	fmt.Fprintf(&b, "%s\n\n", rule)

	if _, err := io.WriteString(r.out, b.String()); err != nil {
		r.logger.Warn("Failed to write session stats", zap.Error(err))
	}

	r.logger.Info("Crawler session finished",
		zap.String("run_id", s.RunID),
		zap.Int("pages_scanned", s.PagesScanned),
		zap.Int("downloaded", s.Downloaded),
		zap.Int("skipped", s.Skipped),
		zap.Int("errors", s.Errors),
		zap.Int("captcha_hits", s.CaptchaHits),
		zap.Int("disallowed", s.Disallowed),
		zap.Duration("duration", s.Duration()),
	)
}
