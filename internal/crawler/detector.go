package crawler

import (
	"bytes"
	"net/http"
	"strings"
)

// DefaultBlockMarkers are the lower-case substrings that identify captcha and
// WAF interstitials on the crawled sources.
var DefaultBlockMarkers = []string{
	"captcha",
	"recaptcha",
	"g-recaptcha",
	"доступ ограничен",
	"security check",
	"подтвердите, что вы не робот",
	"403 forbidden",
	"waf",
}

// DefaultBlockBodyLimit is the body size at or above which markers are
// ignored. Real article pages are large and may mention "captcha" in passing.
const DefaultBlockBodyLimit = 5000

// BlockDetector implements Detector using the status code and body markers.
type BlockDetector struct {
	maxBodyBytes int
	markers      [][]byte
}

// NewBlockDetector constructs a Detector. Non-positive limits and empty marker
// lists fall back to the defaults.
func NewBlockDetector(maxBodyBytes int, markers []string) *BlockDetector {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultBlockBodyLimit
	}
	if len(markers) == 0 {
		markers = DefaultBlockMarkers
	}
	lowerMarkers := make([][]byte, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		lowerMarkers = append(lowerMarkers, bytes.ToLower([]byte(m)))
	}
	return &BlockDetector{
		maxBodyBytes: maxBodyBytes,
		markers:      lowerMarkers,
	}
}

// Detect returns the block reason when the response looks like an anti-bot
// wall. A 403 is always a block; markers only count on small bodies.
func (d *BlockDetector) Detect(body []byte, statusCode int) (string, bool) {
	if statusCode == http.StatusForbidden {
		return "403 Forbidden", true
	}
	if d == nil || len(body) == 0 || len(body) >= d.maxBodyBytes {
		return "", false
	}
	lowerBody := bytes.ToLower(body)
	for _, marker := range d.markers {
		if bytes.Contains(lowerBody, marker) {
			return "captcha marker found: '" + string(marker) + "'", true
		}
	}
	return "", false
}
