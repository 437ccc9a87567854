// Package system provides the wall clock used for run and crawl timestamps.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, so stored crawled_at values and run
// timestamps never depend on the host zone.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
