// Package parser extracts article links and next-page links from listing
// pages with goquery.
package parser

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

// ListingExtractor implements crawler.ListingExtractor.
type ListingExtractor struct {
	logger *zap.Logger
}

// NewListingExtractor builds an extractor.
func NewListingExtractor(logger *zap.Logger) *ListingExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingExtractor{logger: logger}
}

// ParseListing returns the absolute hrefs of every element matching the
// target's item selector, in document order, and the absolute href of the
// first element matching its next-button selector when the target paginates
// by HTML link. Elements without an href are ignored. Malformed input and
// invalid selectors yield empty results.
func (e *ListingExtractor) ParseListing(body []byte, currentURL string, target crawler.CrawlTarget) (articles []string, next string) {
	if len(body) == 0 {
		return nil, ""
	}
	base, err := url.Parse(currentURL)
	if err != nil {
		e.logger.Error("Invalid listing URL", zap.String("url", currentURL), zap.Error(err))
		return nil, ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Error("Error parsing listing", zap.String("url", currentURL), zap.Error(err))
		return nil, ""
	}

	if sel := strings.TrimSpace(target.ItemSelector); sel != "" {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if abs, ok := resolveHref(base, s); ok {
				articles = append(articles, abs)
			}
		})
	}

	if target.FollowsLinks() {
		if sel := strings.TrimSpace(target.NextButtonSelector); sel != "" {
			if abs, ok := resolveHref(base, doc.Find(sel).First()); ok {
				next = abs
			}
		}
	}
	return articles, next
}

func resolveHref(base *url.URL, s *goquery.Selection) (string, bool) {
	href, exists := s.Attr("href")
	href = strings.TrimSpace(href)
	if !exists || href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
