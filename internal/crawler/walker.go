package crawler

import (
	"bytes"
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clock/system"
	"github.com/JakeFAU/corpus-crawler/internal/hash/md5"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
)

// DefaultMaxPages bounds a source's listing traversal when nothing else does.
const DefaultMaxPages = 100

const archiveContentType = "text/html; charset=utf-8"

// WalkerConfig holds the run-wide knobs of the pagination walker.
type WalkerConfig struct {
	MaxPages      int
	ArchivePrefix string
	NotifyTopic   string
}

// Walker drives one CrawlTarget from its start URL through its next-page
// links, storing every article it has not seen before.
type Walker struct {
	controller *RetryController
	extractor  ListingExtractor
	store      DocumentStore
	hasher     Hasher
	pacer      *Pacer
	robots     RobotsPolicy
	archive    BlobStore
	publisher  Publisher
	clock      Clock
	cfg        WalkerConfig
	logger     *zap.Logger
}

// NewWalker wires a walker. A nil hasher defaults to MD5.
func NewWalker(
	controller *RetryController,
	extractor ListingExtractor,
	store DocumentStore,
	hasher Hasher,
	pacer *Pacer,
	cfg WalkerConfig,
	logger *zap.Logger,
) *Walker {
	if hasher == nil {
		hasher = md5.New()
	}
	if pacer == nil {
		pacer = NewPacer(0, Jitter{}, nil)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		controller: controller,
		extractor:  extractor,
		store:      store,
		hasher:     hasher,
		pacer:      pacer,
		clock:      system.New(),
		cfg:        cfg,
		logger:     logger,
	}
}

// WithRobots gates every fetch on robots.txt.
func (w *Walker) WithRobots(policy RobotsPolicy) *Walker {
	w.robots = policy
	return w
}

// WithArchive mirrors each stored body into a blob store.
func (w *Walker) WithArchive(store BlobStore) *Walker {
	w.archive = store
	return w
}

// WithPublisher announces each stored document.
func (w *Walker) WithPublisher(publisher Publisher) *Walker {
	w.publisher = publisher
	return w
}

// WithClock overrides the clock used for crawled_at timestamps.
func (w *Walker) WithClock(clock Clock) *Walker {
	if clock != nil {
		w.clock = clock
	}
	return w
}

// Walk processes one source to completion and returns the updated session.
// It stops when the page budget is spent, no next page exists, the next page
// is the current page, a listing fetch yields nothing, or ctx is done. It
// never fails the run.
func (w *Walker) Walk(ctx context.Context, target CrawlTarget, session Session) Session {
	log := w.logger.With(zap.String("source", target.Name))
	maxPages := w.cfg.MaxPages
	if target.MaxPages > 0 {
		maxPages = target.MaxPages
	}

	log.Info("Starting source", zap.String("start_url", target.StartURL), zap.Int("max_pages", maxPages))

	current := target.StartURL
	referer := ""
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			log.Warn("Source interrupted", zap.Int("page", pageNum), zap.Error(err))
			return session
		}
		log.Info("Processing listing page", zap.Int("page", pageNum), zap.String("url", current))

		if !w.allowed(ctx, current) {
			log.Warn("Listing page disallowed by robots.txt; stopping source", zap.String("url", current))
			return session
		}

		out := w.controller.Fetch(ctx, current, referer)
		session = session.Observe(out)
		if !out.Delivered() {
			log.Error("Failed to fetch listing page; stopping source",
				zap.String("url", current),
				zap.String("outcome", out.Kind.String()),
				zap.Int("attempts", out.Attempts),
			)
			return session
		}

		articles, next := w.extractor.ParseListing(out.Body, current, target)
		if !target.FollowsLinks() {
			next = ""
		}
		if next != "" {
			log.Info("Next page found", zap.String("next_url", next))
		} else {
			log.Info("No next page; end of listing")
		}
		if len(articles) == 0 {
			log.Warn("No articles found on listing page", zap.Int("page", pageNum))
		}

		var saved, skipped int
		var done bool
		session, saved, skipped, done = w.processArticles(ctx, target, articles, referer, session)
		if !done {
			log.Warn("Source interrupted mid-page; page not counted",
				zap.Int("page", pageNum),
				zap.Int("saved", saved),
				zap.Int("skipped", skipped),
			)
			return session
		}
		session.PagesScanned++
		metrics.ObservePage(target.Name)

		log.Info("Listing page finished",
			zap.Int("page", pageNum),
			zap.Int("saved", saved),
			zap.Int("skipped", skipped),
		)

		if next == "" || SameCanonical(next, current) {
			if next != "" {
				log.Warn("Next page equals current page; stopping source", zap.String("url", current))
			}
			return session
		}

		referer = current
		current = next
		if err := w.pacer.Wait(ctx); err != nil {
			log.Warn("Source interrupted during delay", zap.Error(err))
			return session
		}
	}

	log.Info("Page budget exhausted", zap.Int("max_pages", maxPages))
	return session
}

func (w *Walker) processArticles(
	ctx context.Context,
	target CrawlTarget,
	articles []string,
	referer string,
	session Session,
) (_ Session, saved, skipped int, done bool) {
	for _, rawURL := range articles {
		if ctx.Err() != nil {
			return session, saved, skipped, false
		}

		canonical := Canonicalize(rawURL)
		key, err := w.hasher.Hash([]byte(canonical))
		if err != nil {
			w.logger.Error("Failed to fingerprint URL", zap.String("url", canonical), zap.Error(err))
			session.Errors++
			continue
		}

		exists, err := w.store.Exists(ctx, key)
		if err != nil {
			w.logger.Error("Existence check failed", zap.String("url", canonical), zap.Error(err))
			session.Errors++
			continue
		}
		if exists {
			skipped++
			session.Skipped++
			metrics.ObserveDocument(target.Name, "skipped")
			continue
		}

		if !w.allowed(ctx, canonical) {
			w.logger.Info("Article disallowed by robots.txt", zap.String("url", canonical))
			session.Disallowed++
			metrics.ObserveDocument(target.Name, "disallowed")
			continue
		}

		if err := w.pacer.Wait(ctx); err != nil {
			return session, saved, skipped, false
		}

		out := w.controller.Fetch(ctx, canonical, referer)
		session = session.Observe(out)
		if ctx.Err() != nil {
			return session, saved, skipped, false
		}
		if !out.Delivered() {
			continue
		}

		doc := Document{
			URL:        rawURL,
			URLHash:    key,
			SourceName: target.Name,
			RawBody:    out.Body,
			CrawledAt:  w.clock.Now().Unix(),
		}
		if err := w.store.InsertIfAbsent(ctx, doc); err != nil {
			w.logger.Error("Failed to save document", zap.String("url", canonical), zap.Error(err))
			session.Errors++
			metrics.ObserveDocument(target.Name, "store_failed")
			continue
		}
		saved++
		session.Downloaded++
		metrics.ObserveDocument(target.Name, "downloaded")
		w.logger.Info("Saved document", zap.String("url", canonical), zap.String("url_hash", key))

		w.afterStore(ctx, doc, session.RunID)
	}
	return session, saved, skipped, true
}

// afterStore mirrors and announces a stored document. Failures are logged
// only; the document is already persisted.
func (w *Walker) afterStore(ctx context.Context, doc Document, runID string) {
	var blobURI string
	if w.archive != nil {
		objectPath := path.Join(strings.Trim(w.cfg.ArchivePrefix, "/"), sanitizeSegment(doc.SourceName), doc.URLHash+".html")
		uri, err := w.archive.PutObject(ctx, objectPath, archiveContentType, bytes.NewReader(doc.RawBody))
		if err != nil {
			w.logger.Warn("Failed to archive document", zap.String("url_hash", doc.URLHash), zap.Error(err))
		} else {
			blobURI = uri
		}
	}

	if w.publisher == nil {
		return
	}
	event := DocumentEvent{
		URL:        doc.URL,
		URLHash:    doc.URLHash,
		SourceName: doc.SourceName,
		CrawledAt:  doc.CrawledAt,
		Bytes:      len(doc.RawBody),
		BlobURI:    blobURI,
		RunID:      runID,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.NotifyTopic, event); err != nil {
		w.logger.Warn("Failed to publish document event", zap.String("url_hash", doc.URLHash), zap.Error(err))
	}
}

func (w *Walker) allowed(ctx context.Context, rawURL string) bool {
	if w.robots == nil {
		return true
	}
	return w.robots.Allowed(ctx, rawURL)
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
