package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/hash/md5"
)

const (
	listOne = "https://news.example/list"
	listTwo = "https://news.example/list?page=2"
)

func linkedTarget(maxPages int) CrawlTarget {
	return CrawlTarget{
		Name:               "news",
		StartURL:           listOne,
		ItemSelector:       "a.item",
		PaginationType:     PaginationHTMLLink,
		NextButtonSelector: "a.next",
		MaxPages:           maxPages,
	}
}

func TestWalkerTwoPageScenario(t *testing.T) {
	known := "https://news.example/a1"
	fresh := "https://news.example/a2/"

	store := newMemoryStore()
	store.docs[md5.Fingerprint(Canonicalize(known))] = Document{URL: known}

	fetcher := newScriptedFetcher().
		on(listOne, ok("page one")).
		on("https://news.example/a2", ok("<html>article two</html>")).
		on(listTwo, ok("page two"))
	extractor := stubExtractor{
		listOne: {articles: []string{known, fresh}, next: listTwo},
		listTwo: {},
	}
	pauser := &recordingPauser{}
	walker := newTestWalker(fetcher, extractor, store, pauser, WalkerConfig{})

	session := walker.Walk(context.Background(), linkedTarget(2), NewSession(fixedClock{}.Now()))

	require.Equal(t, 1, session.Downloaded)
	require.Equal(t, 1, session.Skipped)
	require.Equal(t, 2, session.PagesScanned)
	require.Zero(t, session.Errors)

	require.Equal(t, []string{listOne, "https://news.example/a2", listTwo}, fetcher.urls(),
		"known articles must not be fetched and fresh ones are fetched by canonical URL")
	require.Equal(t, "", fetcher.calls[0].Referer)
	require.Equal(t, "", fetcher.calls[1].Referer)
	require.Equal(t, listOne, fetcher.calls[2].Referer, "referer moves to the previous listing on page transition")

	doc, found := store.docs[md5.Fingerprint("https://news.example/a2")]
	require.True(t, found)
	require.Equal(t, fresh, doc.URL)
	require.Equal(t, "news", doc.SourceName)
	require.Equal(t, []byte("<html>article two</html>"), doc.RawBody)
	require.Equal(t, int64(1700000000), doc.CrawledAt)

	// one baseline delay before the article, one before the next listing page
	require.Len(t, pauser.delays, 2)
}

func TestWalkerStopsWhenNextPageIsCurrentPage(t *testing.T) {
	fetcher := newScriptedFetcher().on(listOne, ok("page one"))
	extractor := stubExtractor{
		listOne: {next: "HTTPS://NEWS.example/list/#top"},
	}
	walker := newTestWalker(fetcher, extractor, newMemoryStore(), &recordingPauser{}, WalkerConfig{})

	session := walker.Walk(context.Background(), linkedTarget(10), NewSession(fixedClock{}.Now()))

	require.Equal(t, 1, session.PagesScanned)
	require.Equal(t, []string{listOne}, fetcher.urls())
}

func TestWalkerHonoursPageBudget(t *testing.T) {
	fetcher := newScriptedFetcher().
		on(listOne, ok("one")).
		on(listTwo, ok("two"))
	extractor := stubExtractor{
		listOne: {next: listTwo},
		listTwo: {next: "https://news.example/list?page=3"},
	}
	walker := newTestWalker(fetcher, extractor, newMemoryStore(), &recordingPauser{}, WalkerConfig{MaxPages: 2})

	target := linkedTarget(0)
	session := walker.Walk(context.Background(), target, NewSession(fixedClock{}.Now()))

	require.Equal(t, 2, session.PagesScanned)
	require.Equal(t, []string{listOne, listTwo}, fetcher.urls())
}

func TestWalkerIgnoresNextLinkWithoutPagination(t *testing.T) {
	fetcher := newScriptedFetcher().on(listOne, ok("one"))
	extractor := stubExtractor{listOne: {next: listTwo}}
	walker := newTestWalker(fetcher, extractor, newMemoryStore(), &recordingPauser{}, WalkerConfig{})

	target := linkedTarget(5)
	target.PaginationType = PaginationNone
	session := walker.Walk(context.Background(), target, NewSession(fixedClock{}.Now()))

	require.Equal(t, 1, session.PagesScanned)
	require.Equal(t, []string{listOne}, fetcher.urls())
}

func TestWalkerListingFailureStopsSource(t *testing.T) {
	fetcher := newScriptedFetcher().on(listOne, step{status: 500})
	walker := newTestWalker(fetcher, stubExtractor{}, newMemoryStore(), &recordingPauser{}, WalkerConfig{})

	session := walker.Walk(context.Background(), linkedTarget(5), NewSession(fixedClock{}.Now()))

	require.Zero(t, session.PagesScanned)
	require.Zero(t, session.Errors, "a non-200 status is not an error")
	require.Equal(t, []string{listOne}, fetcher.urls())
}

func TestWalkerArticleFailuresMoveOn(t *testing.T) {
	fetcher := newScriptedFetcher().
		on(listOne, ok("one")).
		on("https://news.example/gone", step{status: 404}).
		on("https://news.example/flaky", step{err: &NetworkError{URL: "https://news.example/flaky", Err: errors.New("reset")}}).
		on("https://news.example/fine", ok("fine"))
	extractor := stubExtractor{listOne: {articles: []string{
		"https://news.example/gone",
		"https://news.example/flaky",
		"https://news.example/fine",
	}}}
	store := newMemoryStore()
	walker := newTestWalker(fetcher, extractor, store, &recordingPauser{}, WalkerConfig{})

	session := walker.Walk(context.Background(), linkedTarget(1), NewSession(fixedClock{}.Now()))

	require.Equal(t, 1, session.Downloaded)
	require.Equal(t, 1, session.Errors)
	require.Equal(t, 1, session.PagesScanned)
	require.Len(t, store.docs, 1)
}

func TestWalkerStorageErrorsCountAndContinue(t *testing.T) {
	fetcher := newScriptedFetcher().
		on(listOne, ok("one")).
		on("https://news.example/a", ok("a"))
	extractor := stubExtractor{listOne: {articles: []string{"https://news.example/a"}}}

	store := newMemoryStore()
	store.existsErr = errors.New("db down")
	walker := newTestWalker(fetcher, extractor, store, &recordingPauser{}, WalkerConfig{})
	session := walker.Walk(context.Background(), linkedTarget(1), NewSession(fixedClock{}.Now()))
	require.Equal(t, 1, session.Errors)
	require.Zero(t, session.Downloaded)
	require.Equal(t, []string{listOne}, fetcher.urls())

	store = newMemoryStore()
	store.insertErr = errors.New("disk full")
	fetcher = newScriptedFetcher().
		on(listOne, ok("one")).
		on("https://news.example/a", ok("a"))
	walker = newTestWalker(fetcher, extractor, store, &recordingPauser{}, WalkerConfig{})
	session = walker.Walk(context.Background(), linkedTarget(1), NewSession(fixedClock{}.Now()))
	require.Equal(t, 1, session.Errors)
	require.Zero(t, session.Downloaded)
}

func TestWalkerRobotsGate(t *testing.T) {
	fetcher := newScriptedFetcher().
		on(listOne, ok("one")).
		on("https://news.example/open", ok("open"))
	extractor := stubExtractor{listOne: {articles: []string{
		"https://news.example/private",
		"https://news.example/open",
	}}}

	robots := &MockRobotsPolicy{}
	robots.On("Allowed", mock.Anything, listOne).Return(true)
	robots.On("Allowed", mock.Anything, "https://news.example/private").Return(false)
	robots.On("Allowed", mock.Anything, "https://news.example/open").Return(true)

	walker := newTestWalker(fetcher, extractor, newMemoryStore(), &recordingPauser{}, WalkerConfig{}).
		WithRobots(robots)
	session := walker.Walk(context.Background(), linkedTarget(1), NewSession(fixedClock{}.Now()))

	require.Equal(t, 1, session.Disallowed)
	require.Equal(t, 1, session.Downloaded)
	require.Equal(t, []string{listOne, "https://news.example/open"}, fetcher.urls())
	robots.AssertExpectations(t)
}

func TestWalkerArchivesAndPublishesNewDocuments(t *testing.T) {
	fetcher := newScriptedFetcher().
		on(listOne, ok("one")).
		on("https://news.example/a", ok("body"))
	extractor := stubExtractor{listOne: {articles: []string{"https://news.example/a"}}}
	key := md5.Fingerprint("https://news.example/a")

	archive := &MockBlobStore{}
	archive.On("PutObject", mock.Anything, "raw/news/"+key+".html", archiveContentType, []byte("body")).
		Return("file:///tmp/raw/news/"+key+".html", nil)

	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, "documents", mock.MatchedBy(func(ev DocumentEvent) bool {
		return ev.URLHash == key && ev.BlobURI == "file:///tmp/raw/news/"+key+".html" &&
			ev.Bytes == 4 && ev.RunID == "run-42" && ev.SourceName == "news"
	})).Return("msg-1", nil)

	walker := newTestWalker(fetcher, extractor, newMemoryStore(), &recordingPauser{},
		WalkerConfig{ArchivePrefix: "/raw/", NotifyTopic: "documents"}).
		WithArchive(archive).
		WithPublisher(publisher)

	session := Session{RunID: "run-42"}
	session = walker.Walk(context.Background(), linkedTarget(1), session)

	require.Equal(t, 1, session.Downloaded)
	archive.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestWalkerSideEffectFailuresAreNotErrors(t *testing.T) {
	fetcher := newScriptedFetcher().
		on(listOne, ok("one")).
		on("https://news.example/a", ok("body"))
	extractor := stubExtractor{listOne: {articles: []string{"https://news.example/a"}}}

	archive := &MockBlobStore{}
	archive.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("bucket gone"))
	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("topic gone"))

	walker := newTestWalker(fetcher, extractor, newMemoryStore(), &recordingPauser{}, WalkerConfig{}).
		WithArchive(archive).
		WithPublisher(publisher)
	session := walker.Walk(context.Background(), linkedTarget(1), Session{})

	require.Equal(t, 1, session.Downloaded)
	require.Zero(t, session.Errors)
}

func TestWalkerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := newScriptedFetcher().on(listOne, ok("one"))
	walker := newTestWalker(fetcher, stubExtractor{}, newMemoryStore(), &recordingPauser{}, WalkerConfig{})

	session := walker.Walk(ctx, linkedTarget(3), Session{})
	require.Zero(t, session.PagesScanned)
	require.Empty(t, fetcher.urls())
}

func TestWalkerInterruptMidPageDoesNotCountPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := newScriptedFetcher().
		on(listOne, ok("one")).
		on("https://news.example/a", ok("a")).
		on("https://news.example/b", ok("b"))
	fetcher.onFetch = func(req FetchRequest) {
		if req.URL == "https://news.example/a" {
			cancel()
		}
	}
	extractor := stubExtractor{listOne: {
		articles: []string{"https://news.example/a", "https://news.example/b"},
		next:     listTwo,
	}}
	store := newMemoryStore()
	walker := newTestWalker(fetcher, extractor, store, &recordingPauser{}, WalkerConfig{})

	session := walker.Walk(ctx, linkedTarget(3), Session{})

	require.Zero(t, session.PagesScanned)
	require.Zero(t, session.Downloaded)
	require.Empty(t, store.docs)
	require.Equal(t, []string{listOne, "https://news.example/a"}, fetcher.urls())
}

func TestSanitizeSegment(t *testing.T) {
	require.Equal(t, "consultant_ru", sanitizeSegment("Consultant RU"))
	require.Equal(t, "unnamed", sanitizeSegment("  "))
	require.Equal(t, "a-b.c_d", sanitizeSegment("a-b.c_d"))
}
