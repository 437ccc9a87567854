// Package crawler implements the listing-driven crawl engine: URL
// canonicalization, block detection, the bounded retry controller, the
// pagination walker and the session bookkeeping that is reported at the end
// of every run.
package crawler
