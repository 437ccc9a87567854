package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clock/system"
)

// SessionReporter renders the final session summary.
type SessionReporter interface {
	Report(Session)
}

// Engine runs every configured source in declaration order, one at a time,
// and reports the session when the run ends for any reason.
type Engine struct {
	sources  []CrawlTarget
	walker   *Walker
	reporter SessionReporter
	clock    Clock
	logger   *zap.Logger
}

// NewEngine wires the run orchestrator.
func NewEngine(sources []CrawlTarget, walker *Walker, reporter SessionReporter, clock Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = NewReporter(nil, logger)
	}
	return &Engine{
		sources:  sources,
		walker:   walker,
		reporter: reporter,
		clock:    clock,
		logger:   logger,
	}
}

// Run crawls all sources and returns the final session. The report is
// emitted from a deferred call, so it also runs on interruption and panic.
func (e *Engine) Run(ctx context.Context) (session Session) {
	session = NewSession(e.clock.Now())
	defer func() {
		session.FinishedAt = e.clock.Now()
		e.reporter.Report(session)
	}()

	e.logger.Info("Starting crawler",
		zap.String("run_id", session.RunID),
		zap.Int("sources", len(e.sources)),
	)

	for i, target := range e.sources {
		if err := ctx.Err(); err != nil {
			e.logStopped(err)
			return session
		}
		e.logger.Info("Processing source",
			zap.String("source", target.Name),
			zap.Int("index", i+1),
			zap.Int("of", len(e.sources)),
		)
		session = e.walker.Walk(ctx, target, session)
	}

	if err := ctx.Err(); err != nil {
		e.logStopped(err)
	}
	return session
}

func (e *Engine) logStopped(err error) {
	if errors.Is(err, context.Canceled) {
		e.logger.Warn("Crawler stopped by user")
		return
	}
	e.logger.Warn("Crawler stopped", zap.Error(err))
}
