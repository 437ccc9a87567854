package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/metrics"
)

// Retry defaults.
const (
	DefaultMaxAttempts     = 3
	DefaultCaptchaCooldown = 60 * time.Second
)

// RetryConfig controls the bounded retry policy.
type RetryConfig struct {
	MaxAttempts     int
	CaptchaCooldown time.Duration
}

// RetryController wraps a Fetcher and a Detector in the bounded retry policy:
// network errors back off for delay*2*attempt plus jitter, blocks cool down
// for a fixed period, and every other outcome is final on the first attempt.
type RetryController struct {
	fetcher     Fetcher
	detector    Detector
	pacer       *Pacer
	limiter     Limiter
	maxAttempts int
	cooldown    time.Duration
	logger      *zap.Logger
}

// NewRetryController builds a controller. The pacer supplies the backoff base
// delay, the jitter and the pauser used for every sleep.
func NewRetryController(
	fetcher Fetcher,
	detector Detector,
	pacer *Pacer,
	limiter Limiter,
	cfg RetryConfig,
	logger *zap.Logger,
) *RetryController {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CaptchaCooldown <= 0 {
		cfg.CaptchaCooldown = DefaultCaptchaCooldown
	}
	if detector == nil {
		detector = NewBlockDetector(0, nil)
	}
	if pacer == nil {
		pacer = NewPacer(0, Jitter{}, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryController{
		fetcher:     fetcher,
		detector:    detector,
		pacer:       pacer,
		limiter:     limiter,
		maxAttempts: cfg.MaxAttempts,
		cooldown:    cfg.CaptchaCooldown,
		logger:      logger,
	}
}

// Fetch runs the retry state machine for one URL and returns the final
// outcome. It never returns an error; a request that gives up carries no body.
func (c *RetryController) Fetch(ctx context.Context, rawURL, referer string) Outcome {
	request := FetchRequest{URL: rawURL, Referer: referer}
	log := c.logger.With(zap.String("url", rawURL))

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return c.abandon(rawURL, attempt-1, err)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				return c.abandon(rawURL, attempt-1, err)
			}
		}

		resp, err := c.fetcher.Fetch(ctx, request)
		result := Classify(resp, err, c.detector)
		metrics.ObserveFetchAttempt(metrics.SanitizeSite(rawURL), result.Kind.String())

		out := Outcome{
			URL:        rawURL,
			Kind:       result.Kind,
			StatusCode: result.StatusCode,
			Attempts:   attempt,
			Reason:     result.Reason,
			Err:        result.Err,
		}
		final := attempt == c.maxAttempts

		switch result.Kind {
		case ResultSuccess:
			out.Body = result.Body
			return out

		case ResultNotFound:
			log.Warn("Page not found", zap.Int("status_code", result.StatusCode))
			return out

		case ResultOtherStatus:
			log.Warn("Non-200 status", zap.Int("status_code", result.StatusCode))
			return out

		case ResultBlocked:
			log.Error("Captcha detected",
				zap.String("reason", result.Reason),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.maxAttempts),
			)
			log.Warn("Pausing after block", zap.Duration("delay", c.cooldown))
			metrics.ObserveBackoff(result.Kind.String(), c.cooldown)
			if err := c.pacer.pauser.Pause(ctx, c.cooldown); err != nil {
				return c.abandon(rawURL, attempt, err)
			}
			if final {
				return out
			}

		case ResultNetworkError:
			delay := c.pacer.Delay(2 * attempt)
			log.Error("Network error",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(result.Err),
			)
			metrics.ObserveBackoff(result.Kind.String(), delay)
			if err := c.pacer.pauser.Pause(ctx, delay); err != nil {
				return c.abandon(rawURL, attempt, err)
			}
			if final {
				return out
			}

		default:
			log.Error("Unexpected error fetching URL", zap.Int("attempt", attempt), zap.Error(result.Err))
			return out
		}
	}

	// Unreachable while maxAttempts > 0.
	return Outcome{URL: rawURL, Kind: ResultUnexpected, Attempts: c.maxAttempts}
}

func (c *RetryController) abandon(rawURL string, attempts int, err error) Outcome {
	c.logger.Info("Request abandoned", zap.String("url", rawURL), zap.Int("attempts", attempts), zap.Error(err))
	return Outcome{URL: rawURL, Kind: ResultUnexpected, Attempts: attempts, Err: err}
}

// Classify turns one raw fetch into a FetchResult. The detector runs before
// the status code is interpreted, so a 200 wall page is still blocked.
func Classify(resp FetchResponse, err error, detector Detector) FetchResult {
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return FetchResult{Kind: ResultNetworkError, Err: err}
		}
		return FetchResult{Kind: ResultUnexpected, Err: err}
	}
	if reason, blocked := detector.Detect(resp.Body, resp.StatusCode); blocked {
		return FetchResult{Kind: ResultBlocked, StatusCode: resp.StatusCode, Reason: reason}
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return FetchResult{Kind: ResultSuccess, StatusCode: resp.StatusCode, Body: resp.Body}
	case http.StatusNotFound:
		return FetchResult{Kind: ResultNotFound, StatusCode: resp.StatusCode}
	default:
		return FetchResult{Kind: ResultOtherStatus, StatusCode: resp.StatusCode}
	}
}
