package crawler

import (
	"context"
	"math/rand/v2"
	"time"
)

// TimerPauser implements Pauser with a timer that also watches the context.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Jitter draws a random extra delay from a closed range.
type Jitter struct {
	Min time.Duration
	Max time.Duration
	// draw returns a value in [0, n); tests replace it.
	draw func(n int64) int64
}

// NewJitter builds a uniform jitter source. A reversed range is swapped.
func NewJitter(lo, hi time.Duration) Jitter {
	if hi < lo {
		lo, hi = hi, lo
	}
	return Jitter{Min: lo, Max: hi}
}

// Next returns a duration in [Min, Max].
func (j Jitter) Next() time.Duration {
	span := int64(j.Max - j.Min)
	if span <= 0 {
		return j.Min
	}
	draw := j.draw
	if draw == nil {
		draw = rand.Int64N
	}
	return j.Min + time.Duration(draw(span+1))
}

// Pacer applies the baseline politeness delay between requests to a source.
type Pacer struct {
	base   time.Duration
	jitter Jitter
	pauser Pauser
}

// NewPacer returns a Pacer that waits base plus jitter.
func NewPacer(base time.Duration, jitter Jitter, pauser Pauser) *Pacer {
	if pauser == nil {
		pauser = TimerPauser{}
	}
	return &Pacer{base: base, jitter: jitter, pauser: pauser}
}

// Wait pauses for one baseline delay.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.pauser.Pause(ctx, p.Delay(1))
}

// Delay returns base*factor plus a fresh jitter draw.
func (p *Pacer) Delay(factor int) time.Duration {
	return p.base*time.Duration(factor) + p.jitter.Next()
}
