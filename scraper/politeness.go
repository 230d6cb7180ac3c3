package scraper

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Gate is the politeness limiter consulted before every network attempt. It
// waits a random delay drawn uniformly from [minDelay, maxDelay] and then takes
// a token from a limiter shared by all workers, so parallel workers cannot
// burst past the configured request rate.
type Gate struct {
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
	sleep    Sleeper
	jitter   func(span time.Duration) time.Duration
}

// NewGate builds a gate. requestsPerSecond <= 0 disables the shared limiter.
func NewGate(minDelay, maxDelay time.Duration, requestsPerSecond float64) *Gate {
	g := &Gate{
		minDelay: minDelay,
		maxDelay: maxDelay,
		sleep:    sleepContext,
		jitter:   randomDuration,
	}
	if requestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return g
}

// Delay draws the next politeness delay.
func (g *Gate) Delay() time.Duration {
	span := g.maxDelay - g.minDelay
	if span <= 0 {
		return g.minDelay
	}
	return g.minDelay + g.jitter(span)
}

// Wait sleeps the jittered delay, then waits for the shared limiter.
func (g *Gate) Wait(ctx context.Context) error {
	if err := g.sleep(ctx, g.Delay()); err != nil {
		return err
	}
	if g.limiter != nil {
		return g.limiter.Wait(ctx)
	}
	return nil
}

// randomDuration returns a value in [0, span].
func randomDuration(span time.Duration) time.Duration {
	return rand.N(span + 1)
}
