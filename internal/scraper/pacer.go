package scraper

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces the minimum spacing between page loads against a host, plus
// randomized jitter so request timing does not look mechanical.
type Pacer struct {
	limiter *rate.Limiter
	jitter  time.Duration
}

// NewPacer creates a pacer with the given floor between requests and a random
// extra delay of up to jitter per request.
func NewPacer(minDelay, jitter time.Duration) *Pacer {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(minDelay), 1),
		jitter:  jitter,
	}
}

// Wait blocks until the next request is allowed, or until ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.jitter > 0 {
		d := time.Duration(rand.Int63n(int64(p.jitter)))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
