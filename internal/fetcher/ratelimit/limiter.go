// Package ratelimit throttles page fetches per site with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skairunner/commentater/internal/commentater"
	"github.com/skairunner/commentater/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained fetch rate per site. Zero or less disables limiting.
	RPS   float64
	Burst int
}

// Fetcher wraps another Fetcher so that every site gets its own token
// bucket. One Fetcher is shared by all workers of a process.
type Fetcher struct {
	next  commentater.Fetcher
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ commentater.Fetcher = (*Fetcher)(nil)

// New creates a rate-limited Fetcher around next.
func New(next commentater.Fetcher, cfg Config) *Fetcher {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	metrics.Init()
	return &Fetcher{
		next:     next,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch waits for a token for the URL's host, then delegates.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.Wait(ctx, rawURL); err != nil {
		return nil, err
	}
	return f.next.Fetch(ctx, rawURL)
}

// Wait blocks until a token is available for the URL's host.
func (f *Fetcher) Wait(ctx context.Context, rawURL string) error {
	site := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		site = u.Hostname()
	}
	limiter := f.limiterFor(site)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", site, err)
	}
	// An immediately available token is not a delay.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, waited)
	}
	return nil
}

func (f *Fetcher) limiterFor(site string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[site]
	if !ok {
		limiter = rate.NewLimiter(f.limit, f.burst)
		f.limiters[site] = limiter
	}
	return limiter
}
