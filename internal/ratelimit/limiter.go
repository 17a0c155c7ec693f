// Package ratelimit provides an optional token-bucket guard keyed by
// tenant. internal/app applies it to translated events in the output
// fan-out, before enrichment and sink sends. Disabled by default: the
// bounded queue's blocking put/take is the pipeline's canonical
// backpressure mechanism; this only stops a single tenant from taking
// every sink's capacity.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

type Config struct {
	EventsPerSecond float64
	Burst           int
}

// Limiter holds one golang.org/x/time/rate.Limiter per tenant, created
// lazily on first use so an idle tenant never allocates a bucket.
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg Config) *Limiter {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 1000
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.EventsPerSecond * 2)
	}
	return &Limiter{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether one event for tenant may proceed right now.
func (l *Limiter) Allow(tenant string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[tenant]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.EventsPerSecond), l.cfg.Burst)
		l.limiters[tenant] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
