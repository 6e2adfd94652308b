package ratelimiter

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SiteLimiters holds one token bucket per site, created lazily on first use.
// Each bucket enforces a steady-state per-tenant rate so a noisy tenant's
// retries cannot monopolise a worker pool. Burst is set equal to the rate so
// no extra burst capacity accumulates above the per-second maximum.
type SiteLimiters struct {
	mu         sync.Mutex
	ratePerSec int
	limiters   map[uuid.UUID]*rate.Limiter
}

// New creates a SiteLimiters granting ratePerSec tokens per second per site.
func New(ratePerSec int) *SiteLimiters {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &SiteLimiters{
		ratePerSec: ratePerSec,
		limiters:   make(map[uuid.UUID]*rate.Limiter),
	}
}

func (sl *SiteLimiters) limiter(siteID uuid.UUID) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	l, ok := sl.limiters[siteID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(sl.ratePerSec), sl.ratePerSec)
		sl.limiters[siteID] = l
	}
	return l
}

// Wait blocks until the site's limiter grants a token.
// Called by each worker immediately before the adapter call.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (sl *SiteLimiters) Wait(ctx context.Context, siteID uuid.UUID) error {
	return sl.limiter(siteID).Wait(ctx)
}
