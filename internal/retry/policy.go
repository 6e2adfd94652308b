// Package retry decides what happens after a failed delivery attempt:
// whether to retry, after what delay, or which terminal status to settle on.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/domain"
)

// Decision is the policy outcome for one failed attempt.
type Decision struct {
	// Retry is true when the message should be rescheduled.
	Retry bool
	// Delay is the wait before the next attempt. Only set when Retry.
	Delay time.Duration
	// Terminal is the status to settle on when not retrying.
	Terminal domain.DeliveryStatus
	// DeadLetter is true when the message should also land on the DLQ.
	// Set when the attempt ceiling is exhausted, not for auth or
	// permanent failures.
	DeadLetter bool
}

// Policy computes retry decisions from the failure classification and the
// per-channel attempt ceiling.
type Policy struct {
	maxAttempts     map[domain.Channel]int
	backoffBase     time.Duration
	backoffCap      time.Duration
	rateLimitBase   time.Duration
	rateLimitCap    time.Duration
	rateLimitJitter float64
	defaultCeiling  int
}

// Options tunes the backoff schedules. Zero values fall back to defaults.
type Options struct {
	MaxAttempts   map[domain.Channel]int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RateLimitBase time.Duration
	RateLimitCap  time.Duration
}

func NewPolicy(opts Options) *Policy {
	p := &Policy{
		maxAttempts:     opts.MaxAttempts,
		backoffBase:     opts.BackoffBase,
		backoffCap:      opts.BackoffCap,
		rateLimitBase:   opts.RateLimitBase,
		rateLimitCap:    opts.RateLimitCap,
		rateLimitJitter: 0.2,
		defaultCeiling:  5,
	}
	if p.backoffBase <= 0 {
		p.backoffBase = 3 * time.Second
	}
	if p.backoffCap <= 0 {
		p.backoffCap = 5 * time.Minute
	}
	if p.rateLimitBase <= 0 {
		p.rateLimitBase = 2 * time.Second
	}
	if p.rateLimitCap <= 0 {
		p.rateLimitCap = 15 * time.Minute
	}
	return p
}

// Ceiling returns the attempt ceiling for a channel.
func (p *Policy) Ceiling(channel domain.Channel) int {
	if n, ok := p.maxAttempts[channel]; ok && n > 0 {
		return n
	}
	return p.defaultCeiling
}

// Decide maps one failure onto a decision. retryCount is the number of
// attempts already recorded for the message, including the one that just
// failed.
func (p *Policy) Decide(class adapter.Classification, retryCount int, channel domain.Channel) Decision {
	switch class {
	case adapter.ClassAuth, adapter.ClassPermanent:
		// Retrying cannot change the outcome. Goes straight to FAILED
		// without touching the retry counter or the DLQ.
		return Decision{Terminal: domain.StatusFailed}
	}

	if retryCount >= p.Ceiling(channel) {
		return Decision{Terminal: domain.StatusFailed, DeadLetter: true}
	}

	switch class {
	case adapter.ClassRateLimit:
		return Decision{Retry: true, Delay: p.delay(p.rateLimitBase, 2.0, p.rateLimitJitter, p.rateLimitCap, retryCount)}
	default:
		return Decision{Retry: true, Delay: p.delay(p.backoffBase, 1.5, 0, p.backoffCap, retryCount)}
	}
}

// delay walks an exponential schedule to the attempt'th step. Steps are
// generated rather than computed in closed form so the jitter and cap
// semantics match the interval walker used elsewhere.
func (p *Policy) delay(base time.Duration, multiplier, jitter float64, cap time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = multiplier
	b.RandomizationFactor = jitter
	b.MaxInterval = cap
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > cap {
		d = cap
	}
	return d
}
