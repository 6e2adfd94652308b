package adapter

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/domain"
)

// BreakerAdapter wraps another adapter with a circuit breaker so a dead
// provider sheds load fast instead of holding a worker for the full timeout
// on every attempt. An open breaker short-circuits to a TRANSIENT failure,
// which the retry policy treats like any other transient outcome.
type BreakerAdapter struct {
	inner   Adapter
	breaker *gobreaker.CircuitBreaker
}

// breakerTripError marks results the breaker should count as failures.
// Only transient failures trip the breaker: auth and permanent failures say
// nothing about provider health, and rate limits have their own backoff.
type breakerTripError struct{ result NormalizedResult }

func (e breakerTripError) Error() string { return e.result.Code }

// NewBreaker wraps inner for one channel. The breaker opens after five
// consecutive transient failures and probes again after 30 seconds.
func NewBreaker(channel domain.Channel, inner Adapter, logger *zap.Logger) *BreakerAdapter {
	settings := gobreaker.Settings{
		Name:    string(channel),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("adapter breaker state change",
				zap.String("channel", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerAdapter{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerAdapter) Send(ctx context.Context, creds SiteCredentials, req NormalizedRequest) NormalizedResult {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		res := b.inner.Send(ctx, creds, req)
		if res.Failed() && res.Classification == ClassTransient {
			return nil, breakerTripError{result: res}
		}
		return res, nil
	})
	if err != nil {
		if trip, ok := err.(breakerTripError); ok {
			return trip.result
		}
		// gobreaker.ErrOpenState or ErrTooManyRequests.
		return NormalizedResult{
			Status:         ResultFailure,
			Classification: ClassTransient,
			Code:           "BREAKER_OPEN",
			Message:        err.Error(),
		}
	}
	return out.(NormalizedResult)
}
