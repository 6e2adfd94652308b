package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/repository"
)

const retryBatchSize = 100

// RetryWorker re-publishes messages whose retry window has elapsed, and
// sweeps PENDING rows that sat unclaimed past the stale threshold. The sweep
// closes the crash window between a committed status change and its publish.
type RetryWorker struct {
	repo         repository.MessageRepository
	bus          *bus.Bus
	tick         time.Duration
	stalePending time.Duration
	logger       *zap.Logger
}

func NewRetryWorker(repo repository.MessageRepository, b *bus.Bus, tick, stalePending time.Duration, logger *zap.Logger) *RetryWorker {
	if tick <= 0 {
		tick = time.Second
	}
	if stalePending <= 0 {
		stalePending = 2 * time.Minute
	}
	return &RetryWorker{repo: repo, bus: b, tick: tick, stalePending: stalePending, logger: logger}
}

func (r *RetryWorker) Run(ctx context.Context) {
	r.logger.Info("retry worker started",
		zap.Duration("tick", r.tick),
		zap.Duration("stale_pending_after", r.stalePending))
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retry worker stopping")
			return
		case <-ticker.C:
			r.dispatchDueRetries(ctx)
			r.sweepStalePending(ctx)
		}
	}
}

func (r *RetryWorker) dispatchDueRetries(ctx context.Context) {
	due, err := r.repo.ClaimDueRetries(ctx, retryBatchSize)
	if err != nil {
		r.logger.Error("claiming due retries failed", zap.Error(err))
		return
	}

	for _, msg := range due {
		job := domain.DeliveryJob{
			MessageID: msg.MessageID,
			SiteID:    msg.SiteID,
			Channel:   msg.Channel,
			Attempt:   msg.RetryCount,
		}
		if err := publishWithRetry(ctx, r.bus, job); err != nil {
			// The claim cleared next_retry_at, so re-arm the deadline or
			// the row would never be picked up again.
			r.rearm(ctx, msg, err)
		}
	}
}

func (r *RetryWorker) rearm(ctx context.Context, msg *domain.MessageLog, cause error) {
	next := time.Now().UTC().Add(r.tick)
	reason := domain.CodeBusUnavailable
	_, err := r.repo.Transition(ctx, msg.SiteID, msg.MessageID, domain.StatusRetrying, repository.TransitionOpts{
		Error:       &reason,
		RetryCount:  &msg.RetryCount,
		NextRetryAt: &next,
		Source:      domain.SourceWorker,
	})
	if err != nil {
		r.logger.Error("re-arming retry deadline failed",
			zap.String("message_id", msg.MessageID),
			zap.NamedError("publish_error", cause),
			zap.Error(err))
		return
	}
	r.logger.Warn("retry publish failed, deadline re-armed",
		zap.String("message_id", msg.MessageID),
		zap.Error(cause))
}

func (r *RetryWorker) sweepStalePending(ctx context.Context) {
	stale, err := r.repo.ClaimStalePending(ctx, r.stalePending, retryBatchSize)
	if err != nil {
		r.logger.Error("stale pending sweep failed", zap.Error(err))
		return
	}

	for _, msg := range stale {
		job := domain.DeliveryJob{
			MessageID: msg.MessageID,
			SiteID:    msg.SiteID,
			Channel:   msg.Channel,
			Attempt:   msg.RetryCount,
		}
		if err := publishWithRetry(ctx, r.bus, job); err != nil {
			r.logger.Error("stale pending re-publish failed",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
			continue
		}
		r.logger.Info("stale pending message re-published",
			zap.String("message_id", msg.MessageID),
			zap.String("site_id", msg.SiteID.String()))
	}
}
