package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/lifecycle"
)

const schedulerBatchSize = 100

// SchedulerWorker promotes due SCHEDULED messages to PENDING and publishes
// their delivery jobs. Promotion commits before publish; a publish that keeps
// failing leaves a PENDING row that the stale sweep re-publishes later, so a
// due message is delayed at worst, never lost.
//
// Multiple instances can run side by side: the claim query hands each row to
// exactly one of them.
type SchedulerWorker struct {
	machine *lifecycle.Machine
	bus     *bus.Bus
	tick    time.Duration
	logger  *zap.Logger
}

func NewSchedulerWorker(machine *lifecycle.Machine, b *bus.Bus, tick time.Duration, logger *zap.Logger) *SchedulerWorker {
	if tick <= 0 {
		tick = time.Second
	}
	return &SchedulerWorker{machine: machine, bus: b, tick: tick, logger: logger}
}

func (s *SchedulerWorker) Run(ctx context.Context) {
	s.logger.Info("scheduler worker started", zap.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			s.promote(ctx)
		}
	}
}

func (s *SchedulerWorker) promote(ctx context.Context) {
	promoted, err := s.machine.PromoteDue(ctx, schedulerBatchSize)
	if err != nil {
		s.logger.Error("scheduled promotion failed", zap.Error(err))
		return
	}

	for _, msg := range promoted {
		job := domain.DeliveryJob{
			MessageID: msg.MessageID,
			SiteID:    msg.SiteID,
			Channel:   msg.Channel,
			Attempt:   msg.RetryCount,
		}
		if err := publishWithRetry(ctx, s.bus, job); err != nil {
			s.logger.Error("publish after promotion failed, stale sweep will recover",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
		}
	}
}

// publishWithRetry retries a saturated-bus publish briefly before giving up.
func publishWithRetry(ctx context.Context, b *bus.Bus, job domain.DeliveryJob) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 5), ctx)
	return backoff.Retry(func() error {
		return b.Publish(ctx, job)
	}, policy)
}
