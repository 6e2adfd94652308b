package worker

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
)

// Pool wires one Worker per channel onto the bus. Each partition is consumed
// by a single goroutine so per-site ordering holds; a per-channel semaphore
// caps how many adapter calls run at once across partitions.
type Pool struct {
	bus         *bus.Bus
	workers     map[domain.Channel]*Worker
	concurrency int64
	logger      *zap.Logger
}

func NewPool(b *bus.Bus, workers map[domain.Channel]*Worker, concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{
		bus:         b,
		workers:     workers,
		concurrency: int64(concurrency),
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled and every consumer has drained its
// in-flight job.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for ch, w := range p.workers {
		sem := semaphore.NewWeighted(p.concurrency)
		channel, worker := ch, w
		g.Go(func() error {
			p.logger.Info("worker pool started",
				zap.String("channel", string(channel)),
				zap.Int64("concurrency", p.concurrency))
			p.bus.Consume(ctx, channel, func(jobCtx context.Context, job domain.DeliveryJob) error {
				if err := sem.Acquire(jobCtx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				return worker.Handle(jobCtx, job)
			})
			return nil
		})
	}
	return g.Wait()
}
