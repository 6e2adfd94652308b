// Package bus is the in-process dispatch bus: one topic per channel, each
// split into partitions keyed by site_id so a tenant's jobs are always
// consumed in publish order, plus a dead-letter store per channel.
//
// Delivery is at-least-once: a handler error leaves the job in place and it
// is redelivered with a bumped delivery count; consumers must be idempotent
// on (site_id, message_id, attempt). Jobs carry identifiers only; secrets
// never ride the bus.
package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/domain"
)

// Handler processes one delivery job. Returning nil acks the job; returning
// an error triggers redelivery until the poison ceiling moves it to the DLQ.
type Handler func(ctx context.Context, job domain.DeliveryJob) error

// DeadLetter is one parked job with the last classification attached.
type DeadLetter struct {
	Job    domain.DeliveryJob `json:"job"`
	Code   string             `json:"code"`
	Reason string             `json:"reason"`
	At     time.Time          `json:"at"`
}

// Config mirrors the bus.* configuration keys.
type Config struct {
	Topics     map[domain.Channel]string
	DLQTopics  map[domain.Channel]string
	Partitions int
	BufferSize int
	// MaxDeliveries is the per-job redelivery ceiling before the job is
	// declared poison and parked on the DLQ.
	MaxDeliveries int
}

type dlqStore struct {
	mu      sync.Mutex
	entries []DeadLetter
}

type Bus struct {
	cfg    Config
	logger *zap.Logger

	partitions map[domain.Channel][]chan domain.DeliveryJob
	dlq        map[domain.Channel]*dlqStore
	closed     atomic.Bool
}

func New(cfg Config, logger *zap.Logger) *Bus {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}

	b := &Bus{
		cfg:        cfg,
		logger:     logger,
		partitions: make(map[domain.Channel][]chan domain.DeliveryJob),
		dlq:        make(map[domain.Channel]*dlqStore),
	}
	for _, ch := range domain.Channels {
		parts := make([]chan domain.DeliveryJob, cfg.Partitions)
		for i := range parts {
			parts[i] = make(chan domain.DeliveryJob, cfg.BufferSize)
		}
		b.partitions[ch] = parts
		b.dlq[ch] = &dlqStore{}
	}
	return b
}

// partitionFor hashes the site ID so all of a tenant's jobs land on one
// partition, preserving per-site ordering.
func (b *Bus) partitionFor(siteID [16]byte) int {
	h := fnv.New32a()
	h.Write(siteID[:]) //nolint:errcheck
	return int(h.Sum32()) % b.cfg.Partitions
}

// Publish places a job on its channel topic. Non-blocking: a saturated
// partition surfaces ErrBusUnavailable so the intake tier can return a
// retryable 5xx instead of stalling the request.
func (b *Bus) Publish(_ context.Context, job domain.DeliveryJob) error {
	if b.closed.Load() {
		return domain.ErrBusUnavailable
	}
	parts, ok := b.partitions[job.Channel]
	if !ok {
		return fmt.Errorf("%w: no topic for channel %q", domain.ErrBusUnavailable, job.Channel)
	}

	select {
	case parts[b.partitionFor(job.SiteID)] <- job:
		return nil
	default:
		return fmt.Errorf("%w: topic %s saturated", domain.ErrBusUnavailable, b.cfg.Topics[job.Channel])
	}
}

// Consume runs one consumer goroutine per partition and blocks until ctx is
// cancelled and all in-flight jobs have finished. Within a partition jobs are
// processed strictly in order; a failing job is retried in place with a short
// backoff rather than requeued, so it cannot overtake its successors.
func (b *Bus) Consume(ctx context.Context, channel domain.Channel, handler Handler) {
	var wg sync.WaitGroup
	for i, part := range b.partitions[channel] {
		wg.Add(1)
		go func(partition int, jobs <-chan domain.DeliveryJob) {
			defer wg.Done()
			b.consumePartition(ctx, channel, partition, jobs, handler)
		}(i, part)
	}
	wg.Wait()
}

func (b *Bus) consumePartition(ctx context.Context, channel domain.Channel, partition int, jobs <-chan domain.DeliveryJob, handler Handler) {
	log := b.logger.With(
		zap.String("topic", b.cfg.Topics[channel]),
		zap.Int("partition", partition),
	)
	log.Info("bus consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("bus consumer stopping")
			return
		case job := <-jobs:
			b.deliver(ctx, channel, job, handler, log)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, channel domain.Channel, job domain.DeliveryJob, handler Handler, log *zap.Logger) {
	for delivery := 1; ; delivery++ {
		err := handler(ctx, job)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			// Shutdown mid-job: abandon without ack; the stale-pending sweep
			// re-publishes after restart.
			return
		}

		log.Warn("job handler failed",
			zap.String("message_id", job.MessageID),
			zap.Int("delivery", delivery),
			zap.Error(err),
		)

		if delivery >= b.cfg.MaxDeliveries {
			b.DeadLetter(job, "MAX_DELIVERIES", err.Error())
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(delivery) * 100 * time.Millisecond):
		}
	}
}

// DeadLetter parks a job on the channel's DLQ with the last classification.
func (b *Bus) DeadLetter(job domain.DeliveryJob, code, reason string) {
	store := b.dlq[job.Channel]
	if store == nil {
		return
	}
	store.mu.Lock()
	store.entries = append(store.entries, DeadLetter{
		Job:    job,
		Code:   code,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	store.mu.Unlock()

	b.logger.Error("job dead-lettered",
		zap.String("topic", b.cfg.DLQTopics[job.Channel]),
		zap.String("message_id", job.MessageID),
		zap.String("site_id", job.SiteID.String()),
		zap.String("code", code),
	)
}

// DLQEntries returns a copy of the channel's dead-letter store.
func (b *Bus) DLQEntries(channel domain.Channel) []DeadLetter {
	store := b.dlq[channel]
	if store == nil {
		return nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	out := make([]DeadLetter, len(store.entries))
	copy(out, store.entries)
	return out
}

// Depths returns the number of jobs waiting per topic, for the depth gauges
// and the admin snapshot endpoint.
func (b *Bus) Depths() map[string]int {
	depths := make(map[string]int, len(b.partitions))
	for ch, parts := range b.partitions {
		total := 0
		for _, p := range parts {
			total += len(p)
		}
		depths[b.cfg.Topics[ch]] = total
	}
	return depths
}

// DLQDepths returns the number of parked jobs per channel.
func (b *Bus) DLQDepths() map[domain.Channel]int {
	depths := make(map[domain.Channel]int, len(b.dlq))
	for ch, store := range b.dlq {
		store.mu.Lock()
		depths[ch] = len(store.entries)
		store.mu.Unlock()
	}
	return depths
}

// Close stops accepting publishes. Consumers drain via their context.
func (b *Bus) Close() {
	b.closed.Store(true)
}
