// Package worker executes delivery jobs from the dispatch bus and runs the
// background loops that feed it (scheduler promotion, due retries, stale
// sweep).
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/credentials"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/lifecycle"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/ratelimiter"
	"github.com/heraldhq/herald/internal/repository"
	"github.com/heraldhq/herald/internal/retry"
)

// Worker handles delivery jobs for one channel. Handlers are idempotent on
// the stored status: absent, terminal and already-progressed messages are
// acked without a provider call, so at-least-once redelivery is harmless.
type Worker struct {
	channel  domain.Channel
	repo     repository.MessageRepository
	machine  *lifecycle.Machine
	resolver *credentials.Resolver
	adapter  adapter.Adapter
	limiter  *ratelimiter.SiteLimiters
	policy   *retry.Policy
	bus      *bus.Bus
	metrics  *metrics.Metrics
	timeout  time.Duration
	logger   *zap.Logger
}

type Deps struct {
	Repo     repository.MessageRepository
	Machine  *lifecycle.Machine
	Resolver *credentials.Resolver
	Adapter  adapter.Adapter
	Limiter  *ratelimiter.SiteLimiters
	Policy   *retry.Policy
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	// Timeout bounds one adapter round trip for this channel.
	Timeout time.Duration
	Logger  *zap.Logger
}

func New(channel domain.Channel, deps Deps) *Worker {
	if deps.Timeout <= 0 {
		deps.Timeout = 10 * time.Second
	}
	return &Worker{
		channel:  channel,
		repo:     deps.Repo,
		machine:  deps.Machine,
		resolver: deps.Resolver,
		adapter:  deps.Adapter,
		limiter:  deps.Limiter,
		policy:   deps.Policy,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		timeout:  deps.Timeout,
		logger:   deps.Logger.With(zap.String("channel", string(channel))),
	}
}

// Handle processes one job. Returning nil acks; returning an error leaves the
// job for redelivery. Outcomes that retrying the job cannot change are always
// acked.
func (w *Worker) Handle(ctx context.Context, job domain.DeliveryJob) error {
	log := w.logger.With(
		zap.String("site_id", job.SiteID.String()),
		zap.String("message_id", job.MessageID),
		zap.Int("attempt", job.Attempt),
	)

	msg, err := w.repo.Find(ctx, job.SiteID, job.MessageID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("job references missing message, acking")
		return nil
	}
	if err != nil {
		return err
	}

	// Redelivery of a job whose message already moved on. Covers duplicate
	// publishes and redeliveries after a crash mid-handling.
	if msg.Status.IsTerminal() || msg.Status == domain.StatusSent {
		return nil
	}
	if job.Attempt < msg.RetryCount {
		log.Debug("stale attempt, acking", zap.Int("retry_count", msg.RetryCount))
		return nil
	}
	if msg.Status != domain.StatusPending && msg.Status != domain.StatusRetrying {
		log.Warn("message not in a dispatchable status, acking",
			zap.String("status", string(msg.Status)))
		return nil
	}

	if err := w.limiter.Wait(ctx, job.SiteID); err != nil {
		return err
	}

	creds, err := w.resolver.Resolve(ctx, job.SiteID, w.channel)
	if errors.Is(err, domain.ErrCredentialsMissing) {
		return w.fail(ctx, msg, domain.CodeCredentialsMissing, err.Error())
	}
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	started := time.Now()
	result := w.adapter.Send(sendCtx, creds, adapter.NormalizedRequest{
		SiteID:    msg.SiteID,
		MessageID: msg.MessageID,
		Channel:   msg.Channel,
		Recipient: msg.Recipient,
		Payload:   msg.Payload,
	})
	w.metrics.ObserveDelivery(w.channel, time.Since(started))

	switch result.Status {
	case adapter.ResultAccepted:
		return w.transition(ctx, msg, domain.StatusSent, repository.TransitionOpts{Source: domain.SourceWorker})
	case adapter.ResultDelivered:
		if err := w.transition(ctx, msg, domain.StatusSent, repository.TransitionOpts{Source: domain.SourceWorker}); err != nil {
			return err
		}
		return w.transition(ctx, msg, domain.StatusDelivered, repository.TransitionOpts{Source: domain.SourceWorker})
	default:
		return w.handleFailure(ctx, msg, job, result, log)
	}
}

func (w *Worker) handleFailure(ctx context.Context, msg *domain.MessageLog, job domain.DeliveryJob, result adapter.NormalizedResult, log *zap.Logger) error {
	attempted := msg.RetryCount + 1
	decision := w.policy.Decide(result.Classification, attempted, w.channel)
	reason := fmt.Sprintf("%s: %s", result.Code, result.Message)

	if decision.Retry {
		next := time.Now().UTC().Add(decision.Delay)
		err := w.transition(ctx, msg, domain.StatusRetrying, repository.TransitionOpts{
			Error:       &reason,
			RetryCount:  &attempted,
			NextRetryAt: &next,
			Source:      domain.SourceWorker,
		})
		if err != nil {
			return err
		}
		w.metrics.RetryScheduled(w.channel, string(result.Classification))
		log.Info("retry scheduled",
			zap.String("classification", string(result.Classification)),
			zap.Time("next_retry_at", next))
		return nil
	}

	log.Warn("delivery failed terminally",
		zap.String("classification", string(result.Classification)),
		zap.String("code", result.Code))
	if decision.DeadLetter {
		w.bus.DeadLetter(job, result.Code, result.Message)
	}
	return w.fail(ctx, msg, result.Code, result.Message)
}

func (w *Worker) fail(ctx context.Context, msg *domain.MessageLog, code, message string) error {
	reason := code
	if message != "" {
		reason = fmt.Sprintf("%s: %s", code, message)
	}
	return w.transition(ctx, msg, domain.StatusFailed, repository.TransitionOpts{
		Error:  &reason,
		Source: domain.SourceWorker,
	})
}

func (w *Worker) transition(ctx context.Context, msg *domain.MessageLog, next domain.DeliveryStatus, opts repository.TransitionOpts) error {
	res, err := w.machine.Transition(ctx, msg.SiteID, msg.MessageID, w.channel, next, opts)
	if err != nil {
		return err
	}
	if res.Applied {
		msg.Status = next
		if opts.RetryCount != nil {
			msg.RetryCount = *opts.RetryCount
		}
	}
	// An unapplied transition means another writer won the race; the
	// attempt is in the history stream and the job is acked.
	return nil
}
