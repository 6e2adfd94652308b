// Package lifecycle owns the delivery state machine. Every status change in
// the system (worker outcomes, scheduler promotions, API cancellations)
// funnels through Machine, which is the sole emitter of transition metrics.
// The storage trigger that mirrors status changes writes source=TRIGGER rows
// and is deliberately invisible here, so a transition is counted exactly once.
package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/repository"
)

// Hooks carries the metric callbacks injected by main. Either may be nil.
type Hooks struct {
	OnTransition func(channel domain.Channel, status domain.DeliveryStatus)
	OnInvalid    func(channel domain.Channel)
}

type Machine struct {
	repo   repository.MessageRepository
	hooks  Hooks
	logger *zap.Logger
}

func NewMachine(repo repository.MessageRepository, hooks Hooks, logger *zap.Logger) *Machine {
	if hooks.OnTransition == nil {
		hooks.OnTransition = func(domain.Channel, domain.DeliveryStatus) {}
	}
	if hooks.OnInvalid == nil {
		hooks.OnInvalid = func(domain.Channel) {}
	}
	return &Machine{repo: repo, hooks: hooks, logger: logger}
}

// Transition attempts a status change. Invalid pre→post pairs leave the row
// untouched but still land in the history stream; the attempt is logged and
// counted separately so a misbehaving writer is visible without corrupting
// the log.
func (m *Machine) Transition(
	ctx context.Context,
	siteID uuid.UUID,
	messageID string,
	channel domain.Channel,
	next domain.DeliveryStatus,
	opts repository.TransitionOpts,
) (*repository.TransitionResult, error) {
	res, err := m.repo.Transition(ctx, siteID, messageID, next, opts)
	if err != nil {
		return nil, err
	}

	if res.Applied {
		m.hooks.OnTransition(channel, next)
		return res, nil
	}

	m.hooks.OnInvalid(channel)
	m.logger.Error("invalid status transition attempted",
		zap.String("site_id", siteID.String()),
		zap.String("message_id", messageID),
		zap.String("from", string(res.From)),
		zap.String("to", string(next)),
	)
	return res, nil
}

// PromoteDue claims due SCHEDULED rows (SKIP LOCKED under the hood) and
// reports each promotion to the metric hook. The rows come back already
// PENDING with history appended.
func (m *Machine) PromoteDue(ctx context.Context, limit int) ([]*domain.MessageLog, error) {
	promoted, err := m.repo.ClaimDueScheduled(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, msg := range promoted {
		m.hooks.OnTransition(msg.Channel, domain.StatusPending)
	}
	return promoted, nil
}
