// Package service implements the intake tier: validate, persist, publish.
// The tenant scope comes exclusively from the request context; nothing in a
// request body can widen it.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/lifecycle"
	"github.com/heraldhq/herald/internal/repository"
	"github.com/heraldhq/herald/internal/tenant"
)

// MaxBulkSize caps the bulk endpoints.
const MaxBulkSize = 1000

// SubmitResult is the outcome of a single intake.
type SubmitResult struct {
	Message *domain.MessageLog
	// Replay is true when the (site_id, message_id) pair already existed
	// and the stored row was returned unchanged.
	Replay bool
}

type NotificationService struct {
	repo    repository.MessageRepository
	bus     *bus.Bus
	machine *lifecycle.Machine
	logger  *zap.Logger
}

func NewNotificationService(repo repository.MessageRepository, b *bus.Bus, machine *lifecycle.Machine, logger *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, bus: b, machine: machine, logger: logger}
}

// Submit accepts one immediate intent: validate, persist as PENDING, publish
// a delivery job. A replayed submission never mutates the stored row; if the
// stored row is still PENDING the job is re-published so a lost job cannot
// strand the message.
func (s *NotificationService) Submit(ctx context.Context, req domain.SubmitRequest) (*SubmitResult, error) {
	siteID, err := tenant.SiteID(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	msg := newMessageLog(siteID, req, domain.StatusPending, nil)
	stored, replay, err := s.repo.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	if replay {
		// At-least-once: re-publishing a PENDING replay is safe, the
		// worker is idempotent on status.
		if stored.Status == domain.StatusPending {
			if err := s.publish(ctx, stored); err != nil {
				s.logger.Warn("replay re-publish failed",
					zap.String("message_id", stored.MessageID), zap.Error(err))
			}
		}
		return &SubmitResult{Message: stored, Replay: true}, nil
	}

	if err := s.publish(ctx, stored); err != nil {
		// Row is committed; the caller retries, hits the replay path and
		// the publish is reattempted. The stale-pending sweep covers
		// callers that never retry.
		return nil, err
	}
	return &SubmitResult{Message: stored, Replay: false}, nil
}

// SubmitScheduled accepts one future-dated intent, persisted as SCHEDULED.
// No job is published; the scheduler promotes it when due.
func (s *NotificationService) SubmitScheduled(ctx context.Context, req domain.SubmitRequest) (*SubmitResult, error) {
	siteID, err := tenant.SiteID(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ScheduledAt == nil || !req.ScheduledAt.After(time.Now()) {
		return nil, domain.ErrScheduleInPast
	}

	msg := newMessageLog(siteID, req, domain.StatusScheduled, req.ScheduledAt)
	stored, replay, err := s.repo.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Message: stored, Replay: replay}, nil
}

// SubmitBulk processes up to MaxBulkSize intents independently. One bad entry
// fails alone; the response carries a per-entry outcome in request order.
func (s *NotificationService) SubmitBulk(ctx context.Context, req domain.BulkRequest, scheduled bool) ([]domain.BulkResult, error) {
	if len(req.Notifications) == 0 {
		return nil, domain.ErrBulkEmpty
	}
	if len(req.Notifications) > MaxBulkSize {
		return nil, domain.ErrBulkTooLarge
	}

	results := make([]domain.BulkResult, len(req.Notifications))
	for i, entry := range req.Notifications {
		var (
			res *SubmitResult
			err error
		)
		if scheduled {
			res, err = s.SubmitScheduled(ctx, entry)
		} else {
			res, err = s.Submit(ctx, entry)
		}
		if err != nil {
			results[i] = domain.BulkResult{
				Index: i,
				Code:  bulkErrorCode(err),
				Error: err.Error(),
			}
			continue
		}
		results[i] = domain.BulkResult{
			Index:     i,
			MessageID: res.Message.MessageID,
			Status:    string(res.Message.Status),
			Replay:    res.Replay,
		}
	}
	return results, nil
}

// Cancel rejects a message that has not reached the send path yet. Terminal
// rows conflict; rows already handed to a worker (SENT) cannot be recalled
// and conflict as well.
func (s *NotificationService) Cancel(ctx context.Context, messageID string) (*domain.MessageLog, error) {
	siteID, err := tenant.SiteID(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := s.repo.Find(ctx, siteID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Status.IsTerminal() {
		return nil, domain.ErrTerminalConflict
	}

	reason := "CANCELLED"
	res, err := s.machine.Transition(ctx, siteID, messageID, msg.Channel, domain.StatusRejected, repository.TransitionOpts{
		Error:  &reason,
		Source: domain.SourceAPI,
	})
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		// Lost the race with a worker; the message moved on.
		return nil, domain.ErrTerminalConflict
	}
	return s.repo.Find(ctx, siteID, messageID)
}

// Get returns one tenant-scoped message. A foreign tenant's message is
// indistinguishable from a missing one.
func (s *NotificationService) Get(ctx context.Context, messageID string) (*domain.MessageLog, error) {
	siteID, err := tenant.SiteID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, siteID, messageID)
}

// History returns the full status stream for one message, oldest first.
func (s *NotificationService) History(ctx context.Context, messageID string) ([]*domain.StatusHistory, error) {
	siteID, err := tenant.SiteID(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.Find(ctx, siteID, messageID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, siteID, messageID)
}

// List returns a filtered, paginated page of the tenant's messages plus the
// total match count.
func (s *NotificationService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.MessageLog, int, error) {
	siteID, err := tenant.SiteID(ctx)
	if err != nil {
		return nil, 0, err
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.repo.List(ctx, siteID, filter)
}

func (s *NotificationService) publish(ctx context.Context, msg *domain.MessageLog) error {
	return s.bus.Publish(ctx, domain.DeliveryJob{
		MessageID: msg.MessageID,
		SiteID:    msg.SiteID,
		Channel:   msg.Channel,
		Attempt:   msg.RetryCount,
	})
}

func newMessageLog(siteID uuid.UUID, req domain.SubmitRequest, status domain.DeliveryStatus, scheduledAt *time.Time) *domain.MessageLog {
	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return &domain.MessageLog{
		SiteID:      siteID,
		MessageID:   messageID,
		Channel:     req.Channel,
		Recipient:   req.Recipient,
		Payload:     req.Payload,
		Status:      status,
		ScheduledAt: scheduledAt,
	}
}

func bulkErrorCode(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return domain.CodeValidationFailed
	case errors.Is(err, domain.ErrScheduleInPast):
		return domain.CodeValidationFailed
	case errors.Is(err, domain.ErrBusUnavailable):
		return domain.CodeBusUnavailable
	case errors.Is(err, domain.ErrStorageUnavailable):
		return domain.CodeStorageUnavailable
	default:
		return domain.CodeStorageUnavailable
	}
}
