package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/domain"
)

// TransitionOpts carries the optional row updates that accompany a status
// transition. A nil Error clears last_error; a nil NextRetryAt clears the
// retry deadline, so only RETRYING transitions keep one.
type TransitionOpts struct {
	Error       *string
	RetryCount  *int
	NextRetryAt *time.Time
	Source      domain.HistorySource
}

// TransitionResult reports what the store did with a transition attempt.
// Applied=false means the pre→post pair was not in the allowed set: the row's
// status is unchanged, but Entry still records the attempt in the history
// stream.
type TransitionResult struct {
	Applied bool
	From    domain.DeliveryStatus
	Entry   *domain.StatusHistory
}

// MessageRepository defines all persistence operations for message logs and
// their status history. The pgx implementation is in pg_message_repo.go;
// tests use a hand-written mock (mock_message_repo.go).
type MessageRepository interface {
	// Insert persists a new intent together with its initial history entry.
	// If (site_id, message_id) already exists the stored row is returned
	// unchanged with replay=true.
	Insert(ctx context.Context, m *domain.MessageLog) (stored *domain.MessageLog, replay bool, err error)

	Find(ctx context.Context, siteID uuid.UUID, messageID string) (*domain.MessageLog, error)
	List(ctx context.Context, siteID uuid.UUID, filter domain.ListFilter) ([]*domain.MessageLog, int, error)

	// Transition atomically validates and applies a status change, appending
	// a history entry in the same transaction whether or not the change was
	// valid.
	Transition(ctx context.Context, siteID uuid.UUID, messageID string, next domain.DeliveryStatus, opts TransitionOpts) (*TransitionResult, error)

	History(ctx context.Context, siteID uuid.UUID, messageID string) ([]*domain.StatusHistory, error)

	// ClaimDueScheduled promotes due SCHEDULED rows to PENDING under
	// FOR UPDATE SKIP LOCKED so concurrent shards never double-promote.
	// Returned rows already carry status=PENDING and have history appended.
	ClaimDueScheduled(ctx context.Context, limit int) ([]*domain.MessageLog, error)

	// ClaimDueRetries returns RETRYING rows whose next_retry_at has passed,
	// clearing the deadline so a row is handed out once per scheduled retry.
	ClaimDueRetries(ctx context.Context, limit int) ([]*domain.MessageLog, error)

	// ClaimStalePending returns PENDING rows untouched for longer than
	// olderThan. Covers the crash window between status commit and publish.
	ClaimStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.MessageLog, error)
}

// SiteRepository defines persistence for tenants and their per-channel
// provider credentials.
type SiteRepository interface {
	SiteByAPIKeyDigest(ctx context.Context, digest string) (*domain.Site, error)
	Site(ctx context.Context, siteID uuid.UUID) (*domain.Site, error)

	ChannelConfig(ctx context.Context, siteID uuid.UUID, channel domain.Channel) (*domain.TenantChannelConfig, error)
	UpsertChannelConfig(ctx context.Context, cfg *domain.TenantChannelConfig) error
	DeleteChannelConfig(ctx context.Context, siteID uuid.UUID, channel domain.Channel) error
	ListChannelConfigs(ctx context.Context, siteID uuid.UUID) ([]*domain.TenantChannelConfig, error)
}
