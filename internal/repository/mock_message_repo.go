package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/domain"
)

type messageKey struct {
	siteID    uuid.UUID
	messageID string
}

// MockMessageRepository is a hand-written, in-memory implementation of
// MessageRepository used in unit tests. It applies the same transition and
// history semantics as the PostgreSQL implementation (minus the
// source=TRIGGER mirror, which only exists at the storage level).
type MockMessageRepository struct {
	mu       sync.RWMutex
	messages map[messageKey]*domain.MessageLog
	history  map[messageKey][]*domain.StatusHistory
	nextID   int64

	// Optional error overrides, set in tests to simulate failure paths.
	InsertErr     error
	FindErr       error
	TransitionErr error
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		messages: make(map[messageKey]*domain.MessageLog),
		history:  make(map[messageKey][]*domain.StatusHistory),
	}
}

func (m *MockMessageRepository) appendHistoryLocked(key messageKey, status domain.DeliveryStatus, errMsg *string, retryCount int, source domain.HistorySource) *domain.StatusHistory {
	m.nextID++
	entry := &domain.StatusHistory{
		ID:           m.nextID,
		SiteID:       key.siteID,
		MessageID:    key.messageID,
		Status:       status,
		ErrorMessage: errMsg,
		RetryCount:   retryCount,
		Source:       source,
		Timestamp:    time.Now().UTC(),
	}
	m.history[key] = append(m.history[key], entry)
	return entry
}

func (m *MockMessageRepository) Insert(_ context.Context, msg *domain.MessageLog) (*domain.MessageLog, bool, error) {
	if m.InsertErr != nil {
		return nil, false, m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := messageKey{msg.SiteID, msg.MessageID}
	if existing, ok := m.messages[key]; ok {
		clone := *existing
		return &clone, true, nil
	}

	clone := *msg
	m.messages[key] = &clone
	m.appendHistoryLocked(key, msg.Status, nil, msg.RetryCount, domain.SourceAPI)
	return msg, false, nil
}

func (m *MockMessageRepository) Find(_ context.Context, siteID uuid.UUID, messageID string) (*domain.MessageLog, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[messageKey{siteID, messageID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

func (m *MockMessageRepository) List(_ context.Context, siteID uuid.UUID, f domain.ListFilter) ([]*domain.MessageLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.MessageLog
	for key, msg := range m.messages {
		if key.siteID != siteID {
			continue
		}
		if f.Status != nil && msg.Status != *f.Status {
			continue
		}
		if f.Channel != nil && msg.Channel != *f.Channel {
			continue
		}
		clone := *msg
		result = append(result, &clone)
	}
	return result, len(result), nil
}

func (m *MockMessageRepository) Transition(_ context.Context, siteID uuid.UUID, messageID string, next domain.DeliveryStatus, opts TransitionOpts) (*TransitionResult, error) {
	if m.TransitionErr != nil {
		return nil, m.TransitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := messageKey{siteID, messageID}
	msg, ok := m.messages[key]
	if !ok {
		return nil, domain.ErrNotFound
	}

	source := opts.Source
	if source == "" {
		source = domain.SourceAPI
	}

	retryCount := msg.RetryCount
	if opts.RetryCount != nil {
		retryCount = *opts.RetryCount
	}

	from := msg.Status
	applied := from.CanTransition(next)
	if applied {
		msg.Status = next
		msg.LastError = opts.Error
		msg.RetryCount = retryCount
		msg.NextRetryAt = opts.NextRetryAt
		msg.UpdatedAt = time.Now().UTC()
	}

	entry := m.appendHistoryLocked(key, next, opts.Error, retryCount, source)
	return &TransitionResult{Applied: applied, From: from, Entry: entry}, nil
}

func (m *MockMessageRepository) History(_ context.Context, siteID uuid.UUID, messageID string) ([]*domain.StatusHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.history[messageKey{siteID, messageID}]
	result := make([]*domain.StatusHistory, len(entries))
	for i, e := range entries {
		clone := *e
		result[i] = &clone
	}
	return result, nil
}

func (m *MockMessageRepository) ClaimDueScheduled(_ context.Context, limit int) ([]*domain.MessageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var claimed []*domain.MessageLog
	for key, msg := range m.messages {
		if len(claimed) >= limit {
			break
		}
		if msg.Status != domain.StatusScheduled || msg.ScheduledAt == nil || msg.ScheduledAt.After(now) {
			continue
		}
		msg.Status = domain.StatusPending
		msg.UpdatedAt = now
		m.appendHistoryLocked(key, domain.StatusPending, nil, msg.RetryCount, domain.SourceAPI)
		clone := *msg
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (m *MockMessageRepository) ClaimDueRetries(_ context.Context, limit int) ([]*domain.MessageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var claimed []*domain.MessageLog
	for _, msg := range m.messages {
		if len(claimed) >= limit {
			break
		}
		if msg.Status != domain.StatusRetrying || msg.NextRetryAt == nil || msg.NextRetryAt.After(now) {
			continue
		}
		msg.NextRetryAt = nil
		clone := *msg
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (m *MockMessageRepository) ClaimStalePending(_ context.Context, olderThan time.Duration, limit int) ([]*domain.MessageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var claimed []*domain.MessageLog
	for _, msg := range m.messages {
		if len(claimed) >= limit {
			break
		}
		if msg.Status != domain.StatusPending || msg.UpdatedAt.After(cutoff) {
			continue
		}
		msg.UpdatedAt = time.Now().UTC()
		clone := *msg
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}
