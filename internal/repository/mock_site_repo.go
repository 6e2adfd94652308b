package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/domain"
)

type configKey struct {
	siteID  uuid.UUID
	channel domain.Channel
}

// MockSiteRepository is the in-memory SiteRepository used in unit tests.
type MockSiteRepository struct {
	mu      sync.RWMutex
	sites   map[uuid.UUID]*domain.Site
	configs map[configKey]*domain.TenantChannelConfig

	ChannelConfigErr error
}

func NewMockSiteRepository() *MockSiteRepository {
	return &MockSiteRepository{
		sites:   make(map[uuid.UUID]*domain.Site),
		configs: make(map[configKey]*domain.TenantChannelConfig),
	}
}

func (m *MockSiteRepository) AddSite(s *domain.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *s
	m.sites[s.SiteID] = &clone
}

func (m *MockSiteRepository) SiteByAPIKeyDigest(_ context.Context, digest string) (*domain.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sites {
		if s.APIKeyDigest == digest {
			clone := *s
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSiteRepository) Site(_ context.Context, siteID uuid.UUID) (*domain.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sites[siteID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *MockSiteRepository) ChannelConfig(_ context.Context, siteID uuid.UUID, channel domain.Channel) (*domain.TenantChannelConfig, error) {
	if m.ChannelConfigErr != nil {
		return nil, m.ChannelConfigErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[configKey{siteID, channel}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *cfg
	return &clone, nil
}

func (m *MockSiteRepository) UpsertChannelConfig(_ context.Context, cfg *domain.TenantChannelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *cfg
	m.configs[configKey{cfg.SiteID, cfg.Channel}] = &clone
	return nil
}

func (m *MockSiteRepository) DeleteChannelConfig(_ context.Context, siteID uuid.UUID, channel domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := configKey{siteID, channel}
	if _, ok := m.configs[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.configs, key)
	return nil
}

func (m *MockSiteRepository) ListChannelConfigs(_ context.Context, siteID uuid.UUID) ([]*domain.TenantChannelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.TenantChannelConfig
	for key, cfg := range m.configs {
		if key.siteID == siteID {
			clone := *cfg
			result = append(result, &clone)
		}
	}
	return result, nil
}
