package credentials_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/credentials"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/repository"
)

func TestResolve_TenantConfigWins(t *testing.T) {
	sites := repository.NewMockSiteRepository()
	siteID := uuid.New()
	require.NoError(t, sites.UpsertChannelConfig(context.Background(), &domain.TenantChannelConfig{
		SiteID:  siteID,
		Channel: domain.ChannelEmail,
		APIKey:  "tenant-key",
		From:    "orders@acme.example",
	}))

	defaults := map[domain.Channel]config.TenantDefault{
		domain.ChannelEmail: {APIKey: "platform-key", From: "noreply@herald.example"},
	}
	r := credentials.New(sites, defaults, nil, time.Minute, zap.NewNop())

	creds, err := r.Resolve(context.Background(), siteID, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "tenant-key", creds.APIKey)
	assert.Equal(t, "orders@acme.example", creds.From)
}

func TestResolve_FallsBackToPlatformDefault(t *testing.T) {
	sites := repository.NewMockSiteRepository()
	defaults := map[domain.Channel]config.TenantDefault{
		domain.ChannelEmail: {APIKey: "platform-key", From: "noreply@herald.example"},
	}
	r := credentials.New(sites, defaults, nil, time.Minute, zap.NewNop())

	creds, err := r.Resolve(context.Background(), uuid.New(), domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "platform-key", creds.APIKey)
}

func TestResolve_MissingEverywhere(t *testing.T) {
	sites := repository.NewMockSiteRepository()
	r := credentials.New(sites, nil, nil, time.Minute, zap.NewNop())

	_, err := r.Resolve(context.Background(), uuid.New(), domain.ChannelSMS)
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)
}

func TestResolve_CachesWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sites := repository.NewMockSiteRepository()
	siteID := uuid.New()
	require.NoError(t, sites.UpsertChannelConfig(context.Background(), &domain.TenantChannelConfig{
		SiteID:  siteID,
		Channel: domain.ChannelEmail,
		APIKey:  "v1-key",
	}))

	r := credentials.New(sites, nil, cache, time.Minute, zap.NewNop())

	creds, err := r.Resolve(context.Background(), siteID, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v1-key", creds.APIKey)

	// A config change is invisible until the cached entry expires.
	require.NoError(t, sites.UpsertChannelConfig(context.Background(), &domain.TenantChannelConfig{
		SiteID:  siteID,
		Channel: domain.ChannelEmail,
		APIKey:  "v2-key",
	}))
	creds, err = r.Resolve(context.Background(), siteID, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v1-key", creds.APIKey, "cached credentials should still be served")

	mr.FastForward(2 * time.Minute)
	creds, err = r.Resolve(context.Background(), siteID, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v2-key", creds.APIKey, "expired cache must re-read the store")
}

func TestInvalidate_DropsCachedEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sites := repository.NewMockSiteRepository()
	siteID := uuid.New()
	require.NoError(t, sites.UpsertChannelConfig(context.Background(), &domain.TenantChannelConfig{
		SiteID:  siteID,
		Channel: domain.ChannelEmail,
		APIKey:  "v1-key",
	}))

	r := credentials.New(sites, nil, cache, time.Minute, zap.NewNop())
	_, err := r.Resolve(context.Background(), siteID, domain.ChannelEmail)
	require.NoError(t, err)

	require.NoError(t, sites.UpsertChannelConfig(context.Background(), &domain.TenantChannelConfig{
		SiteID:  siteID,
		Channel: domain.ChannelEmail,
		APIKey:  "v2-key",
	}))
	r.Invalidate(context.Background(), siteID, domain.ChannelEmail)

	creds, err := r.Resolve(context.Background(), siteID, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v2-key", creds.APIKey)
}

func TestResolve_CacheFailureDegradesToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	sites := repository.NewMockSiteRepository()
	siteID := uuid.New()
	require.NoError(t, sites.UpsertChannelConfig(context.Background(), &domain.TenantChannelConfig{
		SiteID:  siteID,
		Channel: domain.ChannelEmail,
		APIKey:  "store-key",
	}))

	r := credentials.New(sites, nil, cache, time.Minute, zap.NewNop())
	creds, err := r.Resolve(context.Background(), siteID, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "store-key", creds.APIKey)
}
