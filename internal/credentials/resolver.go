// Package credentials resolves per-tenant provider credentials at send time.
// Credentials are never carried on the dispatch bus; workers look them up
// lazily right before the adapter call, so a config change made while a
// message waits in a retry window is picked up on the next attempt.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/repository"
)

// Resolver produces the effective credential set for a (site, channel) pair.
// Resolution order: tenant channel config, then the platform default for the
// channel. When neither yields an API key the message cannot be sent and the
// caller fails it with CREDENTIALS_MISSING.
type Resolver struct {
	sites    repository.SiteRepository
	defaults map[domain.Channel]config.TenantDefault
	cache    *redis.Client
	ttl      time.Duration
	logger   *zap.Logger
}

// New builds a Resolver. cache may be nil, in which case every resolution
// hits the repository.
func New(sites repository.SiteRepository, defaults map[domain.Channel]config.TenantDefault, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Resolver{
		sites:    sites,
		defaults: defaults,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
	}
}

type cachedCredentials struct {
	APIKey      string `json:"api_key"`
	From        string `json:"from"`
	SessionName string `json:"session_name"`
	Endpoint    string `json:"endpoint"`
}

func cacheKey(siteID uuid.UUID, channel domain.Channel) string {
	return fmt.Sprintf("herald:creds:%s:%s", siteID, channel)
}

// Resolve returns the credentials for the pair, or ErrCredentialsMissing
// when no tenant config exists and the platform carries no default API key
// for the channel. Cache failures degrade to a repository read.
func (r *Resolver) Resolve(ctx context.Context, siteID uuid.UUID, channel domain.Channel) (adapter.SiteCredentials, error) {
	if creds, ok := r.fromCache(ctx, siteID, channel); ok {
		return creds, nil
	}

	creds, err := r.resolve(ctx, siteID, channel)
	if err != nil {
		return adapter.SiteCredentials{}, err
	}
	r.store(ctx, siteID, channel, creds)
	return creds, nil
}

// Invalidate drops the cached entry so the next resolution sees a fresh
// config. Called by the admin API after a channel config write.
func (r *Resolver) Invalidate(ctx context.Context, siteID uuid.UUID, channel domain.Channel) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(siteID, channel)).Err(); err != nil {
		r.logger.Warn("credential cache invalidation failed",
			zap.String("site_id", siteID.String()),
			zap.String("channel", string(channel)),
			zap.Error(err))
	}
}

func (r *Resolver) resolve(ctx context.Context, siteID uuid.UUID, channel domain.Channel) (adapter.SiteCredentials, error) {
	cfg, err := r.sites.ChannelConfig(ctx, siteID, channel)
	switch {
	case err == nil:
		return adapter.SiteCredentials{
			SiteID:      siteID,
			APIKey:      cfg.APIKey,
			From:        cfg.From,
			SessionName: cfg.SessionName,
			Endpoint:    cfg.Endpoint,
		}, nil
	case errors.Is(err, domain.ErrNotFound):
		def, ok := r.defaults[channel]
		if !ok || def.APIKey == "" {
			return adapter.SiteCredentials{}, domain.ErrCredentialsMissing
		}
		return adapter.SiteCredentials{
			SiteID:      siteID,
			APIKey:      def.APIKey,
			From:        def.From,
			SessionName: def.SessionName,
		}, nil
	default:
		return adapter.SiteCredentials{}, err
	}
}

func (r *Resolver) fromCache(ctx context.Context, siteID uuid.UUID, channel domain.Channel) (adapter.SiteCredentials, bool) {
	if r.cache == nil {
		return adapter.SiteCredentials{}, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(siteID, channel)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("credential cache read failed", zap.Error(err))
		}
		return adapter.SiteCredentials{}, false
	}
	var cached cachedCredentials
	if err := json.Unmarshal(raw, &cached); err != nil {
		return adapter.SiteCredentials{}, false
	}
	return adapter.SiteCredentials{
		SiteID:      siteID,
		APIKey:      cached.APIKey,
		From:        cached.From,
		SessionName: cached.SessionName,
		Endpoint:    cached.Endpoint,
	}, true
}

func (r *Resolver) store(ctx context.Context, siteID uuid.UUID, channel domain.Channel, creds adapter.SiteCredentials) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedCredentials{
		APIKey:      creds.APIKey,
		From:        creds.From,
		SessionName: creds.SessionName,
		Endpoint:    creds.Endpoint,
	})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(siteID, channel), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("credential cache write failed", zap.Error(err))
	}
}
