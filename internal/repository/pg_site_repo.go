package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/domain"
)

type pgSiteRepository struct {
	pool *pgxpool.Pool
}

// NewPgSiteRepository returns a SiteRepository backed by PostgreSQL.
func NewPgSiteRepository(pool *pgxpool.Pool) SiteRepository {
	return &pgSiteRepository{pool: pool}
}

func (r *pgSiteRepository) SiteByAPIKeyDigest(ctx context.Context, digest string) (*domain.Site, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT site_id, name, api_key_digest, created_at, updated_at
		FROM sites WHERE api_key_digest = $1`, digest)
	return scanSite(row)
}

func (r *pgSiteRepository) Site(ctx context.Context, siteID uuid.UUID) (*domain.Site, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT site_id, name, api_key_digest, created_at, updated_at
		FROM sites WHERE site_id = $1`, siteID)
	return scanSite(row)
}

func (r *pgSiteRepository) ChannelConfig(ctx context.Context, siteID uuid.UUID, channel domain.Channel) (*domain.TenantChannelConfig, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT site_id, channel, api_key, from_address, session_name, endpoint, created_at, updated_at
		FROM tenant_channel_configs WHERE site_id = $1 AND channel = $2`,
		siteID, channel)

	cfg, err := scanChannelConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get channel config", err)
	}
	return cfg, nil
}

func (r *pgSiteRepository) UpsertChannelConfig(ctx context.Context, cfg *domain.TenantChannelConfig) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_channel_configs
			(site_id, channel, api_key, from_address, session_name, endpoint)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (site_id, channel) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			from_address = EXCLUDED.from_address,
			session_name = EXCLUDED.session_name,
			endpoint = EXCLUDED.endpoint`,
		cfg.SiteID, cfg.Channel, cfg.APIKey, cfg.From, cfg.SessionName, cfg.Endpoint,
	)
	if err != nil {
		return storageErr("upsert channel config", err)
	}
	return nil
}

func (r *pgSiteRepository) DeleteChannelConfig(ctx context.Context, siteID uuid.UUID, channel domain.Channel) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tenant_channel_configs WHERE site_id = $1 AND channel = $2`,
		siteID, channel)
	if err != nil {
		return storageErr("delete channel config", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgSiteRepository) ListChannelConfigs(ctx context.Context, siteID uuid.UUID) ([]*domain.TenantChannelConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT site_id, channel, api_key, from_address, session_name, endpoint, created_at, updated_at
		FROM tenant_channel_configs WHERE site_id = $1 ORDER BY channel`, siteID)
	if err != nil {
		return nil, storageErr("list channel configs", err)
	}
	defer rows.Close()

	var configs []*domain.TenantChannelConfig
	for rows.Next() {
		cfg, err := scanChannelConfig(rows)
		if err != nil {
			return nil, storageErr("scan channel config", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate channel configs", err)
	}
	return configs, nil
}

func scanSite(row pgx.Row) (*domain.Site, error) {
	var s domain.Site
	err := row.Scan(&s.SiteID, &s.Name, &s.APIKeyDigest, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("scan site", err)
	}
	return &s, nil
}

func scanChannelConfig(row pgx.Row) (*domain.TenantChannelConfig, error) {
	var cfg domain.TenantChannelConfig
	err := row.Scan(&cfg.SiteID, &cfg.Channel, &cfg.APIKey, &cfg.From,
		&cfg.SessionName, &cfg.Endpoint, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
