package domain

import "github.com/google/uuid"

// Site is a tenant. API keys are stored as SHA-256 digests; the clear value
// is only ever seen on the wire.
type Site struct {
	SiteID       uuid.UUID `json:"site_id"`
	Name         string    `json:"name"`
	APIKeyDigest string    `json:"-"`
	AuditFields
}

// TenantChannelConfig holds per-site provider credentials for one channel.
// Resolved lazily by the worker at send time; a platform-wide default applies
// when the tenant has none.
type TenantChannelConfig struct {
	SiteID      uuid.UUID `json:"site_id"`
	Channel     Channel   `json:"channel"`
	APIKey      string    `json:"api_key,omitempty"`
	From        string    `json:"from,omitempty"`
	SessionName string    `json:"session_name,omitempty"`
	Endpoint    string    `json:"endpoint,omitempty"`
	AuditFields
}
