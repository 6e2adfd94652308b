package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/credentials"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/repository"
	"github.com/heraldhq/herald/internal/service"
	"github.com/heraldhq/herald/internal/tenant"
)

// AdminHandler serves the platform-operator surface: tenant channel
// credentials, dead-letter inspection and cross-tenant reads. Every route
// runs behind admin auth; the target site is always named in the URL and
// re-bound explicitly.
type AdminHandler struct {
	sites    repository.SiteRepository
	svc      *service.NotificationService
	resolver *credentials.Resolver
	bus      *bus.Bus
	signer   *tenant.SessionSigner
	logger   *zap.Logger
}

func NewAdminHandler(
	sites repository.SiteRepository,
	svc *service.NotificationService,
	resolver *credentials.Resolver,
	b *bus.Bus,
	signer *tenant.SessionSigner,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{sites: sites, svc: svc, resolver: resolver, bus: b, signer: signer, logger: logger}
}

type channelConfigRequest struct {
	APIKey      string `json:"api_key"`
	From        string `json:"from,omitempty"`
	SessionName string `json:"session_name,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// channelConfigView masks the stored API key; admin reads never echo a
// credential back out.
type channelConfigView struct {
	SiteID    uuid.UUID      `json:"site_id"`
	Channel   domain.Channel `json:"channel"`
	APIKey    string         `json:"api_key"`
	From      string         `json:"from,omitempty"`
	Session   string         `json:"session_name,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func configView(cfg *domain.TenantChannelConfig) channelConfigView {
	return channelConfigView{
		SiteID:    cfg.SiteID,
		Channel:   cfg.Channel,
		APIKey:    maskKey(cfg.APIKey),
		From:      cfg.From,
		Session:   cfg.SessionName,
		Endpoint:  cfg.Endpoint,
		UpdatedAt: cfg.UpdatedAt,
	}
}

// CreateSession handles POST /admin/v1/session. Requires the admin key
// header and sets the signed session cookie for browser-based use.
func (h *AdminHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	const ttl = 12 * time.Hour
	http.SetCookie(w, &http.Cookie{
		Name:     tenant.SessionCookieName,
		Value:    h.signer.Issue(ttl),
		Path:     "/admin",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(ttl),
	})
	respondJSON(w, http.StatusCreated, map[string]string{"status": "session issued"})
}

// UpsertChannelConfig handles PUT /admin/v1/sites/{site_id}/channels/{channel}
func (h *AdminHandler) UpsertChannelConfig(w http.ResponseWriter, r *http.Request) {
	siteID, channel, ok := h.siteChannelParams(w, r)
	if !ok {
		return
	}

	var req channelConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, domain.CodeValidationFailed, "invalid JSON body")
		return
	}
	if req.APIKey == "" {
		respondError(w, http.StatusUnprocessableEntity, domain.CodeValidationFailed, "api_key is required")
		return
	}

	cfg := &domain.TenantChannelConfig{
		SiteID:      siteID,
		Channel:     channel,
		APIKey:      req.APIKey,
		From:        req.From,
		SessionName: req.SessionName,
		Endpoint:    req.Endpoint,
	}
	if err := h.sites.UpsertChannelConfig(r.Context(), cfg); err != nil {
		mapError(w, err)
		return
	}
	// Drop the cached credentials so in-flight retries pick up the new key.
	h.resolver.Invalidate(r.Context(), siteID, channel)

	h.logger.Info("channel config updated",
		zap.String("site_id", siteID.String()),
		zap.String("channel", string(channel)))
	respondJSON(w, http.StatusOK, configView(cfg))
}

// ListChannelConfigs handles GET /admin/v1/sites/{site_id}/channels
func (h *AdminHandler) ListChannelConfigs(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.siteParam(w, r)
	if !ok {
		return
	}

	configs, err := h.sites.ListChannelConfigs(r.Context(), siteID)
	if err != nil {
		mapError(w, err)
		return
	}
	views := make([]channelConfigView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, configView(cfg))
	}
	respondJSON(w, http.StatusOK, map[string]any{"channels": views})
}

// DeleteChannelConfig handles DELETE /admin/v1/sites/{site_id}/channels/{channel}
func (h *AdminHandler) DeleteChannelConfig(w http.ResponseWriter, r *http.Request) {
	siteID, channel, ok := h.siteChannelParams(w, r)
	if !ok {
		return
	}
	if err := h.sites.DeleteChannelConfig(r.Context(), siteID, channel); err != nil {
		mapError(w, err)
		return
	}
	h.resolver.Invalidate(r.Context(), siteID, channel)
	w.WriteHeader(http.StatusNoContent)
}

// GetNotification handles GET /admin/v1/sites/{site_id}/notifications/{message_id}.
// The admin principal is re-bound to the named site before the read so the
// service path stays tenant-scoped.
func (h *AdminHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.siteParam(w, r)
	if !ok {
		return
	}

	ctx, err := tenant.BindSite(r.Context(), siteID)
	if err != nil {
		mapError(w, err)
		return
	}
	msg, err := h.svc.Get(ctx, chi.URLParam(r, "message_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// GetNotificationHistory handles GET /admin/v1/sites/{site_id}/notifications/{message_id}/history
func (h *AdminHandler) GetNotificationHistory(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.siteParam(w, r)
	if !ok {
		return
	}

	ctx, err := tenant.BindSite(r.Context(), siteID)
	if err != nil {
		mapError(w, err)
		return
	}
	entries, err := h.svc.History(ctx, chi.URLParam(r, "message_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// DLQ handles GET /admin/v1/dlq/{channel}
func (h *AdminHandler) DLQ(w http.ResponseWriter, r *http.Request) {
	channel, ok := domain.ParseChannel(strings.ToUpper(chi.URLParam(r, "channel")))
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, domain.CodeValidationFailed, "unsupported channel")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"entries": h.bus.DLQEntries(channel),
	})
}

// BusSnapshot handles GET /admin/v1/bus
func (h *AdminHandler) BusSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"depths":     h.bus.Depths(),
		"dlq_depths": h.bus.DLQDepths(),
	})
}

func (h *AdminHandler) siteParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	siteID, err := uuid.Parse(chi.URLParam(r, "site_id"))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, domain.CodeValidationFailed, "site_id must be a UUID")
		return uuid.Nil, false
	}
	return siteID, true
}

func (h *AdminHandler) siteChannelParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, domain.Channel, bool) {
	siteID, ok := h.siteParam(w, r)
	if !ok {
		return uuid.Nil, "", false
	}
	channel, ok := domain.ParseChannel(strings.ToUpper(chi.URLParam(r, "channel")))
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, domain.CodeValidationFailed, "unsupported channel")
		return uuid.Nil, "", false
	}
	return siteID, channel, true
}
