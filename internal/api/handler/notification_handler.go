package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/heraldhq/herald/internal/api/middleware"
	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/service"
)

// NotificationHandler serves the tenant-facing notification endpoints. The
// tenant scope is already bound on the context by the auth middleware; no
// handler reads a site identifier from the request.
type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// Submit handles POST /v1/notifications
//
// @Summary     Submit a notification for immediate dispatch
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.SubmitRequest  true  "Notification intent"
// @Success     201   {object}  domain.MessageLog
// @Success     200   {object}  domain.MessageLog  "Idempotent replay: stored intent returned unchanged"
// @Failure     422   {object}  ErrorEnvelope
// @Failure     503   {object}  ErrorEnvelope
// @Router      /v1/notifications [post]
func (h *NotificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, domain.CodeValidationFailed, "invalid JSON body")
		return
	}

	res, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.logger.Warn("submit failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	writeSubmitResult(w, res)
}

// SubmitScheduled handles POST /v1/notifications/scheduled
//
// @Summary     Submit a future-dated notification
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.SubmitRequest  true  "Intent with scheduled_at in the future"
// @Success     201   {object}  domain.MessageLog
// @Failure     422   {object}  ErrorEnvelope
// @Router      /v1/notifications/scheduled [post]
func (h *NotificationHandler) SubmitScheduled(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, domain.CodeValidationFailed, "invalid JSON body")
		return
	}

	res, err := h.svc.SubmitScheduled(r.Context(), req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeSubmitResult(w, res)
}

// SubmitBulk handles POST /v1/notifications/bulk
//
// @Summary     Submit up to 1000 notifications in one request
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.BulkRequest  true  "Bulk intents"
// @Success     207   {object}  map[string]any  "Per-entry outcomes in request order"
// @Failure     422   {object}  ErrorEnvelope
// @Router      /v1/notifications/bulk [post]
func (h *NotificationHandler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	h.submitBulk(w, r, false)
}

// SubmitScheduledBulk handles POST /v1/notifications/scheduled/bulk
//
// @Summary  Submit up to 1000 future-dated notifications in one request
// @Tags     notifications
// @Router   /v1/notifications/scheduled/bulk [post]
func (h *NotificationHandler) SubmitScheduledBulk(w http.ResponseWriter, r *http.Request) {
	h.submitBulk(w, r, true)
}

func (h *NotificationHandler) submitBulk(w http.ResponseWriter, r *http.Request, scheduled bool) {
	var req domain.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, domain.CodeValidationFailed, "invalid JSON body")
		return
	}

	results, err := h.svc.SubmitBulk(r.Context(), req, scheduled)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusMultiStatus, map[string]any{"results": results})
}

// Get handles GET /v1/notifications/{message_id}
//
// @Summary  Get a notification by message ID
// @Tags     notifications
// @Produce  json
// @Param    message_id  path      string  true  "Client message ID"
// @Success  200         {object}  domain.MessageLog
// @Failure  404         {object}  ErrorEnvelope
// @Router   /v1/notifications/{message_id} [get]
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.Get(r.Context(), chi.URLParam(r, "message_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// History handles GET /v1/notifications/{message_id}/history
//
// @Summary  Get the status history of a notification, oldest first
// @Tags     notifications
// @Produce  json
// @Param    message_id  path      string  true  "Client message ID"
// @Success  200         {object}  map[string]any
// @Failure  404         {object}  ErrorEnvelope
// @Router   /v1/notifications/{message_id}/history [get]
func (h *NotificationHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), chi.URLParam(r, "message_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// List handles GET /v1/notifications
//
// @Summary  List notifications with filtering and pagination
// @Tags     notifications
// @Produce  json
// @Param    status   query     string  false  "Filter by status"
// @Param    channel  query     string  false  "Filter by channel"
// @Param    from     query     string  false  "Created after (RFC3339)"
// @Param    to       query     string  false  "Created before (RFC3339)"
// @Param    page     query     int     false  "Page number (default 1)"
// @Param    limit    query     int     false  "Items per page (default 20, max 100)"
// @Success  200      {object}  map[string]any
// @Router   /v1/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	messages, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  messages,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// Cancel handles DELETE /v1/notifications/{message_id}
//
// @Summary  Cancel a notification that has not been handed to a provider
// @Tags     notifications
// @Produce  json
// @Param    message_id  path      string  true  "Client message ID"
// @Success  200         {object}  domain.MessageLog
// @Failure  404         {object}  ErrorEnvelope
// @Failure  409         {object}  ErrorEnvelope
// @Router   /v1/notifications/{message_id} [delete]
func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "message_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

func writeSubmitResult(w http.ResponseWriter, res *service.SubmitResult) {
	status := http.StatusCreated
	if res.Replay {
		status = http.StatusOK
	}
	respondJSON(w, status, res.Message)
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		if st, ok := domain.ParseDeliveryStatus(s); ok {
			filter.Status = &st
		}
	}
	if ch := q.Get("channel"); ch != "" {
		if c, ok := domain.ParseChannel(ch); ok {
			filter.Channel = &c
		}
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}
