package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/domain"
)

// WebhookAdapter sends messages to a channel provider over an HTTP webhook
// API. One instance is built per channel, each with its own endpoint and
// timeout. The per-tenant credential endpoint, when set, overrides the
// platform endpoint.
type WebhookAdapter struct {
	channel  domain.Channel
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

type webhookRequest struct {
	MessageID string         `json:"message_id"`
	Recipient string         `json:"recipient"`
	From      string         `json:"from,omitempty"`
	Session   string         `json:"session,omitempty"`
	Payload   domain.Payload `json:"payload"`
}

type webhookResponse struct {
	ProviderMessageID string `json:"provider_message_id"`
	Code              string `json:"code"`
	Message           string `json:"message"`
}

// NewWebhook builds the HTTP adapter for one channel. timeout bounds the
// whole provider round trip.
func NewWebhook(channel domain.Channel, endpoint string, timeout time.Duration, logger *zap.Logger) *WebhookAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAdapter{
		channel:  channel,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Send posts the normalized request to the provider endpoint and maps the
// HTTP outcome onto the classification scheme:
//
//	200 -> DELIVERED, 202 -> ACCEPTED
//	401/403 -> AUTH, 429 -> RATE_LIMIT
//	other 4xx -> PERMANENT, 5xx and transport errors -> TRANSIENT
func (a *WebhookAdapter) Send(ctx context.Context, creds SiteCredentials, req NormalizedRequest) NormalizedResult {
	endpoint := a.endpoint
	if creds.Endpoint != "" {
		endpoint = creds.Endpoint
	}
	if endpoint == "" {
		return NormalizedResult{
			Status:         ResultFailure,
			Classification: ClassPermanent,
			Code:           "NO_ENDPOINT",
			Message:        fmt.Sprintf("no endpoint configured for channel %s", a.channel),
		}
	}

	body, err := json.Marshal(webhookRequest{
		MessageID: req.MessageID,
		Recipient: req.Recipient,
		From:      creds.From,
		Session:   creds.SessionName,
		Payload:   req.Payload,
	})
	if err != nil {
		return NormalizedResult{
			Status:         ResultFailure,
			Classification: ClassPermanent,
			Code:           "ENCODE_FAILED",
			Message:        err.Error(),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return NormalizedResult{
			Status:         ResultFailure,
			Classification: ClassPermanent,
			Code:           "BAD_REQUEST",
			Message:        err.Error(),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if creds.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		code := "NETWORK_ERROR"
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			code = "TIMEOUT"
		}
		a.logger.Warn("provider call failed",
			zap.String("channel", string(a.channel)),
			zap.String("message_id", req.MessageID),
			zap.Error(err))
		return NormalizedResult{
			Status:         ResultFailure,
			Classification: ClassTransient,
			Code:           code,
			Message:        err.Error(),
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	var parsed webhookResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode == http.StatusOK:
		return NormalizedResult{Status: ResultDelivered, ProviderMsgID: parsed.ProviderMessageID}
	case resp.StatusCode == http.StatusAccepted:
		return NormalizedResult{Status: ResultAccepted, ProviderMsgID: parsed.ProviderMessageID}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return failureResult(ClassAuth, resp.StatusCode, parsed)
	case resp.StatusCode == http.StatusTooManyRequests:
		return failureResult(ClassRateLimit, resp.StatusCode, parsed)
	case resp.StatusCode >= 500:
		return failureResult(ClassTransient, resp.StatusCode, parsed)
	default:
		return failureResult(ClassPermanent, resp.StatusCode, parsed)
	}
}

func failureResult(class Classification, status int, parsed webhookResponse) NormalizedResult {
	code := parsed.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	message := parsed.Message
	if message == "" {
		message = http.StatusText(status)
	}
	return NormalizedResult{
		Status:         ResultFailure,
		Classification: class,
		Code:           code,
		Message:        message,
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
