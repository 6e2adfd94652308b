package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery channel for a notification.
// Values mirror the notification_channel enum in the database.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelSMS      Channel = "SMS"
	ChannelPush     Channel = "PUSH"
)

// Channels lists every supported channel, used for topic and worker-pool fanout.
var Channels = []Channel{ChannelEmail, ChannelWhatsApp, ChannelSMS, ChannelPush}

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// ParseChannel is the textual-value side of the enum codec shared with the
// database enum type.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(s)
	return c, c.IsValid()
}

// AuditFields carries entity metadata embedded into every persisted record.
type AuditFields struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Payload holds the channel-specific content of an intent. Stored as a single
// JSONB column; never contains provider credentials, which are resolved from
// tenant configuration at send time.
type Payload struct {
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body,omitempty"`
	MediaURLs   []string          `json:"media_urls,omitempty"`
	From        string            `json:"from,omitempty"`
	SessionName string            `json:"session_name,omitempty"`
	Caption     string            `json:"caption,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageLog is one row per notification intent. (site_id, message_id) is the
// primary key; the pair is what makes intake idempotent.
type MessageLog struct {
	SiteID      uuid.UUID      `json:"site_id"`
	MessageID   string         `json:"message_id"`
	Channel     Channel        `json:"channel"`
	Recipient   string         `json:"recipient"`
	Payload     Payload        `json:"payload"`
	Status      DeliveryStatus `json:"status"`
	RetryCount  int            `json:"retry_count"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
	AuditFields
}

// SubmitRequest is the inbound payload for a single notification intent.
// MessageID is optional; when absent a UUID is generated server-side.
// SiteID is never part of the request; it comes from the authenticated
// principal only.
type SubmitRequest struct {
	MessageID   string     `json:"message_id,omitempty"`
	Channel     Channel    `json:"channel"`
	Recipient   string     `json:"recipient"`
	Payload     Payload    `json:"payload"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// BulkRequest wraps a list of intents for the bulk endpoints.
type BulkRequest struct {
	Notifications []SubmitRequest `json:"notifications"`
}

// BulkResult reports the per-entry outcome of a bulk submission.
type BulkResult struct {
	Index     int    `json:"index"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Replay    bool   `json:"replay,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ListFilter holds query parameters for paginated, tenant-scoped listing.
type ListFilter struct {
	Status  *DeliveryStatus
	Channel *Channel
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}
