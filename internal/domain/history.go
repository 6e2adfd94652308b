package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistorySource records which writer appended a history entry.
// Values mirror the history_source enum in the database.
type HistorySource string

const (
	// SourceAPI marks entries written by the intake and scheduler paths.
	SourceAPI HistorySource = "API"
	// SourceTrigger marks entries mirrored by the storage-level trigger,
	// kept as a safety net and ignored for metrics.
	SourceTrigger HistorySource = "TRIGGER"
	// SourceWorker marks entries written by dispatch and retry workers.
	SourceWorker HistorySource = "WORKER"
)

// StatusHistory is one row of the append-only audit stream. Entries are never
// updated or deleted, and an entry is appended even when the attempted
// transition is invalid: the stream records attempted reality, while
// MessageLog.status reflects only valid transitions.
type StatusHistory struct {
	ID           int64          `json:"id"`
	SiteID       uuid.UUID      `json:"site_id"`
	MessageID    string         `json:"message_id"`
	Status       DeliveryStatus `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	Source       HistorySource  `json:"source"`
	Timestamp    time.Time      `json:"timestamp"`
}
