package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DeliveryJob is the bus payload that triggers a worker to execute an intent.
// It carries identifiers only: the worker rehydrates recipient and payload
// from the message log, and credentials are resolved at send time, so no
// secrets or PII ever cross the bus.
type DeliveryJob struct {
	MessageID string    `json:"messageId"`
	SiteID    uuid.UUID `json:"siteId"`
	Channel   Channel   `json:"channel"`
	Attempt   int       `json:"attempt"`
}

// deliveryJobWire tolerates snake_case aliases emitted by older producers.
type deliveryJobWire struct {
	MessageID      string    `json:"messageId"`
	MessageIDSnake string    `json:"message_id"`
	SiteID         uuid.UUID `json:"siteId"`
	SiteIDSnake    uuid.UUID `json:"site_id"`
	Channel        Channel   `json:"channel"`
	Attempt        int       `json:"attempt"`
}

func (j *DeliveryJob) UnmarshalJSON(data []byte) error {
	var wire deliveryJobWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	j.MessageID = wire.MessageID
	if j.MessageID == "" {
		j.MessageID = wire.MessageIDSnake
	}
	j.SiteID = wire.SiteID
	if j.SiteID == uuid.Nil {
		j.SiteID = wire.SiteIDSnake
	}
	j.Channel = wire.Channel
	j.Attempt = wire.Attempt

	if j.MessageID == "" {
		return fmt.Errorf("delivery job missing messageId")
	}
	if j.SiteID == uuid.Nil {
		return fmt.Errorf("delivery job missing siteId")
	}
	if !j.Channel.IsValid() {
		return fmt.Errorf("delivery job has unsupported channel %q", j.Channel)
	}
	return nil
}
