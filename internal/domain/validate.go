package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared across requests; validator instances are safe for
// concurrent use and cache struct metadata.
var validate = validator.New()

const maxBodyLength = 16384

// channelRecipientRule maps each channel to the validator tag applied to the
// recipient field.
var channelRecipientRule = map[Channel]string{
	ChannelEmail:    "required,email",
	ChannelSMS:      "required,e164",
	ChannelWhatsApp: "required",
	ChannelPush:     "required",
}

// Validate checks the intent against the per-channel payload schema and
// returns a *ValidationError carrying one reason per offending field.
func (r *SubmitRequest) Validate() error {
	fields := map[string]string{}

	if !r.Channel.IsValid() {
		fields["channel"] = fmt.Sprintf("unsupported channel %q", r.Channel)
		return &ValidationError{Fields: fields}
	}

	if err := validate.Var(r.Recipient, channelRecipientRule[r.Channel]); err != nil {
		fields["recipient"] = recipientReason(r.Channel, r.Recipient)
	}

	if len(r.Payload.Body) > maxBodyLength {
		fields["payload.body"] = fmt.Sprintf("body exceeds %d characters", maxBodyLength)
	}

	switch r.Channel {
	case ChannelEmail:
		if r.Payload.Subject == "" {
			fields["payload.subject"] = "subject is required for email"
		}
		if r.Payload.Body == "" {
			fields["payload.body"] = "body is required for email"
		}
		if r.Payload.From != "" {
			if err := validate.Var(r.Payload.From, "email"); err != nil {
				fields["payload.from"] = "from must be a valid email address"
			}
		}
	case ChannelSMS:
		if r.Payload.Body == "" {
			fields["payload.body"] = "body is required for sms"
		}
	case ChannelWhatsApp:
		if r.Payload.Body == "" && len(r.Payload.MediaURLs) == 0 {
			fields["payload.body"] = "body or media_urls is required for whatsapp"
		}
		for i, u := range r.Payload.MediaURLs {
			if err := validate.Var(u, "url"); err != nil {
				fields[fmt.Sprintf("payload.media_urls[%d]", i)] = "must be a valid URL"
			}
		}
	case ChannelPush:
		if r.Payload.Subject == "" {
			fields["payload.subject"] = "title is required for push"
		}
		if r.Payload.Body == "" {
			fields["payload.body"] = "body is required for push"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func recipientReason(c Channel, recipient string) string {
	if strings.TrimSpace(recipient) == "" {
		return "recipient is required"
	}
	switch c {
	case ChannelEmail:
		return "recipient must be a valid email address"
	case ChannelSMS:
		return "recipient must be an E.164 phone number"
	}
	return "recipient is invalid"
}
