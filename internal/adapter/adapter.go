// Package adapter defines the provider-agnostic channel adapter contract.
// Adapters translate a normalized request into a specific provider call and
// collapse every outcome into a NormalizedResult. No provider error type
// crosses this boundary.
package adapter

import (
	"context"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/domain"
)

// Classification buckets a delivery failure for the retry policy.
type Classification string

const (
	// ClassPermanent covers invalid recipients, malformed content and
	// unsupported operations. Never retried.
	ClassPermanent Classification = "PERMANENT"
	// ClassAuth covers authentication and authorization failures against
	// the provider. Never retried.
	ClassAuth Classification = "AUTH"
	// ClassRateLimit covers provider rate and quota limits. Retried on a
	// dedicated exponential schedule with jitter.
	ClassRateLimit Classification = "RATE_LIMIT"
	// ClassTransient covers network errors, 5xx responses and timeouts.
	// Retried on the standard schedule.
	ClassTransient Classification = "TRANSIENT"
)

// ResultStatus is the outcome shape of an adapter call.
type ResultStatus string

const (
	// ResultAccepted means the provider accepted the message for
	// asynchronous delivery. Maps to SENT.
	ResultAccepted ResultStatus = "ACCEPTED"
	// ResultDelivered means the provider confirmed delivery synchronously.
	// Maps to SENT then DELIVERED.
	ResultDelivered ResultStatus = "DELIVERED"
	// ResultFailure means delivery failed. Classification, Code and Message
	// describe why.
	ResultFailure ResultStatus = "FAILURE"
)

// SiteCredentials is the resolved per-tenant credential set handed to the
// adapter at send time. Never serialized onto the bus.
type SiteCredentials struct {
	SiteID      uuid.UUID
	APIKey      string
	From        string
	SessionName string
	Endpoint    string
}

// NormalizedRequest is the channel-independent send request.
type NormalizedRequest struct {
	SiteID    uuid.UUID
	MessageID string
	Channel   domain.Channel
	Recipient string
	Payload   domain.Payload
}

// NormalizedResult is the uniform adapter outcome.
type NormalizedResult struct {
	Status         ResultStatus
	Classification Classification
	Code           string
	Message        string
	ProviderMsgID  string
}

// Failed reports whether the result represents a failure.
func (r NormalizedResult) Failed() bool { return r.Status == ResultFailure }

// Adapter is the uniform channel adapter contract. Implementations never
// return a Go error for delivery failures; those are carried in the result
// so the worker can run a single classification path.
type Adapter interface {
	Send(ctx context.Context, creds SiteCredentials, req NormalizedRequest) NormalizedResult
}
