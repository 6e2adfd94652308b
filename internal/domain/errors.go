package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stable error codes returned in the HTTP error envelope and attached to
// dead-lettered jobs. Codes are part of the public contract; the sentinel
// error texts are not.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeTenantMismatch     = "TENANT_MISMATCH"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeIdempotentReplay   = "IDEMPOTENT_REPLAY"
	CodeNotFound           = "NOT_FOUND"
	CodeTerminalConflict   = "TERMINAL_CONFLICT"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeBusUnavailable     = "BUS_UNAVAILABLE"
	CodeAdapterTransient   = "ADAPTER_TRANSIENT"
	CodeAdapterRateLimit   = "ADAPTER_RATE_LIMIT"
	CodeAdapterPermanent   = "ADAPTER_PERMANENT"
	CodeAdapterAuth        = "ADAPTER_AUTH"
	CodeCredentialsMissing = "CREDENTIALS_MISSING"
)

// Sentinel errors used throughout the application. The HTTP layer translates
// these to envelope codes and status codes in a single mapError function.
var (
	ErrUnauthenticated    = errors.New("request is not authenticated")
	ErrUnauthorized       = errors.New("admin access requires a session or platform admin key")
	ErrNotFound           = errors.New("message not found")
	ErrTerminalConflict   = errors.New("message is in a terminal status")
	ErrInvalidTransition  = errors.New("status transition is not allowed")
	ErrStorageUnavailable = errors.New("message log store is unavailable")
	ErrBusUnavailable     = errors.New("dispatch bus is unavailable")
	ErrCredentialsMissing = errors.New("no tenant credentials and no platform default for channel")
	ErrScheduleInPast     = errors.New("scheduled_at must be in the future")
	ErrBulkEmpty          = errors.New("bulk request must contain at least one notification")
	ErrBulkTooLarge       = errors.New("bulk request exceeds maximum of 1000 notifications")
)

// ValidationError carries one reason per offending field, surfaced in the
// details map of the VALIDATION_FAILED envelope.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
