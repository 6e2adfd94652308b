package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/heraldhq/herald/internal/domain"
)

// ErrorEnvelope is the uniform error body. Code values are stable and part
// of the public contract; Message is human-readable and may change.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, ErrorEnvelope{Code: code, Message: msg})
}

// RespondError is the envelope writer handed to the tenant middleware.
func RespondError(w http.ResponseWriter, status int, code, msg string) {
	respondError(w, status, code, msg)
}

// mapError translates domain errors to HTTP status codes and envelope codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorEnvelope{
			Code:    domain.CodeValidationFailed,
			Message: "validation failed",
			Details: verr.Fields,
		})
	case errors.Is(err, domain.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, domain.CodeUnauthenticated, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusForbidden, domain.CodeUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, domain.CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrTerminalConflict):
		respondError(w, http.StatusConflict, domain.CodeTerminalConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		respondError(w, http.StatusConflict, domain.CodeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrScheduleInPast),
		errors.Is(err, domain.ErrBulkEmpty),
		errors.Is(err, domain.ErrBulkTooLarge):
		respondError(w, http.StatusUnprocessableEntity, domain.CodeValidationFailed, err.Error())
	case errors.Is(err, domain.ErrBusUnavailable):
		respondError(w, http.StatusServiceUnavailable, domain.CodeBusUnavailable, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		respondError(w, http.StatusServiceUnavailable, domain.CodeStorageUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
