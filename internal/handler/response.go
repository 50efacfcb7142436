package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so the API has one
// success shape and one error shape:
//
//	{"error": "not_found", "message": "user \"ghost\" was not found upstream"}

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/deckvault/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input, for validation errors
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and error type.
//
//	ErrValidation          → 400 validation_error
//	ErrNotFound            → 404 not_found (user, deck or sync run)
//	ErrConflict            → 409 conflict
//	ErrUpstreamUnavailable → 503 upstream_unavailable
//	ErrUpstreamTimeout     → 504 upstream_timeout
//	ErrUpstreamHTTP        → 502 upstream_error
//	anything else          → 500 internal_error
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, apperror.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, apperror.ErrUpstreamHTTP):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it. The service layer never knows about status codes; this is the
// only place they are chosen.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := errorStatus(err)

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && status != http.StatusInternalServerError {
		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	if status == http.StatusGatewayTimeout {
		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: "the request timed out",
		})
		return
	}

	// Never expose internal error details (SQL, file paths) to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
