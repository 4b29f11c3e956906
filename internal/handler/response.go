// Package handler translates HTTP requests into service calls and service
// results back into JSON.
//
// CONSISTENT ERROR FORMAT:
// Every error response has the same shape:
//
//	{"error": "insufficient_points", "message": "insufficient points: have 5, need 20"}
//
// Validation errors also name the offending field. Retryable failures carry
// "retryable": true and a Retry-After header, so a client knows the request
// left no partial state behind and can simply be sent again.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/waste-rewards/internal/apperror"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error     string `json:"error"`           // machine-readable, e.g. "not_found"
	Message   string `json:"message"`         // human-readable
	Field     string `json:"field,omitempty"` // set for validation errors
	Retryable bool   `json:"retryable,omitempty"`
}

// writeJSON sends data with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body. Once Encode writes, the
// headers are gone and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a service error to HTTP.
//
// ERROR MAPPING:
//
//	ErrValidation         → 400 validation_error
//	ErrForbidden          → 403 forbidden
//	ErrNotFound           → 404 not_found
//	ErrConflict           → 409 conflict
//	ErrInsufficientPoints → 422 insufficient_points
//	ErrConcurrency        → 503 concurrency_conflict (retryable)
//	ErrUnavailable        → 503 unavailable (retryable)
//	anything else         → 500 internal_error
//
// The service layer never sees a status code; this is the only place the
// two vocabularies meet.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Never expose raw errors: they may carry SQL or file paths.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal_error", Message: appErr.Message}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, resp.Error, resp.Field = http.StatusBadRequest, "validation_error", appErr.Field
	case errors.Is(err, apperror.ErrForbidden):
		status, resp.Error = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, resp.Error = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrInsufficientPoints):
		status, resp.Error = http.StatusUnprocessableEntity, "insufficient_points"
	case errors.Is(err, apperror.ErrConcurrency):
		status, resp.Error = http.StatusServiceUnavailable, "concurrency_conflict"
	case errors.Is(err, apperror.ErrUnavailable):
		status, resp.Error = http.StatusServiceUnavailable, "unavailable"
	default:
		resp.Message = "An internal error occurred"
	}

	if apperror.IsRetryable(err) {
		resp.Retryable = true
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads exactly one JSON object into dst. Unknown fields, a
// body over maxBodyBytes, and trailing data are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must not exceed %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body: "+err.Error())
		}
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return v, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperror.ValidationFailed(name, name+" must be true or false")
	}
	return v, nil
}
