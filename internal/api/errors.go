package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/device"
	"github.com/hearthd/hearth-core/internal/room"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeConflict   = "conflict"
	ErrCodeInternal   = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// isValidationError reports whether the error is a domain validation failure
// that should surface as a 400 rather than a 500.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrValidation) ||
		errors.Is(err, automation.ErrValidation) ||
		errors.Is(err, automation.ErrSceneCycle) ||
		errors.Is(err, room.ErrInvalidName)
}

// isNotFound reports whether the error is a missing-entity failure.
func isNotFound(err error) bool {
	return errors.Is(err, device.ErrNotFound) ||
		errors.Is(err, automation.ErrRuleNotFound) ||
		errors.Is(err, automation.ErrSceneNotFound) ||
		errors.Is(err, automation.ErrExecutionNotFound) ||
		errors.Is(err, automation.ErrCommandNotFound) ||
		errors.Is(err, room.ErrNotFound)
}
