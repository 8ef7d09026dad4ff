package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/directout-bridge/internal/directout"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "device_unavailable"
	ErrCodeTimeout      = "device_timeout"
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

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps an error from the device session onto a response.
func writeDeviceError(w http.ResponseWriter, err error) {
	status, code := deviceErrorStatus(err)
	msg := err.Error()
	if status == http.StatusGatewayTimeout {
		msg = "device did not accept the command in time"
	}
	writeError(w, status, code, msg)
}

// deviceErrorStatus maps a session error to an HTTP status and error code.
func deviceErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, directout.ErrNotReady), errors.Is(err, directout.ErrNotConnected):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, directout.ErrUnknownAction),
		errors.Is(err, directout.ErrUnknownFeedback),
		errors.Is(err, directout.ErrPathNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, directout.ErrInvalidOption),
		errors.Is(err, directout.ErrInvalidPath),
		errors.Is(err, directout.ErrNotPrimitive),
		errors.Is(err, directout.ErrUntranslatable),
		errors.Is(err, directout.ErrUnsupportedOp):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// decodeBody decodes an optional JSON request body into v. An empty body
// leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
