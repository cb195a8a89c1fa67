package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/ledlocator/internal/locator"
	"github.com/nerrad567/ledlocator/internal/wled"
)

// Error is the body of every non-2xx JSON response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in Error.Code.
const (
	ErrCodeBadRequest              = "bad_request"
	ErrCodeNotFound                = "not_found"
	ErrCodeUnauthorized            = "unauthorised"
	ErrCodeForbidden               = "forbidden"
	ErrCodeConflict                = "conflict"
	ErrCodeInternal                = "internal_error"
	ErrCodeValidation              = "validation_error"
	ErrCodeControllerNotConfigured = "controller_not_configured"
	ErrCodeControllerUnreachable   = "controller_unreachable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// decodeBody reads a JSON request body into v. On failure it writes a 400
// and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, msg)
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, msg)
}

func writeConflict(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, msg)
}

func writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msg)
}

// writeLocatorError maps locator and controller failures to status codes.
// Unknown errors are logged and surface as a 500 carrying fallback.
func (s *Server) writeLocatorError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, locator.ErrValidation):
		writeValidationError(w, err.Error())
	case errors.Is(err, locator.ErrNotFound):
		writeNotFound(w, "location not found")
	case errors.Is(err, locator.ErrUnauthorized):
		writeForbidden(w, "insufficient permissions")
	case errors.Is(err, wled.ErrConfiguration):
		writeError(w, http.StatusServiceUnavailable, ErrCodeControllerNotConfigured, err.Error())
	case errors.Is(err, wled.ErrNetwork):
		writeError(w, http.StatusBadGateway, ErrCodeControllerUnreachable, err.Error())
	default:
		s.logger.Error(fallback, "error", err, "path", r.URL.Path, "request_id", requestID(r))
		writeInternalError(w, fallback)
	}
}
