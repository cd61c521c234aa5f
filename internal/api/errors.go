package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
)

// Error is the body of every non-2xx response. RequestID echoes the
// X-Request-ID header so a client can quote it.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeUnknownAttribute   = "unknown_attribute"
	ErrCodeInvalidCommand     = "invalid_command"
	ErrCodeClientClosed       = "client_closed"
)

// fireplaceErrors maps core sentinels onto responses, checked in order.
var fireplaceErrors = []struct {
	err    error
	status int
	code   string
}{
	{proflame.ErrUnknownAttribute, http.StatusBadRequest, ErrCodeUnknownAttribute},
	{proflame.ErrInvalidCommand, http.StatusBadRequest, ErrCodeInvalidCommand},
	{proflame.ErrInvalidParameter, http.StatusBadRequest, ErrCodeInvalidCommand},
	{proflame.ErrClientClosed, http.StatusServiceUnavailable, ErrCodeClientClosed},
	{proflame.ErrQueueClosed, http.StatusServiceUnavailable, ErrCodeClientClosed},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeFireplaceError answers a failed SetState or Execute. Unmapped errors
// are logged and hidden behind a 500.
func (s *Server) writeFireplaceError(w http.ResponseWriter, err error) {
	for _, m := range fireplaceErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error("fireplace request failed", "error", err)
	writeInternalError(w, "fireplace request failed")
}
