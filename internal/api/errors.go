// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/log"
)

// errorBody is the JSON error envelope. Internal errors carry a generic
// message; details stay in logs correlated by request ID.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps an error kind to its HTTP status. Transient failures get a
// Retry-After hint so well-behaved clients back off.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	reqID := log.RequestIDFromContext(r.Context())

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, errorBody{
		Error:     string(kind),
		Message:   apperr.MessageOf(err),
		RequestID: reqID,
	})
}

// decodeBody parses a JSON request body into v, rejecting unparseable input.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "malformed request body", err)
	}
	return nil
}
