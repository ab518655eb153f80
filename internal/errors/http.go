// Package errors defines the JSON error envelope used by every HTTP error
// response.
package errors

import (
	"encoding/json"
	"net/http"
)

// Stable error codes exposed to clients.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the envelope for all error responses.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError carries a stable machine code and a human-readable message.
type HTTPError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondWithError writes the envelope with the given status. requestID may
// be empty.
func RespondWithError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{Code: code, Message: message, RequestID: requestID},
	})
}

// NotFoundHandler is the router-level 404 responder.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, http.StatusNotFound, CodeNotFound, "resource not found: "+r.URL.Path, "")
}

// MethodNotAllowedHandler is the router-level 405 responder.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
		r.Method+" is not allowed for "+r.URL.Path, "")
}
