// Package handlers provides the gateway's HTTP handlers and JSON helpers.
package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every gateway error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the gateway.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// SendJSON writes data as JSON with the given status. A nil data writes only the status.
func SendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// SendError writes an ErrorResponse.
func SendError(w http.ResponseWriter, status int, code, message string) {
	SendJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	SendError(w, http.StatusNotFound, ErrCodeNotFound, "no route for "+r.URL.Path)
}

// MethodNotAllowed answers known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	SendError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}
