// Package apierror carries HTTP-facing failures that are not storage errors:
// bad requests, authentication, and admission control.
package apierror

import (
	"fmt"
	"net/http"
	"time"
)

type APIError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
	HTTPStatus int           `json:"-"`
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

func BadRequest(message string, details string) *APIError {
	return New("BAD_REQUEST", message, details, http.StatusBadRequest)
}

func Unauthorized(message string) *APIError {
	return New("UNAUTHORIZED", message, "", http.StatusUnauthorized)
}

func NotSupported(message string, details string) *APIError {
	return New("NOT_SUPPORTED", message, details, http.StatusNotImplemented)
}

// Busy reports an admission rejection the client should retry after wait.
func Busy(code string, message string, wait time.Duration) *APIError {
	err := New(code, message, "", http.StatusServiceUnavailable)
	err.RetryAfter = wait
	return err
}
