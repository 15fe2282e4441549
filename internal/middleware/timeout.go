package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"go-file-engine/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// Timeout bounds short request/response handlers. It buffers the response,
// so routes that run transfers inline must not use it.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	body, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    string(model.KindTimeout),
			Message: "request timed out after " + timeout.String(),
		},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(body))
	}
}
