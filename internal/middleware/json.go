package middleware

import (
	"encoding/json"
	"net/http"

	"go-file-engine/internal/model"
)

// writeFailure renders the same envelope the handlers use, so clients parse
// middleware rejections like any other error.
func writeFailure(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:      code,
			Message:   message,
			RequestID: w.Header().Get(requestIDHeader),
		},
	})
}
