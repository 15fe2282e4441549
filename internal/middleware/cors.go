package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
		// Retry-After accompanies RETRYABLE and RATE_LIMITED replies.
		ExposedHeaders:   []string{"Retry-After", requestIDHeader},
		MaxAge:           600,
		AllowCredentials: false,
	})

	return handler.Handler
}
