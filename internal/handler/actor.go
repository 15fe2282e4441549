package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"go-file-engine/internal/middleware"
)

// requestLogger tags a logger with who made the request.
func requestLogger(r *http.Request) *slog.Logger {
	logger := slog.With("client_ip", clientIP(r))

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return logger
	}
	return logger.With("user_id", claims.UserID, "role", claims.Role)
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	xri := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}

	return strings.TrimSpace(r.RemoteAddr)
}
