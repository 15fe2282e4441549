package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-file-engine/internal/model"
	"go-file-engine/pkg/apierror"
)

// kindStatus maps the engine taxonomy onto HTTP.
var kindStatus = map[model.ErrorKind]int{
	model.KindNotFound:           http.StatusNotFound,
	model.KindPermissionDenied:   http.StatusForbidden,
	model.KindAlreadyExists:      http.StatusConflict,
	model.KindNetworkUnreachable: http.StatusBadGateway,
	model.KindAuthFailed:         http.StatusBadGateway,
	model.KindTimeout:            http.StatusGatewayTimeout,
	model.KindQuotaExceeded:      http.StatusInsufficientStorage,
	model.KindCancelled:          499,
	model.KindRetryable:          http.StatusServiceUnavailable,
}

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var opErr *model.OpError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
		if apiErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(apiErr.RetryAfter))
		}
	} else if errors.Is(err, model.ErrJobNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Job not found"
	} else if errors.Is(err, model.ErrTrashItemNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Trash item not found"
	} else if errors.Is(err, model.ErrItemAlreadyRestored) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "Item already restored"
	} else if errors.Is(err, model.ErrCacheEntryNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Cache entry not found"
	} else if errors.Is(err, model.ErrCacheEntryState) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "Cache entry is not in a valid state"
		body.Details = err.Error()
	} else if errors.Is(err, model.ErrResourceNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Resource not found"
		body.Details = err.Error()
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
		body.Details = err.Error()
	} else if errors.Is(err, model.ErrUnauthorized) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Authentication required"
	} else if errors.Is(err, model.ErrForbidden) {
		status = http.StatusForbidden
		body.Code = "FORBIDDEN"
		body.Message = "Access denied"
	} else if errors.As(err, &opErr) {
		if mapped, ok := kindStatus[opErr.Kind]; ok {
			status = mapped
		}
		body.Code = string(opErr.Kind)
		body.Message = "Storage operation failed"
		body.Details = err.Error()
		if opErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(opErr.RetryAfter))
		}
	} else {
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	body.RequestID = w.Header().Get("X-Request-ID")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Seconds() + 0.5)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apierror.BadRequest("invalid JSON body", err.Error())
	}
	return nil
}

func parseIntOrDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
