package handler

import (
	"net/http"
	"strings"

	"go-file-engine/internal/model"
	"go-file-engine/internal/service"
	"go-file-engine/pkg/apierror"
)

type CacheHandler struct {
	cache *service.CacheService
}

func NewCacheHandler(cache *service.CacheService) *CacheHandler {
	return &CacheHandler{cache: cache}
}

type cacheRequest struct {
	ResourceID string `json:"resource_id"`
	Path       string `json:"path"`
}

type cacheListResponse struct {
	Stats   model.CacheStats   `json:"stats"`
	Entries []model.CacheEntry `json:"entries"`
}

func (h *CacheHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, cacheListResponse{Stats: h.cache.Stats(), Entries: h.cache.List()}, nil)
}

func (h *CacheHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeCacheRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.cache.Acquire(r.Context(), payload.ResourceID, payload.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, entry, nil)
}

func (h *CacheHandler) MarkDirty(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeCacheRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.cache.MarkDirty(r.Context(), payload.ResourceID, payload.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, entry, nil)
}

func (h *CacheHandler) Commit(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeCacheRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.cache.Commit(r.Context(), payload.ResourceID, payload.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	requestLogger(r).Info("cache entry committed", "resource_id", entry.ResourceID, "path", entry.Path)
	writeSuccess(w, http.StatusOK, entry, nil)
}

func (h *CacheHandler) Release(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeCacheRequest(w, r)
	if !ok {
		return
	}

	if err := h.cache.Release(payload.ResourceID, payload.Path); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "released"}, nil)
}

func decodeCacheRequest(w http.ResponseWriter, r *http.Request) (cacheRequest, bool) {
	var payload cacheRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return cacheRequest{}, false
	}
	if strings.TrimSpace(payload.ResourceID) == "" || strings.TrimSpace(payload.Path) == "" {
		writeError(w, apierror.BadRequest("resource_id and path are required", ""))
		return cacheRequest{}, false
	}
	return payload, true
}
