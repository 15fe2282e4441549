package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
	"go-file-engine/pkg/apierror"
)

type ResourcesHandler struct {
	registry *storage.Registry
}

func NewResourcesHandler(registry *storage.Registry) *ResourcesHandler {
	return &ResourcesHandler{registry: registry}
}

type spaceResponse struct {
	ResourceID string `json:"resource_id"`
	Path       string `json:"path"`
	FreeBytes  int64  `json:"free_bytes"`
	FreeHuman  string `json:"free_human,omitempty"`
}

func (h *ResourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	descriptors, err := h.registry.Descriptors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, descriptors, nil)
}

func (h *ResourcesHandler) Entries(w http.ResponseWriter, r *http.Request) {
	strategy, p, ok := h.resolve(w, r)
	if !ok {
		return
	}

	entries, err := strategy.List(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.FileEntry{}
	}

	page := parseIntOrDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 200)
	start, end, meta := model.Paginate(len(entries), page, limit)
	writeSuccess(w, http.StatusOK, entries[start:end], &meta)
}

func (h *ResourcesHandler) Stat(w http.ResponseWriter, r *http.Request) {
	strategy, p, ok := h.resolve(w, r)
	if !ok {
		return
	}

	entry, err := strategy.Stat(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, entry, nil)
}

func (h *ResourcesHandler) Space(w http.ResponseWriter, r *http.Request) {
	strategy, p, ok := h.resolve(w, r)
	if !ok {
		return
	}

	reporter, supported := strategy.(storage.CapacityReporter)
	if !supported || !strategy.Capabilities().ReportsCapacity {
		writeError(w, apierror.NotSupported("resource does not report free space", strategy.ResourceID()))
		return
	}

	free, err := reporter.FreeSpace(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}

	response := spaceResponse{ResourceID: strategy.ResourceID(), Path: p, FreeBytes: free}
	if free != model.SizeUnknown {
		response.FreeHuman = humanizeBytes(free)
	}
	writeSuccess(w, http.StatusOK, response, nil)
}

func (h *ResourcesHandler) resolve(w http.ResponseWriter, r *http.Request) (storage.Strategy, string, bool) {
	strategy, err := h.registry.Strategy(r.Context(), chi.URLParam(r, "resource_id"))
	if err != nil {
		writeError(w, err)
		return nil, "", false
	}
	return strategy, storage.CleanPath(r.URL.Query().Get("path")), true
}

func humanizeBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
