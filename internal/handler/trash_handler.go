package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-file-engine/internal/model"
	"go-file-engine/internal/service"
)

type TrashHandler struct {
	ledger *service.TrashLedger
}

func NewTrashHandler(ledger *service.TrashLedger) *TrashHandler {
	return &TrashHandler{ledger: ledger}
}

func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.List(r.Context(), parseBool(r.URL.Query().Get("include_restored")))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []model.TrashRecord{}
	}

	page := parseIntOrDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 200)
	start, end, meta := model.Paginate(len(records), page, limit)
	writeSuccess(w, http.StatusOK, records[start:end], &meta)
}

func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	record, err := h.ledger.Restore(r.Context(), chi.URLParam(r, "trash_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	requestLogger(r).Info("trash item restored", "trash_id", record.ID, "path", record.OriginalPath)
	writeSuccess(w, http.StatusOK, record, nil)
}

func (h *TrashHandler) Purge(w http.ResponseWriter, r *http.Request) {
	trashID := chi.URLParam(r, "trash_id")
	if err := h.ledger.Purge(r.Context(), trashID); err != nil {
		writeError(w, err)
		return
	}
	requestLogger(r).Info("trash item purged", "trash_id", trashID)
	writeSuccess(w, http.StatusOK, map[string]string{"id": trashID, "status": "purged"}, nil)
}

func (h *TrashHandler) Empty(w http.ResponseWriter, r *http.Request) {
	purged, err := h.ledger.Empty(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	requestLogger(r).Info("trash emptied", "count", purged)
	writeSuccess(w, http.StatusOK, map[string]int{"purged": purged}, nil)
}
