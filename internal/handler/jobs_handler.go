package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-file-engine/internal/service"
	"go-file-engine/pkg/apierror"
)

type JobsHandler struct {
	service *service.JobService
}

func NewJobsHandler(service *service.JobService) *JobsHandler {
	return &JobsHandler{service: service}
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseIntOrDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 50)

	jobs, meta := h.service.ListJobs(page, limit)
	writeSuccess(w, http.StatusOK, jobs, &meta)
}

func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, apierror.BadRequest("job_id is required", "job_id"))
		return
	}

	job, err := h.service.GetJob(jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, job, nil)
}

func (h *JobsHandler) GetJobItems(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, apierror.BadRequest("job_id is required", "job_id"))
		return
	}

	page := parseIntOrDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 100)

	data, meta, err := h.service.GetJobItems(jobID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, data, &meta)
}

func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := h.service.Cancel(jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	requestLogger(r).Info("job cancel requested", "job_id", jobID, "status", job.Status)
	writeSuccess(w, http.StatusOK, job, nil)
}
