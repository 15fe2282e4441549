package handler

import (
	"net/http"

	"go-file-engine/internal/model"
	"go-file-engine/internal/service"
)

type OperationsHandler struct {
	orchestrator *service.Orchestrator
	jobs         *service.JobService
}

func NewOperationsHandler(orchestrator *service.Orchestrator, jobs *service.JobService) *OperationsHandler {
	return &OperationsHandler{orchestrator: orchestrator, jobs: jobs}
}

// Submit runs a batch. With ?wait=true the batch runs inside the request and
// the BatchResult is returned; a client disconnect cancels it. Otherwise a
// job is queued and 202 is returned.
func (h *OperationsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var payload model.OperationRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	logger := requestLogger(r).With("kind", payload.Kind, "items", len(payload.Items))

	if parseBool(r.URL.Query().Get("wait")) {
		result, err := h.orchestrator.Submit(r.Context(), payload, service.Hooks{})
		if err != nil {
			writeError(w, err)
			return
		}
		logger.Info("batch completed", "batch_id", result.BatchID, "failed", result.Failed)
		writeSuccess(w, http.StatusOK, result, nil)
		return
	}

	job, err := h.jobs.CreateJob(payload)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("job queued", "job_id", job.JobID)
	writeSuccess(w, http.StatusAccepted, job, nil)
}
