package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-file-engine/internal/event"
	"go-file-engine/internal/model"
	"go-file-engine/pkg/apierror"
)

const jobQueueSize = 256

// JobService runs batches in the background and keeps their progress for polling.
type JobService struct {
	orchestrator *Orchestrator
	bus          event.Bus

	mu        sync.RWMutex
	jobs      map[string]*model.JobData
	requests  map[string]model.OperationRequest
	handles   map[string]*BatchHandle
	cancelled map[string]bool
	queue     chan string
}

func NewJobService(orchestrator *Orchestrator, bus event.Bus, workers int) *JobService {
	s := &JobService{
		orchestrator: orchestrator,
		bus:          bus,
		jobs:         map[string]*model.JobData{},
		requests:     map[string]model.OperationRequest{},
		handles:      map[string]*BatchHandle{},
		cancelled:    map[string]bool{},
		queue:        make(chan string, jobQueueSize),
	}

	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go s.workerLoop()
	}
	return s
}

func (s *JobService) CreateJob(request model.OperationRequest) (model.JobData, error) {
	if err := request.Validate(); err != nil {
		return model.JobData{}, err
	}

	job := &model.JobData{
		JobID:          uuid.NewString(),
		Kind:           request.Kind,
		Status:         model.JobQueued,
		ConflictPolicy: request.ConflictPolicy,
		TotalItems:     len(request.Items),
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	select {
	case s.queue <- job.JobID:
	default:
		s.mu.Unlock()
		return model.JobData{}, apierror.Busy("QUEUE_FULL", "too many queued jobs, retry later", 5*time.Second)
	}
	s.jobs[job.JobID] = job
	s.requests[job.JobID] = request
	snapshot := cloneJob(job, false)
	s.mu.Unlock()

	event.Publish(s.bus, event.TypeJobQueued, snapshot)
	return snapshot, nil
}

func (s *JobService) GetJob(jobID string) (model.JobData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return model.JobData{}, model.ErrJobNotFound
	}
	return cloneJob(job, false), nil
}

func (s *JobService) ListJobs(page int, limit int) ([]model.JobData, model.Meta) {
	s.mu.RLock()
	jobs := make([]model.JobData, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, cloneJob(job, false))
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	start, end, meta := model.Paginate(len(jobs), page, limit)
	return jobs[start:end], meta
}

func (s *JobService) GetJobItems(jobID string, page int, limit int) (model.JobItemsData, model.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return model.JobItemsData{}, model.Meta{}, model.ErrJobNotFound
	}

	start, end, meta := model.Paginate(len(job.Items), page, limit)
	data := model.JobItemsData{JobID: jobID, Items: append([]model.OperationResult(nil), job.Items[start:end]...)}
	return data, meta, nil
}

// Cancel stops a queued job outright, or signals a running one to stop at its
// next item or chunk boundary. Finished jobs are returned unchanged.
func (s *JobService) Cancel(jobID string) (model.JobData, error) {
	s.mu.Lock()
	job, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return model.JobData{}, model.ErrJobNotFound
	}

	var handle *BatchHandle
	switch job.Status {
	case model.JobQueued:
		s.cancelled[jobID] = true
		now := time.Now().UTC()
		job.Status = model.JobCancelled
		job.FinishedAt = &now
		job.CancelledItems = job.TotalItems
		delete(s.requests, jobID)
	case model.JobRunning:
		s.cancelled[jobID] = true
		handle = s.handles[jobID]
	}
	snapshot := cloneJob(job, false)
	s.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
	if snapshot.Status == model.JobCancelled {
		event.Publish(s.bus, event.TypeJobCancelled, snapshot)
	}
	return snapshot, nil
}

func (s *JobService) workerLoop() {
	for jobID := range s.queue {
		s.process(jobID)
	}
}

func (s *JobService) process(jobID string) {
	s.mu.Lock()
	job, exists := s.jobs[jobID]
	if !exists || job.Status != model.JobQueued {
		s.mu.Unlock()
		return
	}
	request := s.requests[jobID]
	now := time.Now().UTC()
	job.Status = model.JobRunning
	job.StartedAt = &now
	snapshot := cloneJob(job, false)
	s.mu.Unlock()

	event.Publish(s.bus, event.TypeJobStarted, snapshot)

	handle, err := s.orchestrator.SubmitAsync(context.Background(), request, Hooks{
		OnItemComplete: func(result model.OperationResult) {
			s.recordItem(jobID, result)
		},
	})
	if err != nil {
		slog.Error("job submission rejected", "job_id", jobID, "error", err)
		s.finalize(jobID, model.BatchResult{})
		return
	}

	s.mu.Lock()
	s.handles[jobID] = handle
	cancelRequested := s.cancelled[jobID]
	s.mu.Unlock()
	if cancelRequested {
		handle.Cancel()
	}

	result, _ := handle.Wait(context.Background())
	s.finalize(jobID, result)
}

func (s *JobService) recordItem(jobID string, result model.OperationResult) {
	s.mu.Lock()
	job, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return
	}
	job.ProcessedItems++
	switch result.Status {
	case model.StatusSuccess:
		job.SuccessItems++
	case model.StatusSkipped:
		job.SkippedItems++
	case model.StatusFailed:
		job.FailedItems++
	case model.StatusCancelled:
		job.CancelledItems++
	}
	if result.Warning != "" {
		job.WarningItems++
	}
	if job.TotalItems > 0 {
		job.Progress = job.ProcessedItems * 100 / job.TotalItems
	}
	snapshot := cloneJob(job, false)
	s.mu.Unlock()

	event.Publish(s.bus, event.TypeJobProgress, snapshot)
}

func (s *JobService) finalize(jobID string, result model.BatchResult) {
	s.mu.Lock()

	job, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return
	}
	cancelRequested := s.cancelled[jobID]
	delete(s.requests, jobID)
	delete(s.handles, jobID)
	delete(s.cancelled, jobID)

	job.Items = result.Items
	job.ProcessedItems = len(result.Items)
	job.SuccessItems = result.Succeeded
	job.SkippedItems = result.Skipped
	job.FailedItems = result.Failed
	job.CancelledItems = result.Cancelled
	job.WarningItems = result.Warnings
	job.Progress = 100
	now := time.Now().UTC()
	job.FinishedAt = &now

	switch {
	case cancelRequested:
		job.Status = model.JobCancelled
	case len(result.Items) == 0:
		job.Status = model.JobFailed
	case result.Failed+result.Cancelled == 0:
		job.Status = model.JobCompleted
	case result.Succeeded+result.Skipped == 0:
		job.Status = model.JobFailed
	default:
		job.Status = model.JobPartial
	}
	snapshot := cloneJob(job, false)
	s.mu.Unlock()

	eventType := event.TypeJobCompleted
	if snapshot.Status == model.JobCancelled {
		eventType = event.TypeJobCancelled
	}
	event.Publish(s.bus, eventType, snapshot)
	slog.Info("job finished", "job_id", jobID, "status", snapshot.Status, "succeeded", snapshot.SuccessItems, "failed", snapshot.FailedItems)
}

func cloneJob(value *model.JobData, includeItems bool) model.JobData {
	cloned := *value
	if includeItems {
		cloned.Items = append([]model.OperationResult(nil), value.Items...)
		return cloned
	}
	cloned.Items = nil
	return cloned
}
