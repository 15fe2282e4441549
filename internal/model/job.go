package model

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

type JobData struct {
	JobID          string            `json:"job_id"`
	Kind           OperationKind     `json:"kind"`
	Status         JobStatus         `json:"status"`
	ConflictPolicy ConflictPolicy    `json:"conflict_policy,omitempty"`
	TotalItems     int               `json:"total_items"`
	ProcessedItems int               `json:"processed_items"`
	SuccessItems   int               `json:"success_items"`
	SkippedItems   int               `json:"skipped_items"`
	FailedItems    int               `json:"failed_items"`
	CancelledItems int               `json:"cancelled_items"`
	WarningItems   int               `json:"warning_items"`
	Progress       int               `json:"progress"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	Items          []OperationResult `json:"items,omitempty"`
}

type JobItemsData struct {
	JobID string            `json:"job_id"`
	Items []OperationResult `json:"items"`
}
