package model

import (
	"fmt"
	"strings"
	"time"
)

type OperationKind string

const (
	OperationCopy   OperationKind = "COPY"
	OperationMove   OperationKind = "MOVE"
	OperationDelete OperationKind = "DELETE"
	OperationRename OperationKind = "RENAME"
)

type ConflictPolicy string

const (
	ConflictOverwrite ConflictPolicy = "OVERWRITE"
	ConflictSkip      ConflictPolicy = "SKIP"
	ConflictKeepBoth  ConflictPolicy = "KEEP_BOTH"
	ConflictAsk       ConflictPolicy = "ASK"
	ConflictMerge     ConflictPolicy = "MERGE"
)

func ParseConflictPolicy(raw string) (ConflictPolicy, error) {
	policy := ConflictPolicy(strings.ToUpper(strings.TrimSpace(raw)))
	switch policy {
	case ConflictOverwrite, ConflictSkip, ConflictKeepBoth, ConflictAsk, ConflictMerge:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: conflict policy %q (allowed: OVERWRITE|SKIP|KEEP_BOTH|ASK|MERGE)", ErrInvalidInput, raw)
	}
}

type DeleteMode string

const (
	DeleteTrash     DeleteMode = "TRASH"
	DeletePermanent DeleteMode = "PERMANENT"
)

type ItemStatus string

const (
	StatusPending   ItemStatus = "PENDING"
	StatusSuccess   ItemStatus = "SUCCESS"
	StatusSkipped   ItemStatus = "SKIPPED"
	StatusFailed    ItemStatus = "FAILED"
	StatusCancelled ItemStatus = "CANCELLED"
)

type SourceItem struct {
	ResourceID string    `json:"resource_id"`
	Entry      FileEntry `json:"entry"`
	// NewName is only read by RENAME.
	NewName string `json:"new_name,omitempty"`
}

type Destination struct {
	ResourceID string `json:"resource_id"`
	Path       string `json:"path"`
}

// OperationRequest is immutable and one-shot.
type OperationRequest struct {
	Kind           OperationKind  `json:"kind"`
	Items          []SourceItem   `json:"items"`
	Destination    Destination    `json:"destination"`
	ConflictPolicy ConflictPolicy `json:"conflict_policy,omitempty"`
	DeleteMode     DeleteMode     `json:"delete_mode,omitempty"`
	FailFast       bool           `json:"fail_fast,omitempty"`
}

func (r OperationRequest) Validate() error {
	switch r.Kind {
	case OperationCopy, OperationMove, OperationDelete, OperationRename:
	default:
		return fmt.Errorf("%w: operation kind %q (allowed: COPY|MOVE|DELETE|RENAME)", ErrInvalidInput, r.Kind)
	}

	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}

	for i, item := range r.Items {
		if strings.TrimSpace(item.ResourceID) == "" {
			return fmt.Errorf("%w: item %d: resource_id is required", ErrInvalidInput, i)
		}
		if strings.TrimSpace(item.Entry.Path) == "" {
			return fmt.Errorf("%w: item %d: path is required", ErrInvalidInput, i)
		}
		if r.Kind == OperationRename && strings.TrimSpace(item.NewName) == "" {
			return fmt.Errorf("%w: item %d: new_name is required for RENAME", ErrInvalidInput, i)
		}
	}

	if r.Kind == OperationCopy || r.Kind == OperationMove {
		if strings.TrimSpace(r.Destination.ResourceID) == "" {
			return fmt.Errorf("%w: destination.resource_id is required for %s", ErrInvalidInput, r.Kind)
		}
	}

	if r.ConflictPolicy != "" {
		if _, err := ParseConflictPolicy(string(r.ConflictPolicy)); err != nil {
			return err
		}
	}

	switch r.DeleteMode {
	case "", DeleteTrash, DeletePermanent:
	default:
		return fmt.Errorf("%w: delete mode %q (allowed: TRASH|PERMANENT)", ErrInvalidInput, r.DeleteMode)
	}

	return nil
}

// OperationResult is the terminal outcome of one item. Warning is set to
// PARTIAL_SUCCESS when a verified copy succeeded but the source could not be removed.
type OperationResult struct {
	Index            int           `json:"index"`
	ResourceID       string        `json:"resource_id"`
	Source           string        `json:"source"`
	Status           ItemStatus    `json:"status"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	Detail           string        `json:"detail,omitempty"`
	BytesTransferred int64         `json:"bytes_transferred"`
	FinalPath        string        `json:"final_path,omitempty"`
	Warning          ErrorKind     `json:"warning,omitempty"`
	WarningDetail    string        `json:"warning_detail,omitempty"`
	RetryAfter       time.Duration `json:"retry_after,omitempty"`
}

type BatchResult struct {
	BatchID    string            `json:"batch_id"`
	Kind       OperationKind     `json:"kind"`
	Items      []OperationResult `json:"items"`
	Succeeded  int               `json:"succeeded"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Cancelled  int               `json:"cancelled"`
	Warnings   int               `json:"warnings"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Tally recomputes the aggregate counters from Items.
func (b *BatchResult) Tally() {
	b.Succeeded, b.Skipped, b.Failed, b.Cancelled, b.Warnings = 0, 0, 0, 0, 0
	for _, item := range b.Items {
		switch item.Status {
		case StatusSuccess:
			b.Succeeded++
		case StatusSkipped:
			b.Skipped++
		case StatusFailed:
			b.Failed++
		case StatusCancelled:
			b.Cancelled++
		}
		if item.Warning != "" {
			b.Warnings++
		}
	}
}

func (b BatchResult) Statuses() []ItemStatus {
	out := make([]ItemStatus, len(b.Items))
	for i, item := range b.Items {
		out[i] = item.Status
	}
	return out
}
