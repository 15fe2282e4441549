package model

import "time"

// TrashRecord tracks an item moved into a resource's trash directory.
type TrashRecord struct {
	ID           string     `json:"id"`
	ResourceID   string     `json:"resource_id"`
	OriginalPath string     `json:"original_path"`
	TrashedPath  string     `json:"trashed_path"`
	IsDir        bool       `json:"is_dir"`
	Size         int64      `json:"size"`
	DeletedAt    time.Time  `json:"deleted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RestoredAt   *time.Time `json:"restored_at,omitempty"`
}

func (r TrashRecord) Expired(now time.Time) bool {
	return r.RestoredAt == nil && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}
