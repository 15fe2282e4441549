package model

import "time"

type CacheState string

const (
	CacheDownloading CacheState = "DOWNLOADING"
	CacheReady       CacheState = "READY"
	CacheDirty       CacheState = "DIRTY"
	CacheUploading   CacheState = "UPLOADING"
	CacheEvicted     CacheState = "EVICTED"
)

// CacheEntry is a snapshot handed to callers; the cache owns the live copy.
type CacheEntry struct {
	ResourceID    string     `json:"resource_id"`
	Path          string     `json:"path"`
	LocalPath     string     `json:"local_path"`
	State         CacheState `json:"state"`
	Size          int64      `json:"size"`
	Checksum      string     `json:"checksum,omitempty"`
	RemoteSize    int64      `json:"remote_size"`
	RemoteModTime time.Time  `json:"remote_mtime"`
	LastAccess    time.Time  `json:"last_access"`
	Holders       int        `json:"holders"`
}

// Pinned entries are excluded from eviction.
func (e CacheEntry) Pinned() bool {
	return e.State == CacheDirty || e.State == CacheUploading || e.Holders > 0
}

type CacheStats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	Pinned    int   `json:"pinned"`
	Evictions int64 `json:"evictions"`
	Downloads int64 `json:"downloads"`
}
