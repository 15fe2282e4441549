package model

import "time"

// SizeUnknown marks listings that do not report a size.
const SizeUnknown int64 = -1

// FileEntry is produced by list/stat and never mutated.
type FileEntry struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mtime"`
	CreateTime time.Time `json:"ctime,omitempty"`
	IsDir      bool      `json:"is_dir"`
	MediaType  string    `json:"media_type,omitempty"`
	Hash       string    `json:"hash,omitempty"`
}
