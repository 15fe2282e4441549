package util

import (
	"mime"
	"path"
	"strings"
)

// DirectoryMediaType is reported for directory entries.
const DirectoryMediaType = "inode/directory"

var fallbackTypes = map[string]string{
	".md":   "text/markdown",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".heic": "image/heic",
	".heif": "image/heif",
	".mkv":  "video/x-matroska",
	".epub": "application/epub+zip",
	".7z":   "application/x-7z-compressed",
}

// MediaType derives a media type from the entry name. Listings never read
// content, so this is extension based.
func MediaType(name string, isDir bool) string {
	if isDir {
		return DirectoryMediaType
	}

	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if ext == "" {
		return "application/octet-stream"
	}

	if known, ok := fallbackTypes[ext]; ok {
		return known
	}

	if detected := mime.TypeByExtension(ext); detected != "" {
		return detected
	}

	return "application/octet-stream"
}
