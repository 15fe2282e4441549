package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"go-file-engine/internal/model"
)

// PathValidator jails resource paths under a local root directory.
type PathValidator struct {
	rootAbs string
}

func NewPathValidator(root string) (*PathValidator, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	return &PathValidator{rootAbs: rootAbs}, nil
}

func (v *PathValidator) RootAbs() string {
	return v.rootAbs
}

// ResolvePath rejects traversal segments outright instead of cleaning them
// away, so "/a/../b" is an error rather than "/b".
func (v *PathValidator) ResolvePath(resourcePath string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(resourcePath), `\`, "/")
	if normalized == "" || normalized == "/" {
		return v.rootAbs, nil
	}

	if hasControlCharacters(normalized) {
		return "", v.reject(resourcePath, "path contains invalid characters")
	}

	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", v.reject(resourcePath, "path traversal attempt detected")
		}
	}

	cleanRel := filepath.Clean(strings.TrimPrefix(normalized, "/"))
	if cleanRel == "." {
		return v.rootAbs, nil
	}

	resolved := filepath.Join(v.rootAbs, cleanRel)
	if !isWithinRoot(v.rootAbs, resolved) {
		return "", v.reject(resourcePath, "resolved path is outside resource root")
	}

	return resolved, nil
}

func (v *PathValidator) reject(resourcePath string, detail string) error {
	return &model.OpError{Kind: model.KindPermissionDenied, Op: "resolve", Path: resourcePath, Protocol: model.ProtocolLocal, Detail: detail}
}

// hasControlCharacters also catches NUL.
func hasControlCharacters(value string) bool {
	for _, char := range value {
		if unicode.IsControl(char) {
			return true
		}
	}

	return false
}

func isWithinRoot(rootAbs string, candidateAbs string) bool {
	if candidateAbs == rootAbs {
		return true
	}

	return strings.HasPrefix(candidateAbs, rootAbs+string(filepath.Separator))
}
