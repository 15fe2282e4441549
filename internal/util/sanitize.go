package util

import (
	"strings"
	"unicode"

	"go-file-engine/internal/model"
)

// maxNameBytes is the common component limit of ext4, NTFS and the cloud APIs.
const maxNameBytes = 255

const windowsForbidden = `<>:"/\|?*`

var windowsReservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// ValidateName checks a single path component a caller wants to create on a
// backend speaking protocol. Invisible formatting runes are dropped; anything
// else the backend would reject fails with PERMISSION_DENIED instead of being
// rewritten, so the stored name is always the one the caller asked for.
func ValidateName(name string, protocol model.Protocol) (string, error) {
	reject := func(detail string) error {
		return &model.OpError{Kind: model.KindPermissionDenied, Op: "validate-name", Path: name, Protocol: protocol, Detail: detail}
	}

	var builder strings.Builder
	builder.Grow(len(name))
	for _, char := range strings.TrimSpace(name) {
		if isInvisibleUnicode(char) {
			continue
		}
		if char == 0 || unicode.IsControl(char) {
			return "", reject("name contains control characters")
		}
		builder.WriteRune(char)
	}
	cleaned := builder.String()

	switch {
	case cleaned == "":
		return "", reject("name is empty")
	case cleaned == "." || cleaned == "..":
		return "", reject("name cannot refer to a directory alias")
	case strings.ContainsRune(cleaned, '/'):
		return "", reject("name cannot contain a path separator")
	case len(cleaned) > maxNameBytes:
		return "", reject("name is longer than 255 bytes")
	}

	if windowsSemantics(protocol) {
		if strings.ContainsAny(cleaned, windowsForbidden) {
			return "", reject(`name contains one of <>:"/\|?*`)
		}
		if strings.HasSuffix(cleaned, ".") {
			return "", reject("name cannot end with a dot")
		}
		stem, _, _ := strings.Cut(cleaned, ".")
		if _, reserved := windowsReservedNames[strings.ToUpper(stem)]; reserved {
			return "", reject("name is reserved on Windows shares")
		}
	}

	return cleaned, nil
}

// windowsSemantics reports backends that enforce NTFS naming rules.
func windowsSemantics(protocol model.Protocol) bool {
	return protocol == model.ProtocolSMB || protocol == model.ProtocolOneDrive
}

func isInvisibleUnicode(r rune) bool {
	switch r {
	case
		'\u200B', // zero-width space
		'\u200C', // zero-width non-joiner
		'\u200D', // zero-width joiner
		'\u200E', // left-to-right mark
		'\u200F', // right-to-left mark
		'\u2060', // word joiner
		'\uFEFF': // BOM
		return true
	}
	return false
}
