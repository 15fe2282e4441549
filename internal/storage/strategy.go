// Package storage implements the protocol strategies behind one operation contract.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"go-file-engine/internal/model"
)

type WriteMode int

const (
	// WriteCreate fails with ALREADY_EXISTS when the target exists.
	WriteCreate WriteMode = iota
	// WriteOverwrite replaces the target once the sink is closed.
	WriteOverwrite
)

// Sink is a destination byte stream. Close commits the written bytes; Abort
// discards them and removes any partially written artifact.
type Sink interface {
	io.Writer
	Close() error
	Abort() error
}

// Strategy is the operation contract implemented once per protocol. Every
// error it returns is a *model.OpError.
type Strategy interface {
	ResourceID() string
	Protocol() model.Protocol
	List(ctx context.Context, dir string) ([]model.FileEntry, error)
	Stat(ctx context.Context, p string) (model.FileEntry, error)
	OpenRead(ctx context.Context, p string) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, p string, mode WriteMode) (Sink, error)
	Delete(ctx context.Context, p string, mode model.DeleteMode) error
	Rename(ctx context.Context, oldPath string, newPath string) error
	Mkdir(ctx context.Context, p string) error
	SupportsAtomicRename() bool
	Exists(ctx context.Context, p string) (bool, error)
	Capabilities() model.Capabilities
	Close() error
}

// CapacityReporter returns free bytes at p, or model.SizeUnknown.
type CapacityReporter interface {
	FreeSpace(ctx context.Context, p string) (int64, error)
}

// Checksummer returns the xxhash64 digest of a stored file in hex.
type Checksummer interface {
	Checksum(ctx context.Context, p string) (string, error)
}

// PairOpener is implemented by pooled strategies. OpenPair opens a reader at
// src and a sink at dst on the same resource with one pool acquisition, so a
// copy within a resource never holds one session while waiting for another.
// It fails with ErrSingleSession when the resource allows only one session.
type PairOpener interface {
	OpenPair(ctx context.Context, src string, dst string, mode WriteMode) (io.ReadCloser, Sink, error)
}

// ErrSingleSession marks a resource that cannot hold a reader and a writer at once.
var ErrSingleSession = errors.New("resource allows a single session")

// TrashDir is the per-resource trash location for backends without native trash.
const TrashDir = "/.trash"

// CleanPath normalizes a resource-relative path to a rooted slash path.
func CleanPath(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "/"
	}

	cleaned := path.Clean("/" + strings.TrimPrefix(strings.ReplaceAll(trimmed, `\`, "/"), "/"))
	if cleaned == "." {
		return "/"
	}

	return cleaned
}

func JoinPath(dir string, name string) string {
	return CleanPath(path.Join(CleanPath(dir), name))
}

func ParentPath(p string) string {
	return CleanPath(path.Dir(CleanPath(p)))
}

func BaseName(p string) string {
	cleaned := CleanPath(p)
	if cleaned == "/" {
		return ""
	}
	return path.Base(cleaned)
}

// IsWithin reports whether p equals dir or lies beneath it.
func IsWithin(dir string, p string) bool {
	dir, p = CleanPath(dir), CleanPath(p)
	if dir == "/" || dir == p {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// existsVia implements Strategy.Exists on top of Stat.
func existsVia(ctx context.Context, s Strategy, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if model.KindOf(err) == model.KindNotFound {
		return false, nil
	}
	return false, err
}
