package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"go-file-engine/internal/model"
	"go-file-engine/internal/util"
)

// LocalStrategy serves a directory on the local filesystem. Every path is
// jailed under the root by PathValidator.
type LocalStrategy struct {
	id        string
	validator *PathValidator
}

func NewLocalStrategy(id string, root string) (*LocalStrategy, error) {
	validator, err := NewPathValidator(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(validator.RootAbs(), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &LocalStrategy{id: id, validator: validator}, nil
}

func (s *LocalStrategy) ResourceID() string       { return s.id }
func (s *LocalStrategy) Protocol() model.Protocol { return model.ProtocolLocal }
func (s *LocalStrategy) SupportsAtomicRename() bool {
	return true
}

func (s *LocalStrategy) Capabilities() model.Capabilities {
	return model.Capabilities{AtomicRename: true, ReportsCapacity: true, CheapChecksum: true}
}

func (s *LocalStrategy) RootAbs() string {
	return s.validator.RootAbs()
}

// Resolve maps a resource path to its absolute filesystem location.
func (s *LocalStrategy) Resolve(p string) (string, error) {
	resolved, err := s.validator.ResolvePath(p)
	if err != nil {
		return "", mapLocalError("resolve", p, err)
	}
	return resolved, nil
}

func (s *LocalStrategy) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapLocalError("list", dir, err)
	}

	resolved, err := s.Resolve(dir)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, mapLocalError("list", dir, err)
	}

	entries := make([]model.FileEntry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if isStagingName(dirEntry.Name()) {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			continue
		}
		entries = append(entries, localEntry(JoinPath(dir, dirEntry.Name()), info))
	}

	return entries, nil
}

func (s *LocalStrategy) Stat(ctx context.Context, p string) (model.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.FileEntry{}, mapLocalError("stat", p, err)
	}

	resolved, err := s.Resolve(p)
	if err != nil {
		return model.FileEntry{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return model.FileEntry{}, mapLocalError("stat", p, err)
	}

	return localEntry(CleanPath(p), info), nil
}

func (s *LocalStrategy) Exists(ctx context.Context, p string) (bool, error) {
	return existsVia(ctx, s, p)
}

func (s *LocalStrategy) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapLocalError("open", p, err)
	}

	resolved, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, mapLocalError("open", p, err)
	}

	return &localReader{file: file, path: p}, nil
}

// OpenWrite stages bytes in a hidden sibling and renames it into place on Close.
func (s *LocalStrategy) OpenWrite(ctx context.Context, p string, mode WriteMode) (Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapLocalError("write", p, err)
	}

	resolved, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(resolved); statErr == nil {
		if mode == WriteCreate {
			return nil, mapLocalError("write", p, os.ErrExist)
		}
		if info.IsDir() {
			return nil, &model.OpError{Kind: model.KindAlreadyExists, Op: "write", Path: p, Protocol: model.ProtocolLocal, Detail: "target is a directory"}
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, mapLocalError("write", p, err)
	}

	tempPath := filepath.Join(filepath.Dir(resolved), stagingName(filepath.Base(resolved)))
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, mapLocalError("write", p, err)
	}

	return &localSink{file: file, tempPath: tempPath, target: resolved, path: p, mode: mode}, nil
}

func (s *LocalStrategy) Delete(ctx context.Context, p string, mode model.DeleteMode) error {
	if mode == model.DeleteTrash {
		return mapLocalError("delete", p, errNativeTrashUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return mapLocalError("delete", p, err)
	}

	resolved, err := s.Resolve(p)
	if err != nil {
		return err
	}
	if resolved == s.validator.RootAbs() {
		return &model.OpError{Kind: model.KindPermissionDenied, Op: "delete", Path: p, Protocol: model.ProtocolLocal, Detail: "refusing to delete resource root"}
	}

	if _, err := os.Lstat(resolved); err != nil {
		return mapLocalError("delete", p, err)
	}

	if err := os.RemoveAll(resolved); err != nil {
		return mapLocalError("delete", p, err)
	}

	return nil
}

// Rename never replaces an existing target.
func (s *LocalStrategy) Rename(ctx context.Context, oldPath string, newPath string) error {
	if err := ctx.Err(); err != nil {
		return mapLocalError("rename", oldPath, err)
	}

	oldResolved, err := s.Resolve(oldPath)
	if err != nil {
		return err
	}

	newResolved, err := s.Resolve(newPath)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(newResolved); err == nil {
		return mapLocalError("rename", newPath, os.ErrExist)
	}

	if err := os.MkdirAll(filepath.Dir(newResolved), 0o755); err != nil {
		return mapLocalError("rename", newPath, err)
	}

	if err := os.Rename(oldResolved, newResolved); err != nil {
		return mapLocalError("rename", oldPath, err)
	}

	return nil
}

func (s *LocalStrategy) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return mapLocalError("mkdir", p, err)
	}

	resolved, err := s.Resolve(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return mapLocalError("mkdir", p, err)
	}

	return nil
}

func (s *LocalStrategy) Checksum(ctx context.Context, p string) (string, error) {
	reader, err := s.OpenRead(ctx, p)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", mapLocalError("checksum", p, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *LocalStrategy) FreeSpace(_ context.Context, p string) (int64, error) {
	resolved, err := s.Resolve(p)
	if err != nil {
		return model.SizeUnknown, err
	}

	// The target directory may not exist yet; walk up to the nearest one.
	for {
		if _, err := os.Stat(resolved); err == nil || resolved == s.validator.RootAbs() {
			break
		}
		resolved = filepath.Dir(resolved)
	}

	free, err := freeBytes(resolved)
	if err != nil {
		return model.SizeUnknown, mapLocalError("statfs", p, err)
	}
	return free, nil
}

func (s *LocalStrategy) Close() error {
	return nil
}

// PurgeStaging removes everything under the root. Used for cache directories
// whose content does not survive restarts.
func (s *LocalStrategy) PurgeStaging() (int, error) {
	entries, err := os.ReadDir(s.validator.RootAbs())
	if err != nil {
		return 0, mapLocalError("purge", "/", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.validator.RootAbs(), entry.Name())); err != nil {
			return removed, mapLocalError("purge", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func localEntry(p string, info os.FileInfo) model.FileEntry {
	entry := model.FileEntry{
		Path:       p,
		Name:       info.Name(),
		Size:       info.Size(),
		ModTime:    info.ModTime().UTC(),
		CreateTime: fileCreateTime(info).UTC(),
		IsDir:      info.IsDir(),
	}
	if p == "/" {
		entry.Name = ""
	}
	if entry.IsDir {
		entry.Size = 0
	}
	entry.MediaType = util.MediaType(entry.Name, entry.IsDir)
	return entry
}

const stagingMarker = ".part-"

func stagingName(base string) string {
	return "." + base + stagingMarker + uuid.NewString()[:8]
}

func isStagingName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, stagingMarker)
}

type localReader struct {
	file *os.File
	path string
}

func (r *localReader) Read(p []byte) (int, error) {
	n, err := r.file.Read(p)
	if err != nil && err != io.EOF {
		return n, mapLocalError("read", r.path, err)
	}
	return n, err
}

func (r *localReader) Close() error {
	return mapLocalError("close", r.path, r.file.Close())
}

type localSink struct {
	file     *os.File
	tempPath string
	target   string
	path     string
	mode     WriteMode
	done     bool
}

func (w *localSink) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, mapLocalError("write", w.path, err)
	}
	return n, nil
}

func (w *localSink) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tempPath)
		return mapLocalError("write", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tempPath)
		return mapLocalError("write", w.path, err)
	}

	if w.mode == WriteCreate {
		if _, err := os.Lstat(w.target); err == nil {
			_ = os.Remove(w.tempPath)
			return mapLocalError("write", w.path, os.ErrExist)
		}
	}

	if err := os.Rename(w.tempPath, w.target); err != nil {
		_ = os.Remove(w.tempPath)
		return mapLocalError("write", w.path, err)
	}

	return nil
}

func (w *localSink) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	_ = w.file.Close()
	if err := os.Remove(w.tempPath); err != nil && !os.IsNotExist(err) {
		return mapLocalError("abort", w.path, err)
	}
	return nil
}
