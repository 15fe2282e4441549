package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
)

// MemoryServer is an in-process file server reached through pooled sessions.
// Paired with NewMemoryRemoteStrategy it runs the same lease and staging code
// an SFTP, SMB or FTP resource does, without a network.
type MemoryServer struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	dials    int
	readErr  error
	openHook func()
}

func NewMemoryServer() *MemoryServer {
	return &MemoryServer{files: map[string][]byte{}, dirs: map[string]bool{"/": true}}
}

// NewMemoryRemoteStrategy serves desc from server through pool. Errors are
// mapped with the mapper of desc.Protocol.
func NewMemoryRemoteStrategy(desc model.ResourceDescriptor, pool *connection.Pool) Strategy {
	mapErr := mapSFTPError
	switch desc.Protocol {
	case model.ProtocolSMB:
		mapErr = mapSMBError
	case model.ProtocolFTP:
		mapErr = mapFTPError
	}
	return newRemoteStrategy(desc, pool, mapErr)
}

func (s *MemoryServer) Dialer() connection.Dialer {
	return func(context.Context) (connection.Session, error) {
		s.mu.Lock()
		s.dials++
		s.mu.Unlock()
		return &memorySession{server: s}, nil
	}
}

// PutFile stores data at an absolute server path, creating parent directories.
func (s *MemoryServer) PutFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		s.dirs[dir] = true
		if dir == "/" {
			break
		}
	}
	s.files[p] = append([]byte(nil), data...)
}

func (s *MemoryServer) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p]
	return append([]byte(nil), data...), ok
}

// Paths lists every stored file, staging files included.
func (s *MemoryServer) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *MemoryServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// FailReads makes every later read fail with err.
func (s *MemoryServer) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// OnOpen runs fn each time a file is opened for reading.
func (s *MemoryServer) OnOpen(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openHook = fn
}

type memorySession struct {
	server *MemoryServer
}

func (f *memorySession) Close() error { return nil }

func (f *memorySession) readDir(_ context.Context, dir string) ([]model.FileEntry, error) {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	if !f.server.dirs[dir] {
		return nil, os.ErrNotExist
	}
	entries := []model.FileEntry{{Name: ".", IsDir: true}, {Name: "..", IsDir: true}}
	for p := range f.server.dirs {
		if p != "/" && path.Dir(p) == dir {
			entries = append(entries, model.FileEntry{Name: path.Base(p), IsDir: true})
		}
	}
	for p, data := range f.server.files {
		if path.Dir(p) == dir {
			entries = append(entries, model.FileEntry{Name: path.Base(p), Size: int64(len(data))})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *memorySession) stat(_ context.Context, p string) (model.FileEntry, error) {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	if f.server.dirs[p] {
		return model.FileEntry{Name: path.Base(p), IsDir: true}, nil
	}
	if data, ok := f.server.files[p]; ok {
		return model.FileEntry{Name: path.Base(p), Size: int64(len(data)), ModTime: time.Unix(1700000000, 0)}, nil
	}
	return model.FileEntry{}, os.ErrNotExist
}

func (f *memorySession) open(_ context.Context, p string) (io.ReadCloser, error) {
	f.server.mu.Lock()
	data, ok := f.server.files[p]
	readErr := f.server.readErr
	hook := f.server.openHook
	f.server.mu.Unlock()

	if !ok {
		return nil, os.ErrNotExist
	}
	if hook != nil {
		hook()
	}
	if readErr != nil {
		return io.NopCloser(&failingReader{err: readErr}), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

type memoryUpload struct {
	server *MemoryServer
	path   string
	buf    bytes.Buffer
}

func (u *memoryUpload) Write(p []byte) (int, error) { return u.buf.Write(p) }

func (u *memoryUpload) Close() error {
	u.server.mu.Lock()
	defer u.server.mu.Unlock()
	u.server.files[u.path] = u.buf.Bytes()
	return nil
}

func (f *memorySession) create(_ context.Context, p string) (io.WriteCloser, error) {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	if _, ok := f.server.files[p]; ok {
		return nil, os.ErrExist
	}
	f.server.files[p] = nil
	return &memoryUpload{server: f.server, path: p}, nil
}

func (f *memorySession) remove(_ context.Context, p string) error {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	if _, ok := f.server.files[p]; !ok {
		return os.ErrNotExist
	}
	delete(f.server.files, p)
	return nil
}

func (f *memorySession) removeDir(_ context.Context, p string) error {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	delete(f.server.dirs, p)
	return nil
}

func (f *memorySession) rename(_ context.Context, oldPath string, newPath string) error {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	data, ok := f.server.files[oldPath]
	if !ok {
		return os.ErrNotExist
	}
	delete(f.server.files, oldPath)
	f.server.files[newPath] = data
	return nil
}

func (f *memorySession) mkdir(_ context.Context, p string) error {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	f.server.dirs[p] = true
	return nil
}

func (f *memorySession) freeSpace(_ context.Context, p string) (int64, error) {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	if !f.server.dirs[p] {
		return 0, os.ErrNotExist
	}
	return 1 << 30, nil
}
