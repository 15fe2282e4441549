package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"go-file-engine/internal/model"
	"go-file-engine/internal/util"
)

// MemoryStrategy is an in-process Strategy used by tests and dry runs. It
// records call counts and can inject failures per operation and path.
type MemoryStrategy struct {
	id       string
	protocol model.Protocol
	caps     model.Capabilities

	mu        sync.Mutex
	nodes     map[string]*memNode
	failures  map[string]error
	calls     map[string]int
	corrupt   bool
	free      int64
	onWrite   func(p string, written int64)
	clockTick time.Time
}

type memNode struct {
	data    []byte
	isDir   bool
	modTime time.Time
}

func NewMemoryStrategy(id string, protocol model.Protocol, caps model.Capabilities) *MemoryStrategy {
	return &MemoryStrategy{
		id:        id,
		protocol:  protocol,
		caps:      caps,
		nodes:     map[string]*memNode{"/": {isDir: true}},
		failures:  map[string]error{},
		calls:     map[string]int{},
		free:      model.SizeUnknown,
		clockTick: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *MemoryStrategy) ResourceID() string               { return s.id }
func (s *MemoryStrategy) Protocol() model.Protocol         { return s.protocol }
func (s *MemoryStrategy) SupportsAtomicRename() bool       { return s.caps.AtomicRename }
func (s *MemoryStrategy) Capabilities() model.Capabilities { return s.caps }
func (s *MemoryStrategy) Close() error                     { return nil }

// Put stores a file, creating parent directories.
func (s *MemoryStrategy) Put(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = CleanPath(p)
	s.mkdirAllLocked(ParentPath(p))
	s.nodes[p] = &memNode{data: append([]byte(nil), data...), modTime: s.tick()}
}

func (s *MemoryStrategy) PutDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(CleanPath(p))
}

// Read returns a copy of the file content at p.
func (s *MemoryStrategy) Read(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[CleanPath(p)]
	if !ok || node.isDir {
		return nil, false
	}
	return append([]byte(nil), node.data...), true
}

func (s *MemoryStrategy) Has(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[CleanPath(p)]
	return ok
}

// Paths lists every stored path in order, directories included.
func (s *MemoryStrategy) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.nodes))
	for p := range s.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FailOn makes op on p return err until cleared. Either may be "*".
func (s *MemoryStrategy) FailOn(op string, p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p != "*" {
		p = CleanPath(p)
	}
	s.failures[op+" "+p] = err
}

func (s *MemoryStrategy) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

func (s *MemoryStrategy) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// SetCorruptWrites makes committed files lose their last byte.
func (s *MemoryStrategy) SetCorruptWrites(corrupt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = corrupt
}

func (s *MemoryStrategy) SetFreeSpace(free int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = free
}

// OnWrite is called after every chunk written to a sink.
func (s *MemoryStrategy) OnWrite(fn func(p string, written int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

func (s *MemoryStrategy) tick() time.Time {
	s.clockTick = s.clockTick.Add(time.Second)
	return s.clockTick
}

func (s *MemoryStrategy) enter(ctx context.Context, op string, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++

	if err := ctx.Err(); err != nil {
		return &model.OpError{Kind: model.KindCancelled, Op: op, Path: p, Protocol: s.protocol, Err: err}
	}
	for _, key := range []string{op + " " + CleanPath(p), op + " *", "* " + CleanPath(p), "* *"} {
		if err, ok := s.failures[key]; ok {
			return err
		}
	}
	return nil
}

func (s *MemoryStrategy) notFound(op string, p string) error {
	return &model.OpError{Kind: model.KindNotFound, Op: op, Path: p, Protocol: s.protocol}
}

func (s *MemoryStrategy) mkdirAllLocked(p string) {
	for dir := p; ; dir = ParentPath(dir) {
		if _, ok := s.nodes[dir]; !ok {
			s.nodes[dir] = &memNode{isDir: true, modTime: s.tick()}
		}
		if dir == "/" {
			return
		}
	}
}

func (s *MemoryStrategy) entryLocked(p string, node *memNode) model.FileEntry {
	entry := model.FileEntry{
		Path:      p,
		Name:      BaseName(p),
		ModTime:   node.modTime,
		IsDir:     node.isDir,
		MediaType: util.MediaType(BaseName(p), node.isDir),
	}
	if !node.isDir {
		entry.Size = int64(len(node.data))
	}
	return entry
}

func (s *MemoryStrategy) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	if err := s.enter(ctx, "list", dir); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir = CleanPath(dir)
	node, ok := s.nodes[dir]
	if !ok || !node.isDir {
		return nil, s.notFound("list", dir)
	}

	var entries []model.FileEntry
	for p, child := range s.nodes {
		if p != "/" && ParentPath(p) == dir {
			entries = append(entries, s.entryLocked(p, child))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *MemoryStrategy) Stat(ctx context.Context, p string) (model.FileEntry, error) {
	if err := s.enter(ctx, "stat", p); err != nil {
		return model.FileEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[CleanPath(p)]
	if !ok {
		return model.FileEntry{}, s.notFound("stat", p)
	}
	return s.entryLocked(CleanPath(p), node), nil
}

func (s *MemoryStrategy) Exists(ctx context.Context, p string) (bool, error) {
	return existsVia(ctx, s, p)
}

func (s *MemoryStrategy) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := s.enter(ctx, "read", p); err != nil {
		return nil, err
	}
	data, ok := s.Read(p)
	if !ok {
		return nil, s.notFound("read", p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStrategy) OpenWrite(ctx context.Context, p string, mode WriteMode) (Sink, error) {
	if err := s.enter(ctx, "write", p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p = CleanPath(p)
	if node, ok := s.nodes[p]; ok && (mode == WriteCreate || node.isDir) {
		return nil, &model.OpError{Kind: model.KindAlreadyExists, Op: "write", Path: p, Protocol: s.protocol}
	}
	return &memorySink{store: s, path: p, mode: mode}, nil
}

func (s *MemoryStrategy) Delete(ctx context.Context, p string, mode model.DeleteMode) error {
	if err := s.enter(ctx, "delete", p); err != nil {
		return err
	}
	if mode == model.DeleteTrash && !s.caps.NativeTrash {
		return &model.OpError{Kind: model.KindPermissionDenied, Op: "delete", Path: p, Protocol: s.protocol, Detail: errNativeTrashUnsupported.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p = CleanPath(p)
	if p == "/" {
		return &model.OpError{Kind: model.KindPermissionDenied, Op: "delete", Path: p, Protocol: s.protocol}
	}
	if _, ok := s.nodes[p]; !ok {
		return s.notFound("delete", p)
	}
	for key := range s.nodes {
		if IsWithin(p, key) {
			delete(s.nodes, key)
		}
	}
	return nil
}

func (s *MemoryStrategy) Rename(ctx context.Context, oldPath string, newPath string) error {
	if err := s.enter(ctx, "rename", oldPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	oldPath, newPath = CleanPath(oldPath), CleanPath(newPath)
	if _, ok := s.nodes[oldPath]; !ok {
		return s.notFound("rename", oldPath)
	}
	if _, ok := s.nodes[newPath]; ok {
		return &model.OpError{Kind: model.KindAlreadyExists, Op: "rename", Path: newPath, Protocol: s.protocol}
	}

	s.mkdirAllLocked(ParentPath(newPath))
	moved := map[string]*memNode{}
	for key, node := range s.nodes {
		if IsWithin(oldPath, key) {
			moved[newPath+key[len(oldPath):]] = node
			delete(s.nodes, key)
		}
	}
	for key, node := range moved {
		s.nodes[key] = node
	}
	return nil
}

func (s *MemoryStrategy) Mkdir(ctx context.Context, p string) error {
	if err := s.enter(ctx, "mkdir", p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p = CleanPath(p)
	for dir := p; dir != "/"; dir = ParentPath(dir) {
		if node, ok := s.nodes[dir]; ok && !node.isDir {
			return &model.OpError{Kind: model.KindAlreadyExists, Op: "mkdir", Path: dir, Protocol: s.protocol}
		}
	}
	s.mkdirAllLocked(p)
	return nil
}

func (s *MemoryStrategy) FreeSpace(ctx context.Context, p string) (int64, error) {
	if err := s.enter(ctx, "statfs", p); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.free, nil
}

func (s *MemoryStrategy) Checksum(ctx context.Context, p string) (string, error) {
	data, ok := s.Read(p)
	if !ok {
		return "", s.notFound("checksum", p)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

type memorySink struct {
	store *MemoryStrategy
	path  string
	mode  WriteMode
	buf   bytes.Buffer
	done  bool
}

func (w *memorySink) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write to closed sink %s", w.path)
	}
	n, _ := w.buf.Write(p)

	w.store.mu.Lock()
	hook := w.store.onWrite
	w.store.mu.Unlock()
	if hook != nil {
		hook(w.path, int64(w.buf.Len()))
	}
	return n, nil
}

func (w *memorySink) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.store.enter(context.Background(), "commit", w.path); err != nil {
		return err
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	if node, ok := w.store.nodes[w.path]; ok && (w.mode == WriteCreate || node.isDir) {
		return &model.OpError{Kind: model.KindAlreadyExists, Op: "write", Path: w.path, Protocol: w.store.protocol}
	}

	data := append([]byte(nil), w.buf.Bytes()...)
	if w.store.corrupt && len(data) > 0 {
		data = data[:len(data)-1]
	}
	w.store.mkdirAllLocked(ParentPath(w.path))
	w.store.nodes[w.path] = &memNode{data: data, modTime: w.store.tick()}
	return nil
}

func (w *memorySink) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
