package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
	"go-file-engine/internal/retry"
	"go-file-engine/internal/util"
)

// fileSession is the per-protocol adapter behind remoteStrategy. Paths are
// absolute on the server (resource root already applied). Errors are native
// and get mapped by the strategy.
type fileSession interface {
	connection.Session
	readDir(ctx context.Context, dir string) ([]model.FileEntry, error)
	stat(ctx context.Context, p string) (model.FileEntry, error)
	open(ctx context.Context, p string) (io.ReadCloser, error)
	create(ctx context.Context, p string) (io.WriteCloser, error)
	remove(ctx context.Context, p string) error
	removeDir(ctx context.Context, p string) error
	rename(ctx context.Context, oldPath string, newPath string) error
	mkdir(ctx context.Context, p string) error
}

// spaceReporter is implemented by sessions that can report free space.
type spaceReporter interface {
	freeSpace(ctx context.Context, p string) (int64, error)
}

type errorMapper func(op string, p string, err error) error

// remoteStrategy implements Strategy for session-oriented file protocols on
// top of a connection pool.
type remoteStrategy struct {
	desc   model.ResourceDescriptor
	pool   *connection.Pool
	mapErr errorMapper
}

func newRemoteStrategy(desc model.ResourceDescriptor, pool *connection.Pool, mapErr errorMapper) *remoteStrategy {
	return &remoteStrategy{desc: desc, pool: pool, mapErr: mapErr}
}

func (s *remoteStrategy) ResourceID() string       { return s.desc.ID }
func (s *remoteStrategy) Protocol() model.Protocol { return s.desc.Protocol }

func (s *remoteStrategy) SupportsAtomicRename() bool {
	return true
}

func (s *remoteStrategy) Capabilities() model.Capabilities {
	caps := s.desc.Capabilities
	caps.AtomicRename = true
	caps.NativeTrash = false
	return caps
}

func (s *remoteStrategy) native(p string) string {
	return path.Join("/", s.desc.Root, CleanPath(p))
}

func (s *remoteStrategy) call(ctx context.Context, op string, p string, fn func(ctx context.Context, fs fileSession) error) error {
	return connection.Exec(ctx, s.pool, func(ctx context.Context, session connection.Session) error {
		if err := fn(ctx, session.(fileSession)); err != nil {
			return s.mapErr(op, p, err)
		}
		return nil
	})
}

func (s *remoteStrategy) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	var entries []model.FileEntry
	err := s.call(ctx, "list", dir, func(ctx context.Context, fs fileSession) error {
		native, err := fs.readDir(ctx, s.native(dir))
		if err != nil {
			return err
		}
		entries = make([]model.FileEntry, 0, len(native))
		for _, entry := range native {
			if entry.Name == "." || entry.Name == ".." || isStagingName(entry.Name) {
				continue
			}
			entries = append(entries, s.relative(JoinPath(dir, entry.Name), entry))
		}
		return nil
	})
	return entries, err
}

func (s *remoteStrategy) Stat(ctx context.Context, p string) (model.FileEntry, error) {
	var entry model.FileEntry
	err := s.call(ctx, "stat", p, func(ctx context.Context, fs fileSession) error {
		native, err := fs.stat(ctx, s.native(p))
		if err != nil {
			return err
		}
		entry = s.relative(CleanPath(p), native)
		return nil
	})
	return entry, err
}

func (s *remoteStrategy) relative(p string, native model.FileEntry) model.FileEntry {
	native.Path = p
	native.Name = BaseName(p)
	if native.IsDir {
		native.Size = 0
	}
	native.MediaType = util.MediaType(native.Name, native.IsDir)
	return native
}

func (s *remoteStrategy) Exists(ctx context.Context, p string) (bool, error) {
	return existsVia(ctx, s, p)
}

// lease acquires a session for a streaming operation. Acquisition itself is
// retried; the stream is not.
func (s *remoteStrategy) lease(ctx context.Context) (*connection.Lease, fileSession, error) {
	lease, err := retry.DoWithResult(ctx, s.pool.Config().Retry, func() (*connection.Lease, error) {
		return s.pool.Acquire(ctx)
	})
	if err != nil {
		return nil, nil, err
	}
	return lease, lease.Session.(fileSession), nil
}

// leasePair takes a reader and a writer session together. A pool bounded to
// one session reports ErrSingleSession so the caller can stage instead.
func leasePair(ctx context.Context, pool *connection.Pool) ([]*connection.Lease, error) {
	if pool.Config().MaxConcurrency < 2 {
		return nil, fmt.Errorf("%s: %w", pool.ResourceID(), ErrSingleSession)
	}
	return retry.DoWithResult(ctx, pool.Config().Retry, func() ([]*connection.Lease, error) {
		return pool.AcquireN(ctx, 2)
	})
}

func (s *remoteStrategy) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	lease, fs, err := s.lease(ctx)
	if err != nil {
		return nil, err
	}
	return s.readOn(ctx, lease, fs, p)
}

// OpenWrite writes to a hidden sibling and renames it over the target on Close,
// so an aborted or failed transfer never leaves a partial file at the target.
func (s *remoteStrategy) OpenWrite(ctx context.Context, p string, mode WriteMode) (Sink, error) {
	lease, fs, err := s.lease(ctx)
	if err != nil {
		return nil, err
	}
	return s.writeOn(ctx, lease, fs, p, mode)
}

func (s *remoteStrategy) OpenPair(ctx context.Context, src string, dst string, mode WriteMode) (io.ReadCloser, Sink, error) {
	leases, err := leasePair(ctx, s.pool)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s.readOn(ctx, leases[0], leases[0].Session.(fileSession), src)
	if err != nil {
		leases[1].Release()
		return nil, nil, err
	}

	sink, err := s.writeOn(ctx, leases[1], leases[1].Session.(fileSession), dst, mode)
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	return reader, sink, nil
}

func (s *remoteStrategy) readOn(ctx context.Context, lease *connection.Lease, fs fileSession, p string) (io.ReadCloser, error) {
	reader, err := fs.open(ctx, s.native(p))
	if err != nil {
		mapped := s.mapErr("open", p, err)
		lease.Done(mapped)
		return nil, mapped
	}

	return &leasedReader{reader: reader, lease: lease, path: p, mapErr: s.mapErr}, nil
}

func (s *remoteStrategy) writeOn(ctx context.Context, lease *connection.Lease, fs fileSession, p string, mode WriteMode) (Sink, error) {
	target := s.native(p)
	existing, statErr := fs.stat(ctx, target)
	switch {
	case statErr == nil && mode == WriteCreate:
		lease.Release()
		return nil, &model.OpError{Kind: model.KindAlreadyExists, Op: "write", Path: p, Protocol: s.desc.Protocol}
	case statErr == nil && existing.IsDir:
		lease.Release()
		return nil, &model.OpError{Kind: model.KindAlreadyExists, Op: "write", Path: p, Protocol: s.desc.Protocol, Detail: "target is a directory"}
	case statErr != nil:
		if mapped := s.mapErr("write", p, statErr); model.KindOf(mapped) != model.KindNotFound {
			lease.Done(mapped)
			return nil, mapped
		}
	}

	if err := mkdirAll(ctx, fs, path.Dir(target)); err != nil {
		mapped := s.mapErr("write", p, err)
		lease.Done(mapped)
		return nil, mapped
	}

	temp := path.Join(path.Dir(target), stagingName(path.Base(target)))
	writer, err := fs.create(ctx, temp)
	if err != nil {
		mapped := s.mapErr("write", p, err)
		lease.Done(mapped)
		return nil, mapped
	}

	return &stagedSink{
		ctx: ctx, fs: fs, lease: lease, writer: writer,
		temp: temp, target: target, path: p, mode: mode, mapErr: s.mapErr,
	}, nil
}

func (s *remoteStrategy) Delete(ctx context.Context, p string, mode model.DeleteMode) error {
	if mode == model.DeleteTrash {
		return s.mapErr("delete", p, errNativeTrashUnsupported)
	}
	if CleanPath(p) == "/" {
		return &model.OpError{Kind: model.KindPermissionDenied, Op: "delete", Path: p, Protocol: s.desc.Protocol, Detail: "refusing to delete resource root"}
	}

	return s.call(ctx, "delete", p, func(ctx context.Context, fs fileSession) error {
		return removeTree(ctx, fs, s.native(p))
	})
}

func (s *remoteStrategy) Rename(ctx context.Context, oldPath string, newPath string) error {
	return s.call(ctx, "rename", oldPath, func(ctx context.Context, fs fileSession) error {
		target := s.native(newPath)
		if _, err := fs.stat(ctx, target); err == nil {
			return &model.OpError{Kind: model.KindAlreadyExists, Op: "rename", Path: newPath, Protocol: s.desc.Protocol}
		}
		if err := mkdirAll(ctx, fs, path.Dir(target)); err != nil {
			return err
		}
		return fs.rename(ctx, s.native(oldPath), target)
	})
}

func (s *remoteStrategy) Mkdir(ctx context.Context, p string) error {
	return s.call(ctx, "mkdir", p, func(ctx context.Context, fs fileSession) error {
		return mkdirAll(ctx, fs, s.native(p))
	})
}

func (s *remoteStrategy) FreeSpace(ctx context.Context, p string) (int64, error) {
	free := model.SizeUnknown
	err := s.call(ctx, "statfs", p, func(ctx context.Context, fs fileSession) error {
		reporter, ok := fs.(spaceReporter)
		if !ok {
			return nil
		}
		dir := s.native(p)
		for {
			n, err := reporter.freeSpace(ctx, dir)
			if err == nil {
				free = n
				return nil
			}
			if dir == "/" || model.KindOf(s.mapErr("statfs", p, err)) != model.KindNotFound {
				return err
			}
			dir = path.Dir(dir)
		}
	})
	return free, err
}

func (s *remoteStrategy) Close() error {
	return s.pool.Close()
}

func mkdirAll(ctx context.Context, fs fileSession, dir string) error {
	if dir == "/" || dir == "." || dir == "" {
		return nil
	}

	entry, err := fs.stat(ctx, dir)
	if err == nil {
		if !entry.IsDir {
			return &model.OpError{Kind: model.KindAlreadyExists, Op: "mkdir", Path: dir, Detail: "a file exists at this path"}
		}
		return nil
	}

	if err := mkdirAll(ctx, fs, path.Dir(dir)); err != nil {
		return err
	}

	if err := fs.mkdir(ctx, dir); err != nil {
		// A concurrent sibling may have created it.
		if entry, statErr := fs.stat(ctx, dir); statErr == nil && entry.IsDir {
			return nil
		}
		return err
	}
	return nil
}

func removeTree(ctx context.Context, fs fileSession, p string) error {
	entry, err := fs.stat(ctx, p)
	if err != nil {
		return err
	}
	if !entry.IsDir {
		return fs.remove(ctx, p)
	}

	children, err := fs.readDir(ctx, p)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Name == "." || child.Name == ".." {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := removeTree(ctx, fs, path.Join(p, child.Name)); err != nil {
			return err
		}
	}
	return fs.removeDir(ctx, p)
}

type leasedReader struct {
	reader  io.ReadCloser
	lease   *connection.Lease
	path    string
	mapErr  errorMapper
	failure error
}

func (r *leasedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		r.failure = r.mapErr("read", r.path, err)
		return n, r.failure
	}
	return n, err
}

func (r *leasedReader) Close() error {
	closeErr := r.reader.Close()
	if r.failure == nil && closeErr != nil {
		r.failure = r.mapErr("read", r.path, closeErr)
	}
	r.lease.Done(r.failure)
	return r.failure
}

type stagedSink struct {
	ctx    context.Context
	fs     fileSession
	lease  *connection.Lease
	writer io.WriteCloser
	temp   string
	target string
	path   string
	mode   WriteMode
	mapErr errorMapper
	done   bool
}

func (w *stagedSink) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	if err != nil {
		return n, w.mapErr("write", w.path, err)
	}
	return n, nil
}

func (w *stagedSink) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	err := w.commit()
	if err != nil {
		_ = w.fs.remove(context.WithoutCancel(w.ctx), w.temp)
		mapped := w.mapErr("write", w.path, err)
		w.lease.Done(mapped)
		return mapped
	}

	w.lease.Release()
	return nil
}

func (w *stagedSink) commit() error {
	if err := w.writer.Close(); err != nil {
		return err
	}

	if _, err := w.fs.stat(w.ctx, w.target); err == nil {
		if w.mode == WriteCreate {
			return &model.OpError{Kind: model.KindAlreadyExists, Op: "write", Path: w.path}
		}
		if err := w.fs.remove(w.ctx, w.target); err != nil {
			return err
		}
	}

	return w.fs.rename(w.ctx, w.temp, w.target)
}

func (w *stagedSink) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	// Cleanup must run even when the transfer context is already cancelled.
	ctx := context.WithoutCancel(w.ctx)
	_ = w.writer.Close()
	err := w.fs.remove(ctx, w.temp)
	if err != nil && model.KindOf(w.mapErr("abort", w.path, err)) == model.KindNotFound {
		err = nil
	}
	if err != nil {
		mapped := w.mapErr("abort", w.path, err)
		w.lease.Done(mapped)
		return mapped
	}

	w.lease.Release()
	return nil
}

func trimLeadingSlash(p string) string {
	return strings.TrimPrefix(p, "/")
}
