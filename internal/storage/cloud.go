package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
	"go-file-engine/internal/retry"
	"go-file-engine/internal/util"
)

// ObjectClient is the provider API behind CloudStrategy. Keys are absolute
// slash paths within the provider namespace with the resource root applied.
type ObjectClient interface {
	List(ctx context.Context, key string) ([]model.FileEntry, error)
	Stat(ctx context.Context, key string) (model.FileEntry, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Upload replaces any object at key. size may be model.SizeUnknown.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	// Delete moves to the provider trash unless permanent is set.
	Delete(ctx context.Context, key string, permanent bool) error
	Move(ctx context.Context, from string, to string) error
	// Mkdir creates key and any missing parents.
	Mkdir(ctx context.Context, key string) error
	// Quota reports free bytes or model.SizeUnknown.
	Quota(ctx context.Context) (int64, error)
	Features() CloudFeatures
}

type CloudFeatures struct {
	AtomicMove  bool
	NativeTrash bool
}

// cloudSession is a placeholder lease; cloud pools only bound concurrency and
// throttle request rate.
type cloudSession struct{}

func (cloudSession) Close() error { return nil }

func CloudDialer() connection.Dialer {
	return func(context.Context) (connection.Session, error) {
		return cloudSession{}, nil
	}
}

type CloudStrategy struct {
	desc   model.ResourceDescriptor
	pool   *connection.Pool
	client ObjectClient
}

func NewCloudStrategy(desc model.ResourceDescriptor, pool *connection.Pool, client ObjectClient) *CloudStrategy {
	return &CloudStrategy{desc: desc, pool: pool, client: client}
}

func (s *CloudStrategy) ResourceID() string       { return s.desc.ID }
func (s *CloudStrategy) Protocol() model.Protocol { return s.desc.Protocol }

func (s *CloudStrategy) SupportsAtomicRename() bool {
	return s.client.Features().AtomicMove
}

func (s *CloudStrategy) Capabilities() model.Capabilities {
	features := s.client.Features()
	caps := s.desc.Capabilities
	caps.AtomicRename = features.AtomicMove
	caps.NativeTrash = features.NativeTrash
	caps.CheapChecksum = false
	return caps
}

func (s *CloudStrategy) key(p string) string {
	return JoinPath(CleanPath(s.desc.Root), trimLeadingSlash(CleanPath(p)))
}

func (s *CloudStrategy) mapErr(op string, p string, err error) error {
	return mapCloudError(s.desc.Protocol, op, p, err)
}

func (s *CloudStrategy) call(ctx context.Context, op string, p string, fn func(ctx context.Context) error) error {
	return connection.Exec(ctx, s.pool, func(ctx context.Context, _ connection.Session) error {
		if err := fn(ctx); err != nil {
			return s.mapErr(op, p, err)
		}
		return nil
	})
}

func (s *CloudStrategy) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	var entries []model.FileEntry
	err := s.call(ctx, "list", dir, func(ctx context.Context) error {
		native, err := s.client.List(ctx, s.key(dir))
		if err != nil {
			return err
		}
		entries = make([]model.FileEntry, 0, len(native))
		for _, entry := range native {
			if isStagingName(entry.Name) {
				continue
			}
			entries = append(entries, s.relative(JoinPath(dir, entry.Name), entry))
		}
		return nil
	})
	return entries, err
}

func (s *CloudStrategy) Stat(ctx context.Context, p string) (model.FileEntry, error) {
	var entry model.FileEntry
	err := s.call(ctx, "stat", p, func(ctx context.Context) error {
		native, err := s.client.Stat(ctx, s.key(p))
		if err != nil {
			return err
		}
		entry = s.relative(CleanPath(p), native)
		return nil
	})
	return entry, err
}

func (s *CloudStrategy) relative(p string, native model.FileEntry) model.FileEntry {
	native.Path = p
	native.Name = BaseName(p)
	if native.IsDir {
		native.Size = 0
	}
	native.MediaType = util.MediaType(native.Name, native.IsDir)
	return native
}

func (s *CloudStrategy) Exists(ctx context.Context, p string) (bool, error) {
	return existsVia(ctx, s, p)
}

func (s *CloudStrategy) lease(ctx context.Context) (*connection.Lease, error) {
	return retry.DoWithResult(ctx, s.pool.Config().Retry, func() (*connection.Lease, error) {
		return s.pool.Acquire(ctx)
	})
}

func (s *CloudStrategy) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	lease, err := s.lease(ctx)
	if err != nil {
		return nil, err
	}
	return s.readOn(ctx, lease, p)
}

// OpenWrite streams into a single provider upload. Providers only publish the
// object once the upload completes, so Abort leaves nothing behind.
func (s *CloudStrategy) OpenWrite(ctx context.Context, p string, mode WriteMode) (Sink, error) {
	lease, err := s.lease(ctx)
	if err != nil {
		return nil, err
	}
	return s.writeOn(ctx, lease, p, mode)
}

func (s *CloudStrategy) OpenPair(ctx context.Context, src string, dst string, mode WriteMode) (io.ReadCloser, Sink, error) {
	leases, err := leasePair(ctx, s.pool)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s.readOn(ctx, leases[0], src)
	if err != nil {
		leases[1].Release()
		return nil, nil, err
	}

	sink, err := s.writeOn(ctx, leases[1], dst, mode)
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	return reader, sink, nil
}

func (s *CloudStrategy) readOn(ctx context.Context, lease *connection.Lease, p string) (io.ReadCloser, error) {
	reader, err := s.client.Download(ctx, s.key(p))
	if err != nil {
		mapped := s.mapErr("open", p, err)
		lease.Done(mapped)
		return nil, mapped
	}

	return &leasedReader{reader: reader, lease: lease, path: p, mapErr: s.mapErr}, nil
}

// writeOn checks the target with the lease it already holds; going back to
// the pool for the stat could wait on a session this caller is keeping busy.
func (s *CloudStrategy) writeOn(ctx context.Context, lease *connection.Lease, p string, mode WriteMode) (Sink, error) {
	existing, err := s.client.Stat(ctx, s.key(p))
	switch {
	case err == nil && (mode == WriteCreate || existing.IsDir):
		lease.Release()
		return nil, &model.OpError{Kind: model.KindAlreadyExists, Op: "write", Path: p, Protocol: s.desc.Protocol}
	case err != nil:
		if mapped := s.mapErr("write", p, err); model.KindOf(mapped) != model.KindNotFound {
			lease.Done(mapped)
			return nil, mapped
		}
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	reader, writer := io.Pipe()
	sink := &cloudSink{writer: writer, cancel: cancel, lease: lease, done: make(chan error, 1), path: p, mapErr: s.mapErr}

	go func() {
		err := s.client.Upload(uploadCtx, s.key(p), reader, model.SizeUnknown)
		_ = reader.CloseWithError(err)
		sink.done <- err
	}()

	return sink, nil
}

func (s *CloudStrategy) Delete(ctx context.Context, p string, mode model.DeleteMode) error {
	if mode == model.DeleteTrash && !s.client.Features().NativeTrash {
		return s.mapErr("delete", p, errNativeTrashUnsupported)
	}
	if CleanPath(p) == "/" {
		return &model.OpError{Kind: model.KindPermissionDenied, Op: "delete", Path: p, Protocol: s.desc.Protocol, Detail: "refusing to delete resource root"}
	}

	return s.call(ctx, "delete", p, func(ctx context.Context) error {
		return s.client.Delete(ctx, s.key(p), mode == model.DeletePermanent)
	})
}

func (s *CloudStrategy) Rename(ctx context.Context, oldPath string, newPath string) error {
	return s.call(ctx, "rename", oldPath, func(ctx context.Context) error {
		if _, err := s.client.Stat(ctx, s.key(newPath)); err == nil {
			return &model.OpError{Kind: model.KindAlreadyExists, Op: "rename", Path: newPath, Protocol: s.desc.Protocol}
		}
		if parent := ParentPath(newPath); parent != "/" {
			if err := s.client.Mkdir(ctx, s.key(parent)); err != nil {
				return err
			}
		}
		return s.client.Move(ctx, s.key(oldPath), s.key(newPath))
	})
}

func (s *CloudStrategy) Mkdir(ctx context.Context, p string) error {
	return s.call(ctx, "mkdir", p, func(ctx context.Context) error {
		return s.client.Mkdir(ctx, s.key(p))
	})
}

func (s *CloudStrategy) FreeSpace(ctx context.Context, _ string) (int64, error) {
	free := model.SizeUnknown
	err := s.call(ctx, "quota", "/", func(ctx context.Context) error {
		n, err := s.client.Quota(ctx)
		if err != nil {
			return err
		}
		free = n
		return nil
	})
	return free, err
}

func (s *CloudStrategy) Close() error {
	return s.pool.Close()
}

type cloudSink struct {
	writer *io.PipeWriter
	cancel context.CancelFunc
	lease  *connection.Lease
	done   chan error
	path   string
	mapErr errorMapper
	once   sync.Once
	result error
}

func (w *cloudSink) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	if err != nil {
		return n, w.mapErr("write", w.path, err)
	}
	return n, nil
}

func (w *cloudSink) Close() error {
	w.once.Do(func() {
		_ = w.writer.Close()
		if err := <-w.done; err != nil {
			w.result = w.mapErr("write", w.path, err)
		}
		w.cancel()
		w.lease.Done(w.result)
	})
	return w.result
}

func (w *cloudSink) Abort() error {
	w.once.Do(func() {
		w.cancel()
		_ = w.writer.CloseWithError(errUploadAborted)
		<-w.done
		w.lease.Release()
	})
	return nil
}

var errUploadAborted = errors.New("upload aborted")

// restClient is the shared JSON-over-HTTP plumbing of the Dropbox and
// OneDrive clients. The http.Client carries the OAuth2 transport.
type restClient struct {
	http *http.Client
}

func (c *restClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// stream returns the body of a successful response; the caller closes it.
func (c *restClient) stream(req *http.Request) (io.ReadCloser, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &httpStatusError{Status: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header), Body: string(body)}
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}
