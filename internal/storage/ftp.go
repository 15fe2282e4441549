package storage

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
)

const defaultFTPPort = 21

type ftpSession struct {
	conn *ftp.ServerConn
}

func NewFTPDialer(desc model.ResourceDescriptor, cred model.Credential) connection.Dialer {
	addr := hostPort(desc, defaultFTPPort)
	timeout := desc.Connection.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return func(ctx context.Context) (connection.Session, error) {
		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, mapFTPError("connect", "/", err)
		}

		user := cred.Username
		if user == "" {
			user = "anonymous"
		}
		if err := conn.Login(user, cred.Password); err != nil {
			_ = conn.Quit()
			return nil, mapFTPError("login", "/", err)
		}

		return &ftpSession{conn: conn}, nil
	}
}

// NewFTPStrategy serves an FTP account. Stat is answered from a listing of the
// parent because MLST support is not universal.
func NewFTPStrategy(desc model.ResourceDescriptor, pool *connection.Pool) Strategy {
	return newRemoteStrategy(desc, pool, mapFTPError)
}

func (s *ftpSession) Close() error {
	return s.conn.Quit()
}

func (s *ftpSession) KeepAlive(_ context.Context) error {
	return mapFTPError("keepalive", "/", s.conn.NoOp())
}

func (s *ftpSession) readDir(_ context.Context, dir string) ([]model.FileEntry, error) {
	list, err := s.conn.List(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]model.FileEntry, 0, len(list))
	for _, item := range list {
		entries = append(entries, ftpEntry(item))
	}
	return entries, nil
}

func (s *ftpSession) stat(ctx context.Context, p string) (model.FileEntry, error) {
	if p == "/" {
		return model.FileEntry{Name: "/", IsDir: true}, nil
	}

	siblings, err := s.readDir(ctx, path.Dir(p))
	if err != nil {
		return model.FileEntry{}, err
	}
	name := path.Base(p)
	for _, entry := range siblings {
		if entry.Name == name {
			return entry, nil
		}
	}
	return model.FileEntry{}, &model.OpError{Kind: model.KindNotFound, Op: "stat", Path: p, Protocol: model.ProtocolFTP}
}

func (s *ftpSession) open(_ context.Context, p string) (io.ReadCloser, error) {
	return s.conn.Retr(p)
}

// create streams through a pipe into STOR. The control connection is busy
// until the writer is closed.
func (s *ftpSession) create(_ context.Context, p string) (io.WriteCloser, error) {
	reader, writer := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := s.conn.Stor(p, reader)
		_ = reader.CloseWithError(err)
		done <- err
	}()
	return &ftpUpload{writer: writer, done: done}, nil
}

func (s *ftpSession) remove(_ context.Context, p string) error {
	return s.conn.Delete(p)
}

func (s *ftpSession) removeDir(_ context.Context, p string) error {
	return s.conn.RemoveDir(p)
}

func (s *ftpSession) rename(_ context.Context, oldPath string, newPath string) error {
	return s.conn.Rename(oldPath, newPath)
}

func (s *ftpSession) mkdir(_ context.Context, p string) error {
	return s.conn.MakeDir(p)
}

type ftpUpload struct {
	writer *io.PipeWriter
	done   chan error
}

// Write fails with the STOR reply once the server has rejected the upload.
func (u *ftpUpload) Write(p []byte) (int, error) {
	return u.writer.Write(p)
}

func (u *ftpUpload) Close() error {
	_ = u.writer.Close()
	return <-u.done
}

func ftpEntry(item *ftp.Entry) model.FileEntry {
	return model.FileEntry{
		Name:    item.Name,
		Size:    int64(item.Size),
		ModTime: item.Time.UTC(),
		IsDir:   item.Type == ftp.EntryTypeFolder,
	}
}
