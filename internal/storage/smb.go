package storage

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hirochachacha/go-smb2"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
)

const defaultSMBPort = 445

type smbSession struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
}

// NewSMBDialer opens a TCP connection, negotiates NTLM and mounts the share.
func NewSMBDialer(desc model.ResourceDescriptor, cred model.Credential) connection.Dialer {
	addr := hostPort(desc, defaultSMBPort)

	return func(ctx context.Context) (connection.Session, error) {
		dialCtx, cancel := withConnectTimeout(ctx, desc.Connection.ConnectTimeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, mapSMBError("connect", "/", err)
		}

		dialer := &smb2.Dialer{
			Initiator: &smb2.NTLMInitiator{
				User:     cred.Username,
				Password: cred.Password,
				Domain:   cred.Domain,
			},
		}

		session, err := dialer.DialContext(dialCtx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, mapSMBError("connect", "/", err)
		}

		share, err := session.WithContext(dialCtx).Mount(desc.Share)
		if err != nil {
			_ = session.Logoff()
			_ = conn.Close()
			return nil, mapSMBError("mount", "/", err)
		}

		return &smbSession{conn: conn, session: session, share: share}, nil
	}
}

// NewSMBStrategy serves a mounted share through the resource's pool.
func NewSMBStrategy(desc model.ResourceDescriptor, pool *connection.Pool) Strategy {
	return newRemoteStrategy(desc, pool, mapSMBError)
}

func (s *smbSession) fs(ctx context.Context) *smb2.Share {
	return s.share.WithContext(ctx)
}

func (s *smbSession) Close() error {
	_ = s.share.Umount()
	_ = s.session.Logoff()
	return s.conn.Close()
}

func (s *smbSession) KeepAlive(ctx context.Context) error {
	_, err := s.fs(ctx).Stat("")
	return mapSMBError("keepalive", "/", err)
}

func (s *smbSession) readDir(ctx context.Context, dir string) ([]model.FileEntry, error) {
	infos, err := s.fs(ctx).ReadDir(trimLeadingSlash(dir))
	if err != nil {
		return nil, err
	}
	entries := make([]model.FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, smbEntry(info))
	}
	return entries, nil
}

func (s *smbSession) stat(ctx context.Context, p string) (model.FileEntry, error) {
	info, err := s.fs(ctx).Stat(trimLeadingSlash(p))
	if err != nil {
		return model.FileEntry{}, err
	}
	return smbEntry(info), nil
}

func (s *smbSession) open(ctx context.Context, p string) (io.ReadCloser, error) {
	file, err := s.fs(ctx).Open(trimLeadingSlash(p))
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err == nil && info.IsDir() {
		_ = file.Close()
		return nil, &model.OpError{Kind: model.KindPermissionDenied, Op: "open", Path: p, Protocol: model.ProtocolSMB, Detail: "is a directory"}
	}
	return file, nil
}

func (s *smbSession) create(ctx context.Context, p string) (io.WriteCloser, error) {
	return s.fs(ctx).OpenFile(trimLeadingSlash(p), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

func (s *smbSession) remove(ctx context.Context, p string) error {
	return s.fs(ctx).Remove(trimLeadingSlash(p))
}

func (s *smbSession) removeDir(ctx context.Context, p string) error {
	return s.fs(ctx).Remove(trimLeadingSlash(p))
}

func (s *smbSession) rename(ctx context.Context, oldPath string, newPath string) error {
	return s.fs(ctx).Rename(trimLeadingSlash(oldPath), trimLeadingSlash(newPath))
}

func (s *smbSession) mkdir(ctx context.Context, p string) error {
	return s.fs(ctx).Mkdir(trimLeadingSlash(p), 0o755)
}

func (s *smbSession) freeSpace(ctx context.Context, p string) (int64, error) {
	info, err := s.fs(ctx).Statfs(trimLeadingSlash(p))
	if err != nil {
		return 0, err
	}
	return int64(info.AvailableBlockCount()) * int64(info.BlockSize()) * int64(info.FragmentSize()), nil
}

func smbEntry(info os.FileInfo) model.FileEntry {
	entry := model.FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		IsDir:   info.IsDir(),
	}
	if stat, ok := info.Sys().(*smb2.FileStat); ok && !stat.CreationTime.IsZero() {
		entry.CreateTime = stat.CreationTime.UTC()
	}
	return entry
}

func withConnectTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func hostPort(desc model.ResourceDescriptor, defaultPort int) string {
	port := desc.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(desc.Host, strconv.Itoa(port))
}
