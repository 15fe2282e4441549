package storage

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
)

const defaultSFTPPort = 22

type sftpSession struct {
	ssh    *ssh.Client
	client *sftp.Client
}

// NewSFTPDialer authenticates with the private key when one is configured and
// falls back to the password.
func NewSFTPDialer(desc model.ResourceDescriptor, cred model.Credential) (connection.Dialer, error) {
	addr := hostPort(desc, defaultSFTPPort)

	var auth []ssh.AuthMethod
	if len(cred.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cred.PrivateKey)
		if err != nil {
			return nil, &model.OpError{Kind: model.KindAuthFailed, Op: "connect", Protocol: model.ProtocolSFTP, Detail: "invalid private key", Err: err}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		auth = append(auth, ssh.Password(cred.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cred.KnownHostsFile != "" {
		callback, err := knownhosts.New(cred.KnownHostsFile)
		if err != nil {
			return nil, &model.OpError{Kind: model.KindAuthFailed, Op: "connect", Protocol: model.ProtocolSFTP, Detail: "cannot load known_hosts", Err: err}
		}
		hostKeyCallback = callback
	} else {
		slog.Warn("sftp host key verification disabled", "resource_id", desc.ID)
	}

	config := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         desc.Connection.ConnectTimeout,
	}

	return func(ctx context.Context) (connection.Session, error) {
		dialCtx, cancel := withConnectTimeout(ctx, desc.Connection.ConnectTimeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, mapSFTPError("connect", "/", err)
		}

		if deadline, ok := dialCtx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		_ = conn.SetDeadline(time.Time{})
		if err != nil {
			_ = conn.Close()
			return nil, mapSFTPError("connect", "/", err)
		}
		sshClient := ssh.NewClient(sshConn, chans, reqs)

		client, err := sftp.NewClient(sshClient)
		if err != nil {
			_ = sshClient.Close()
			return nil, mapSFTPError("connect", "/", err)
		}

		return &sftpSession{ssh: sshClient, client: client}, nil
	}, nil
}

func NewSFTPStrategy(desc model.ResourceDescriptor, pool *connection.Pool) Strategy {
	return newRemoteStrategy(desc, pool, mapSFTPError)
}

func (s *sftpSession) Close() error {
	_ = s.client.Close()
	return s.ssh.Close()
}

func (s *sftpSession) KeepAlive(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.ssh.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	select {
	case err := <-done:
		return mapSFTPError("keepalive", "/", err)
	case <-ctx.Done():
		return mapSFTPError("keepalive", "/", ctx.Err())
	}
}

func (s *sftpSession) readDir(_ context.Context, dir string) ([]model.FileEntry, error) {
	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]model.FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, sftpEntry(info))
	}
	return entries, nil
}

func (s *sftpSession) stat(_ context.Context, p string) (model.FileEntry, error) {
	info, err := s.client.Stat(p)
	if err != nil {
		return model.FileEntry{}, err
	}
	return sftpEntry(info), nil
}

func (s *sftpSession) open(_ context.Context, p string) (io.ReadCloser, error) {
	return s.client.Open(p)
}

func (s *sftpSession) create(_ context.Context, p string) (io.WriteCloser, error) {
	return s.client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
}

func (s *sftpSession) remove(_ context.Context, p string) error {
	return s.client.Remove(p)
}

func (s *sftpSession) removeDir(_ context.Context, p string) error {
	return s.client.RemoveDirectory(p)
}

func (s *sftpSession) rename(_ context.Context, oldPath string, newPath string) error {
	return s.client.Rename(oldPath, newPath)
}

func (s *sftpSession) mkdir(_ context.Context, p string) error {
	return s.client.Mkdir(p)
}

func (s *sftpSession) freeSpace(_ context.Context, p string) (int64, error) {
	vfs, err := s.client.StatVFS(p)
	if err != nil {
		return 0, err
	}
	return int64(vfs.Bavail * vfs.Frsize), nil
}

func sftpEntry(info os.FileInfo) model.FileEntry {
	return model.FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		IsDir:   info.IsDir(),
	}
}
