package model

import (
	"fmt"
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolLocal    Protocol = "LOCAL"
	ProtocolSMB      Protocol = "SMB"
	ProtocolSFTP     Protocol = "SFTP"
	ProtocolFTP      Protocol = "FTP"
	ProtocolGDrive   Protocol = "GDRIVE"
	ProtocolOneDrive Protocol = "ONEDRIVE"
	ProtocolDropbox  Protocol = "DROPBOX"
	ProtocolS3       Protocol = "S3"
)

func ParseProtocol(raw string) (Protocol, error) {
	p := Protocol(strings.ToUpper(strings.TrimSpace(raw)))
	switch p {
	case ProtocolLocal, ProtocolSMB, ProtocolSFTP, ProtocolFTP,
		ProtocolGDrive, ProtocolOneDrive, ProtocolDropbox, ProtocolS3:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, raw)
	}
}

// IsNetwork is true for every backend that needs pooled sessions.
func (p Protocol) IsNetwork() bool {
	return p != ProtocolLocal
}

// IsCloud is true for backends reached over an HTTP API with a vendor rate limit.
func (p Protocol) IsCloud() bool {
	switch p {
	case ProtocolGDrive, ProtocolOneDrive, ProtocolDropbox, ProtocolS3:
		return true
	default:
		return false
	}
}

type ConnectionConfig struct {
	ConnectTimeout    time.Duration `json:"connect_timeout" koanf:"connect_timeout"`
	OperationTimeout  time.Duration `json:"operation_timeout" koanf:"operation_timeout"`
	MaxConcurrency    int           `json:"max_concurrency" koanf:"max_concurrency"`
	KeepAliveInterval time.Duration `json:"keepalive_interval" koanf:"keepalive_interval"`
}

type Capabilities struct {
	AtomicRename    bool `json:"atomic_rename" koanf:"atomic_rename"`
	NativeTrash     bool `json:"native_trash" koanf:"native_trash"`
	ReportsCapacity bool `json:"reports_capacity" koanf:"reports_capacity"`
	CheapChecksum   bool `json:"cheap_checksum" koanf:"cheap_checksum"`
}

// ResourceDescriptor is immutable except for credential rotation, which goes
// through the registry so pooled sessions are rebuilt.
type ResourceDescriptor struct {
	ID            string           `json:"id" koanf:"id"`
	Name          string           `json:"name,omitempty" koanf:"name"`
	Protocol      Protocol         `json:"protocol" koanf:"protocol"`
	Root          string           `json:"root" koanf:"root"`
	Host          string           `json:"host,omitempty" koanf:"host"`
	Port          int              `json:"port,omitempty" koanf:"port"`
	Share         string           `json:"share,omitempty" koanf:"share"`
	Bucket        string           `json:"bucket,omitempty" koanf:"bucket"`
	Region        string           `json:"region,omitempty" koanf:"region"`
	Endpoint      string           `json:"endpoint,omitempty" koanf:"endpoint"`
	CredentialRef string           `json:"credential_ref,omitempty" koanf:"credential_ref"`
	Connection    ConnectionConfig `json:"connection" koanf:"connection"`
	Capabilities  Capabilities     `json:"capabilities" koanf:"capabilities"`
}

func (d ResourceDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: resource id is required", ErrInvalidInput)
	}
	if _, err := ParseProtocol(string(d.Protocol)); err != nil {
		return err
	}

	switch d.Protocol {
	case ProtocolLocal:
		if strings.TrimSpace(d.Root) == "" {
			return fmt.Errorf("%w: resource %s: root is required", ErrInvalidInput, d.ID)
		}
	case ProtocolSMB:
		if d.Host == "" || d.Share == "" {
			return fmt.Errorf("%w: resource %s: host and share are required", ErrInvalidInput, d.ID)
		}
	case ProtocolSFTP, ProtocolFTP:
		if d.Host == "" {
			return fmt.Errorf("%w: resource %s: host is required", ErrInvalidInput, d.ID)
		}
	case ProtocolS3:
		if d.Bucket == "" {
			return fmt.Errorf("%w: resource %s: bucket is required", ErrInvalidInput, d.ID)
		}
	}

	if d.Connection.MaxConcurrency < 0 {
		return fmt.Errorf("%w: resource %s: max_concurrency cannot be negative", ErrInvalidInput, d.ID)
	}

	return nil
}

// Credential is a resolved credential handle. The engine never persists it.
type Credential struct {
	Username       string
	Password       string
	Domain         string
	PrivateKey     []byte
	KnownHostsFile string
	AccessKey      string
	SecretKey      string
	AccessToken    string
	RefreshToken   string
	ClientID       string
	ClientSecret   string
	TokenURL       string
}
