package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	// Token related errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Job related errors
	ErrJobNotFound = errors.New("job not found")

	// Trash related errors
	ErrTrashItemNotFound   = errors.New("trash item not found")
	ErrItemAlreadyRestored = errors.New("item already restored")

	// Resource related errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrUnknownProtocol  = errors.New("unknown protocol")

	// Cache related errors
	ErrCacheEntryNotFound = errors.New("cache entry not found")
	ErrCacheEntryState    = errors.New("cache entry in wrong state")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)

// ErrorKind is the protocol-agnostic failure taxonomy every strategy maps into.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindPermissionDenied   ErrorKind = "PERMISSION_DENIED"
	KindAlreadyExists      ErrorKind = "ALREADY_EXISTS"
	KindNetworkUnreachable ErrorKind = "NETWORK_UNREACHABLE"
	KindAuthFailed         ErrorKind = "AUTH_FAILED"
	KindTimeout            ErrorKind = "TIMEOUT"
	KindQuotaExceeded      ErrorKind = "QUOTA_EXCEEDED"
	KindCancelled          ErrorKind = "CANCELLED"
	KindPartialSuccess     ErrorKind = "PARTIAL_SUCCESS"
	KindRetryable          ErrorKind = "RETRYABLE"
	KindUnknown            ErrorKind = "UNKNOWN"
)

// OpError is the only error type that crosses the strategy boundary.
type OpError struct {
	Kind       ErrorKind
	Op         string
	Path       string
	Protocol   Protocol
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%q", e.Path)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))

	switch {
	case e.Detail != "":
		b.WriteString(": ")
		b.WriteString(e.Detail)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func NewOpError(kind ErrorKind, op string, path string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf classifies any error into the taxonomy. Unclassified errors are UNKNOWN.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrTrashItemNotFound),
		errors.Is(err, ErrResourceNotFound), errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrCacheEntryNotFound):
		return KindNotFound
	case errors.Is(err, os.ErrPermission), errors.Is(err, ErrForbidden):
		return KindPermissionDenied
	case errors.Is(err, os.ErrExist), errors.Is(err, ErrItemAlreadyRestored):
		return KindAlreadyExists
	case errors.Is(err, ErrUnauthorized):
		return KindAuthFailed
	default:
		return KindUnknown
	}
}

// IsTransient reports whether err is worth an automatic retry.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetworkUnreachable, KindRetryable:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the backoff hint carried by a throttled error.
func RetryAfterOf(err error) time.Duration {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.RetryAfter
	}
	return 0
}
