package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/hirochachacha/go-smb2"
	"github.com/pkg/sftp"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"go-file-engine/internal/model"
)

// errNativeTrashUnsupported is returned by Delete(TRASH) on backends whose
// trash is kept by the ledger instead.
var errNativeTrashUnsupported = errors.New("backend has no native trash")

func opError(kind model.ErrorKind, protocol model.Protocol, op string, p string, err error) error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &model.OpError{Kind: kind, Op: op, Path: p, Protocol: protocol, Detail: detail, Err: err}
}

// commonKind classifies errors every backend can produce: context, network
// and filesystem sentinels. ok is false when the caller must look further.
func commonKind(err error) (model.ErrorKind, bool) {
	var opErr *model.OpError
	if errors.As(err, &opErr) {
		return opErr.Kind, true
	}

	switch {
	case errors.Is(err, errNativeTrashUnsupported):
		return model.KindPermissionDenied, true
	case errors.Is(err, context.Canceled):
		return model.KindCancelled, true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return model.KindTimeout, true
	case errors.Is(err, os.ErrNotExist):
		return model.KindNotFound, true
	case errors.Is(err, os.ErrPermission):
		return model.KindPermissionDenied, true
	case errors.Is(err, os.ErrExist):
		return model.KindAlreadyExists, true
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return model.KindQuotaExceeded, true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return model.KindNetworkUnreachable, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return model.KindTimeout, true
		}
		return model.KindNetworkUnreachable, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.KindNetworkUnreachable, true
	}

	return "", false
}

func mapLocalError(op string, p string, err error) error {
	if err == nil {
		return nil
	}
	kind, ok := commonKind(err)
	if !ok {
		kind = model.KindUnknown
	}
	return opError(kind, model.ProtocolLocal, op, p, err)
}

// NT status codes used by SMB2 servers.
const (
	ntStatusAccessDenied          uint32 = 0xC0000022
	ntStatusObjectNameNotFound    uint32 = 0xC0000034
	ntStatusObjectNameCollision   uint32 = 0xC0000035
	ntStatusObjectPathNotFound    uint32 = 0xC000003A
	ntStatusQuotaExceeded         uint32 = 0xC0000044
	ntStatusLogonFailure          uint32 = 0xC000006D
	ntStatusAccountRestriction    uint32 = 0xC000006E
	ntStatusPasswordExpired       uint32 = 0xC0000071
	ntStatusDiskFull              uint32 = 0xC000007F
	ntStatusIOTimeout             uint32 = 0xC00000B5
	ntStatusFileIsADirectory      uint32 = 0xC00000BA
	ntStatusBadNetworkPath        uint32 = 0xC00000BE
	ntStatusNetworkNameDeleted    uint32 = 0xC00000C9
	ntStatusBadNetworkName        uint32 = 0xC00000CC
	ntStatusDirectoryNotEmpty     uint32 = 0xC0000101
	ntStatusConnectionDisconnect  uint32 = 0xC000020C
	ntStatusConnectionReset       uint32 = 0xC000020D
	ntStatusUserSessionDeleted    uint32 = 0xC0000203
	ntStatusNetworkSessionExpired uint32 = 0xC000035C
)

func mapSMBError(op string, p string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *smb2.ResponseError
	if errors.As(err, &respErr) {
		kind := model.KindUnknown
		switch respErr.Code {
		case ntStatusObjectNameNotFound, ntStatusObjectPathNotFound:
			kind = model.KindNotFound
		case ntStatusAccessDenied, ntStatusFileIsADirectory:
			kind = model.KindPermissionDenied
		case ntStatusObjectNameCollision, ntStatusDirectoryNotEmpty:
			kind = model.KindAlreadyExists
		case ntStatusLogonFailure, ntStatusAccountRestriction, ntStatusPasswordExpired, ntStatusNetworkSessionExpired:
			kind = model.KindAuthFailed
		case ntStatusDiskFull, ntStatusQuotaExceeded:
			kind = model.KindQuotaExceeded
		case ntStatusIOTimeout:
			kind = model.KindTimeout
		case ntStatusBadNetworkPath, ntStatusNetworkNameDeleted, ntStatusBadNetworkName,
			ntStatusConnectionDisconnect, ntStatusConnectionReset, ntStatusUserSessionDeleted:
			kind = model.KindNetworkUnreachable
		}
		return &model.OpError{Kind: kind, Op: op, Path: p, Protocol: model.ProtocolSMB,
			Detail: fmt.Sprintf("smb status 0x%08X", respErr.Code), Err: err}
	}

	var transportErr *smb2.TransportError
	if errors.As(err, &transportErr) {
		return opError(model.KindNetworkUnreachable, model.ProtocolSMB, op, p, err)
	}

	var ctxErr *smb2.ContextError
	if errors.As(err, &ctxErr) {
		kind, ok := commonKind(ctxErr.Err)
		if !ok {
			kind = model.KindCancelled
		}
		return opError(kind, model.ProtocolSMB, op, p, err)
	}

	var internalErr *smb2.InternalError
	if errors.As(err, &internalErr) {
		return opError(model.KindUnknown, model.ProtocolSMB, op, p, err)
	}

	kind, ok := commonKind(err)
	if !ok {
		kind = model.KindUnknown
	}
	return opError(kind, model.ProtocolSMB, op, p, err)
}

// SSH_FX_* status codes (draft-ietf-secsh-filexfer-13).
const (
	sshFxEOF              uint32 = 1
	sshFxNoSuchFile       uint32 = 2
	sshFxPermissionDenied uint32 = 3
	sshFxFailure          uint32 = 4
	sshFxNoConnection     uint32 = 6
	sshFxConnectionLost   uint32 = 7
	sshFxOpUnsupported    uint32 = 8
	sshFxNoSuchPath       uint32 = 10
	sshFxFileExists       uint32 = 11
	sshFxNoSpaceOnFs      uint32 = 14
	sshFxQuotaExceeded    uint32 = 15
)

func mapSFTPError(op string, p string, err error) error {
	if err == nil {
		return nil
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		kind := model.KindUnknown
		switch statusErr.Code {
		case sshFxNoSuchFile, sshFxNoSuchPath:
			kind = model.KindNotFound
		case sshFxPermissionDenied:
			kind = model.KindPermissionDenied
		case sshFxFileExists:
			kind = model.KindAlreadyExists
		case sshFxNoConnection, sshFxConnectionLost, sshFxEOF:
			kind = model.KindNetworkUnreachable
		case sshFxNoSpaceOnFs, sshFxQuotaExceeded:
			kind = model.KindQuotaExceeded
		case sshFxFailure, sshFxOpUnsupported:
			kind = model.KindUnknown
		}
		return &model.OpError{Kind: kind, Op: op, Path: p, Protocol: model.ProtocolSFTP,
			Detail: fmt.Sprintf("sftp status %d: %s", statusErr.Code, statusErr.Error()), Err: err}
	}

	if strings.Contains(err.Error(), "unable to authenticate") || strings.Contains(err.Error(), "knownhosts") {
		return opError(model.KindAuthFailed, model.ProtocolSFTP, op, p, err)
	}

	kind, ok := commonKind(err)
	if !ok {
		kind = model.KindUnknown
	}
	return opError(kind, model.ProtocolSFTP, op, p, err)
}

func mapFTPError(op string, p string, err error) error {
	if err == nil {
		return nil
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		kind := model.KindUnknown
		switch protoErr.Code {
		case 550:
			kind = model.KindNotFound
			msg := strings.ToLower(protoErr.Msg)
			if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
				kind = model.KindPermissionDenied
			} else if strings.Contains(msg, "exists") {
				kind = model.KindAlreadyExists
			}
		case 553:
			kind = model.KindPermissionDenied
		case 530, 532:
			kind = model.KindAuthFailed
		case 421, 425, 426:
			kind = model.KindNetworkUnreachable
		case 452, 552:
			kind = model.KindQuotaExceeded
		}
		return &model.OpError{Kind: kind, Op: op, Path: p, Protocol: model.ProtocolFTP,
			Detail: fmt.Sprintf("ftp reply %d: %s", protoErr.Code, protoErr.Msg), Err: err}
	}

	kind, ok := commonKind(err)
	if !ok {
		kind = model.KindUnknown
	}
	return opError(kind, model.ProtocolFTP, op, p, err)
}

// httpStatusError is returned by the REST cloud clients for non-2xx replies.
type httpStatusError struct {
	Status     int
	RetryAfter time.Duration
	Body       string
}

func (e *httpStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, body)
}

func parseRetryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		return time.Until(at)
	}
	return 0
}

// kindForHTTPStatus is the shared cloud status table. 409 bodies are inspected
// because Dropbox reports every endpoint error as a conflict.
func kindForHTTPStatus(status int, body string) model.ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return model.KindAuthFailed
	case status == http.StatusForbidden:
		return model.KindPermissionDenied
	case status == http.StatusNotFound:
		return model.KindNotFound
	case status == http.StatusConflict:
		lower := strings.ToLower(body)
		switch {
		case strings.Contains(lower, "not_found"):
			return model.KindNotFound
		case strings.Contains(lower, "insufficient_space"), strings.Contains(lower, "insufficient_quota"):
			return model.KindQuotaExceeded
		case strings.Contains(lower, "no_write_permission"), strings.Contains(lower, "restricted_content"):
			return model.KindPermissionDenied
		default:
			return model.KindAlreadyExists
		}
	case status == http.StatusPreconditionFailed:
		return model.KindAlreadyExists
	case status == http.StatusTooManyRequests:
		return model.KindRetryable
	case status == http.StatusInsufficientStorage, status == http.StatusRequestEntityTooLarge:
		return model.KindQuotaExceeded
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return model.KindTimeout
	case status >= 500:
		return model.KindNetworkUnreachable
	default:
		return model.KindUnknown
	}
}

func mapCloudError(protocol model.Protocol, op string, p string, err error) error {
	if err == nil {
		return nil
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return &model.OpError{Kind: kindForHTTPStatus(statusErr.Status, statusErr.Body), Op: op, Path: p,
			Protocol: protocol, Detail: statusErr.Error(), RetryAfter: statusErr.RetryAfter, Err: err}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		kind := kindForHTTPStatus(gErr.Code, gErr.Message)
		for _, item := range gErr.Errors {
			switch item.Reason {
			case "storageQuotaExceeded", "quotaExceeded":
				kind = model.KindQuotaExceeded
			case "rateLimitExceeded", "userRateLimitExceeded":
				kind = model.KindRetryable
			}
		}
		return &model.OpError{Kind: kind, Op: op, Path: p, Protocol: protocol,
			Detail: gErr.Error(), RetryAfter: parseRetryAfter(gErr.Header), Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind := model.KindUnknown
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			kind = model.KindNotFound
		case "AccessDenied", "AllAccessDisabled":
			kind = model.KindPermissionDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			kind = model.KindAuthFailed
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			kind = model.KindRetryable
		case "RequestTimeout":
			kind = model.KindTimeout
		case "EntityTooLarge", "QuotaExceeded":
			kind = model.KindQuotaExceeded
		default:
			var respErr *smithyhttp.ResponseError
			if errors.As(err, &respErr) {
				kind = kindForHTTPStatus(respErr.HTTPStatusCode(), "")
			}
		}
		return &model.OpError{Kind: kind, Op: op, Path: p, Protocol: protocol, Detail: apiErr.ErrorMessage(), Err: err}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return opError(kindForHTTPStatus(respErr.HTTPStatusCode(), ""), protocol, op, p, err)
	}

	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return opError(model.KindAuthFailed, protocol, op, p, err)
	}

	kind, ok := commonKind(err)
	if !ok {
		kind = model.KindUnknown
	}
	return opError(kind, protocol, op, p, err)
}
