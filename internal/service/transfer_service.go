package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"

	"go-file-engine/internal/metrics"
	"go-file-engine/internal/model"
	"go-file-engine/internal/retry"
	"go-file-engine/internal/storage"
)

const DefaultChunkSize = 5 * 1024 * 1024

// ErrVerifyMismatch marks a copy whose destination does not match what was streamed.
var ErrVerifyMismatch = errors.New("copy verification failed")

// ProgressFunc receives cumulative bytes written and the expected total, which
// is model.SizeUnknown when the source listing omitted it.
type ProgressFunc func(done int64, total int64)

type TransferConfig struct {
	ChunkSize          int
	LargeFileThreshold int64
	Retry              retry.Config
	// StagingDir holds local copies for copies within single-session
	// resources. Empty means os.TempDir.
	StagingDir string
}

type TransferRequest struct {
	Source     storage.Strategy
	SourcePath string
	Dest       storage.Strategy
	DestPath   string
	Size       int64
	Mode       storage.WriteMode
	Progress   ProgressFunc
}

type TransferResult struct {
	Bytes    int64
	Checksum string
}

// TransferService streams bytes between any two strategies in fixed-size chunks.
type TransferService struct {
	cfg     TransferConfig
	buffers *BufferPool
}

func NewTransferService(cfg TransferConfig) *TransferService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &TransferService{cfg: cfg, buffers: NewBufferPool()}
}

func (s *TransferService) ChunkSize() int {
	return s.cfg.ChunkSize
}

// Copy streams one file. Transient failures restart the transfer from zero;
// cancellation is observed between chunks and leaves no destination artifact.
func (s *TransferService) Copy(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := s.checkCapacity(ctx, req); err != nil {
		return TransferResult{}, err
	}

	started := time.Now()
	result, err := retry.DoWithResult(ctx, s.cfg.Retry, func() (TransferResult, error) {
		return s.copyOnce(ctx, req)
	})
	if err != nil {
		return TransferResult{}, err
	}

	metrics.RecordTransfer(string(req.Source.Protocol()), string(req.Dest.Protocol()), result.Bytes, time.Since(started))
	return result, nil
}

// CopyVerified copies one file and verifies the destination. A copy that fails
// verification is removed before the error is returned.
func (s *TransferService) CopyVerified(ctx context.Context, req TransferRequest) (TransferResult, error) {
	result, err := s.Copy(ctx, req)
	if err != nil {
		return result, err
	}

	if err := s.Verify(ctx, req.Dest, req.DestPath, result); err != nil {
		if removeErr := req.Dest.Delete(context.WithoutCancel(ctx), req.DestPath, model.DeletePermanent); removeErr != nil {
			slog.Warn("remove unverified copy", "resource_id", req.Dest.ResourceID(), "path", req.DestPath, "error", removeErr)
		}
		return result, err
	}
	return result, nil
}

// Verify checks the destination size and, where the backend can compute it
// cheaply, its checksum against what was streamed.
func (s *TransferService) Verify(ctx context.Context, dest storage.Strategy, p string, result TransferResult) error {
	entry, err := dest.Stat(ctx, p)
	if err != nil {
		return err
	}

	if entry.Size != model.SizeUnknown && entry.Size != result.Bytes {
		return &model.OpError{
			Kind:     model.KindUnknown,
			Op:       "verify",
			Path:     p,
			Protocol: dest.Protocol(),
			Detail:   fmt.Sprintf("size mismatch: wrote %d bytes, destination has %d", result.Bytes, entry.Size),
			Err:      ErrVerifyMismatch,
		}
	}

	checksummer, ok := dest.(storage.Checksummer)
	if !ok || !dest.Capabilities().CheapChecksum || result.Checksum == "" {
		return nil
	}

	sum, err := checksummer.Checksum(ctx, p)
	if err != nil {
		return err
	}
	if sum != result.Checksum {
		return &model.OpError{
			Kind:     model.KindUnknown,
			Op:       "verify",
			Path:     p,
			Protocol: dest.Protocol(),
			Detail:   fmt.Sprintf("checksum mismatch: streamed %s, destination has %s", result.Checksum, sum),
			Err:      ErrVerifyMismatch,
		}
	}
	return nil
}

// CopyTree recreates srcDir under dstDir, verifying every file. dstDir must
// not exist yet unless mode is WriteOverwrite.
func (s *TransferService) CopyTree(ctx context.Context, src storage.Strategy, srcDir string, dst storage.Strategy, dstDir string, mode storage.WriteMode, progress ProgressFunc) (int64, error) {
	if err := dst.Mkdir(ctx, dstDir); err != nil {
		return 0, err
	}

	entries, err := src.List(ctx, srcDir)
	if err != nil {
		return 0, err
	}

	var copied int64
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return copied, cancelledError("copy", srcDir, err)
		}

		childSrc := storage.JoinPath(srcDir, entry.Name)
		childDst := storage.JoinPath(dstDir, entry.Name)

		if entry.IsDir {
			n, err := s.CopyTree(ctx, src, childSrc, dst, childDst, mode, offsetProgress(progress, copied))
			copied += n
			if err != nil {
				return copied, err
			}
			continue
		}

		result, err := s.CopyVerified(ctx, TransferRequest{
			Source:     src,
			SourcePath: childSrc,
			Dest:       dst,
			DestPath:   childDst,
			Size:       entry.Size,
			Mode:       mode,
			Progress:   offsetProgress(progress, copied),
		})
		if err != nil {
			return copied, err
		}
		copied += result.Bytes
	}

	return copied, nil
}

func (s *TransferService) copyOnce(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return TransferResult{}, cancelledError("copy", req.SourcePath, err)
	}

	reader, sink, err := s.openStreams(ctx, req)
	if err != nil {
		return TransferResult{}, err
	}
	defer reader.Close()

	buf := s.buffers.Get(s.cfg.ChunkSize)
	defer s.buffers.Put(buf)

	hasher := xxhash.New()
	var done int64

	abort := func(cause error) (TransferResult, error) {
		if abortErr := sink.Abort(); abortErr != nil {
			slog.Warn("abort partial write", "resource_id", req.Dest.ResourceID(), "path", req.DestPath, "error", abortErr)
		}
		return TransferResult{Bytes: done}, cause
	}

	for {
		if err := ctx.Err(); err != nil {
			return abort(cancelledError("copy", req.SourcePath, err))
		}

		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			if _, err := sink.Write(buf[:n]); err != nil {
				return abort(asOpError(req.Dest, "write", req.DestPath, err))
			}
			_, _ = hasher.Write(buf[:n])
			done += int64(n)
			if req.Progress != nil {
				req.Progress(done, req.Size)
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return abort(asOpError(req.Source, "read", req.SourcePath, readErr))
		}
	}

	if err := ctx.Err(); err != nil {
		return abort(cancelledError("copy", req.SourcePath, err))
	}

	if err := sink.Close(); err != nil {
		_, _ = abort(err)
		return TransferResult{Bytes: done}, asOpError(req.Dest, "write", req.DestPath, err)
	}

	return TransferResult{Bytes: done, Checksum: hex.EncodeToString(hasher.Sum(nil))}, nil
}

func (s *TransferService) checkCapacity(ctx context.Context, req TransferRequest) error {
	if s.cfg.LargeFileThreshold <= 0 || req.Size < s.cfg.LargeFileThreshold {
		return nil
	}

	reporter, ok := req.Dest.(storage.CapacityReporter)
	if !ok {
		return nil
	}

	free, err := reporter.FreeSpace(ctx, storage.ParentPath(req.DestPath))
	if err != nil {
		return err
	}
	if free != model.SizeUnknown && free < req.Size {
		return &model.OpError{
			Kind:     model.KindQuotaExceeded,
			Op:       "write",
			Path:     req.DestPath,
			Protocol: req.Dest.Protocol(),
			Detail:   fmt.Sprintf("need %d bytes, %d available", req.Size, free),
		}
	}
	return nil
}

func offsetProgress(progress ProgressFunc, offset int64) ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(done int64, _ int64) {
		progress(offset+done, model.SizeUnknown)
	}
}

func cancelledError(op string, p string, err error) error {
	return &model.OpError{Kind: model.KindOf(err), Op: op, Path: p, Err: err}
}

// asOpError keeps taxonomy errors as they are and classifies anything else.
func asOpError(s storage.Strategy, op string, p string, err error) error {
	var opErr *model.OpError
	if errors.As(err, &opErr) {
		return err
	}
	return &model.OpError{Kind: model.KindOf(err), Op: op, Path: p, Protocol: s.Protocol(), Detail: err.Error(), Err: err}
}
