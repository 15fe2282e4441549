package service

import (
	"context"
	"errors"
	"io"
	"os"

	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
)

// openStreams opens the source reader and the destination sink without ever
// holding one pooled session while blocking on another it cannot get:
//   - within one resource both sessions come from a single pool acquisition,
//     or the source is staged locally when the pool holds one session;
//   - across resources the pools are entered in resource id order, so two
//     copies running in opposite directions cannot each hold what the other
//     waits for.
func (s *TransferService) openStreams(ctx context.Context, req TransferRequest) (io.ReadCloser, storage.Sink, error) {
	if req.Source.ResourceID() == req.Dest.ResourceID() {
		if pair, ok := req.Source.(storage.PairOpener); ok {
			reader, sink, err := pair.OpenPair(ctx, req.SourcePath, req.DestPath, req.Mode)
			if errors.Is(err, storage.ErrSingleSession) {
				return s.openStaged(ctx, req)
			}
			return reader, sink, err
		}
	}

	if req.Dest.ResourceID() < req.Source.ResourceID() {
		sink, err := req.Dest.OpenWrite(ctx, req.DestPath, req.Mode)
		if err != nil {
			return nil, nil, err
		}
		reader, err := req.Source.OpenRead(ctx, req.SourcePath)
		if err != nil {
			_ = sink.Abort()
			return nil, nil, err
		}
		return reader, sink, nil
	}

	reader, err := req.Source.OpenRead(ctx, req.SourcePath)
	if err != nil {
		return nil, nil, err
	}
	sink, err := req.Dest.OpenWrite(ctx, req.DestPath, req.Mode)
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	return reader, sink, nil
}

// openStaged downloads the source into a local temp file and releases its
// session before the destination sink is opened.
func (s *TransferService) openStaged(ctx context.Context, req TransferRequest) (io.ReadCloser, storage.Sink, error) {
	reader, err := req.Source.OpenRead(ctx, req.SourcePath)
	if err != nil {
		return nil, nil, err
	}

	staged, err := os.CreateTemp(s.cfg.StagingDir, ".transfer-*")
	if err != nil {
		_ = reader.Close()
		return nil, nil, &model.OpError{Kind: model.KindOf(err), Op: "stage", Path: req.SourcePath, Detail: err.Error(), Err: err}
	}
	local := &stagedFile{File: staged}

	copyErr := s.stageChunks(ctx, req, local.File, reader)
	closeErr := reader.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = asOpError(req.Source, "read", req.SourcePath, closeErr)
	}
	if copyErr == nil {
		if _, err := local.Seek(0, io.SeekStart); err != nil {
			copyErr = &model.OpError{Kind: model.KindUnknown, Op: "stage", Path: req.SourcePath, Err: err}
		}
	}
	if copyErr != nil {
		_ = local.Close()
		return nil, nil, copyErr
	}

	sink, err := req.Dest.OpenWrite(ctx, req.DestPath, req.Mode)
	if err != nil {
		_ = local.Close()
		return nil, nil, err
	}
	return local, sink, nil
}

func (s *TransferService) stageChunks(ctx context.Context, req TransferRequest, dst io.Writer, src io.Reader) error {
	buf := s.buffers.Get(s.cfg.ChunkSize)
	defer s.buffers.Put(buf)

	for {
		if err := ctx.Err(); err != nil {
			return cancelledError("stage", req.SourcePath, err)
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return &model.OpError{Kind: model.KindOf(err), Op: "stage", Path: req.SourcePath, Detail: err.Error(), Err: err}
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return asOpError(req.Source, "read", req.SourcePath, readErr)
		}
	}
}

// stagedFile removes its backing file on Close.
type stagedFile struct {
	*os.File
}

func (f *stagedFile) Close() error {
	err := f.File.Close()
	if removeErr := os.Remove(f.Name()); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}
