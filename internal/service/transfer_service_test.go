package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
)

func TestCopyStreamsChunksWithProgress(t *testing.T) {
	t.Parallel()

	src := newMemory("src", model.ProtocolLocal, copyCaps)
	dst := newMemory("dst", model.ProtocolSFTP, copyCaps)
	src.Put("/a.txt", []byte("hello world!"))

	var progress [][2]int64
	result, err := newTransfer(5).Copy(context.Background(), TransferRequest{
		Source:     src,
		SourcePath: "/a.txt",
		Dest:       dst,
		DestPath:   "/out/a.txt",
		Size:       12,
		Mode:       storage.WriteCreate,
		Progress: func(done int64, total int64) {
			progress = append(progress, [2]int64{done, total})
		},
	})
	require.NoError(t, err)

	require.Equal(t, int64(12), result.Bytes)
	require.Equal(t, [][2]int64{{5, 12}, {10, 12}, {12, 12}}, progress)
	require.Equal(t, "hello world!", readAll(t, dst, "/out/a.txt"))
	require.Equal(t, checksum(t, src, "/a.txt"), result.Checksum)
}

func TestCopyUnknownSizeReportsIndeterminateProgress(t *testing.T) {
	t.Parallel()

	src := newMemory("src", model.ProtocolLocal, copyCaps)
	dst := newMemory("dst", model.ProtocolLocal, copyCaps)
	src.Put("/a.bin", []byte("0123456789"))

	var totals []int64
	_, err := newTransfer(4).Copy(context.Background(), TransferRequest{
		Source: src, SourcePath: "/a.bin", Dest: dst, DestPath: "/a.bin",
		Size:     model.SizeUnknown,
		Progress: func(_ int64, total int64) { totals = append(totals, total) },
	})
	require.NoError(t, err)
	require.Equal(t, []int64{model.SizeUnknown, model.SizeUnknown, model.SizeUnknown}, totals)
}

func TestCopyCancelledBetweenChunksLeavesNoArtifact(t *testing.T) {
	t.Parallel()

	src := newMemory("src", model.ProtocolLocal, copyCaps)
	dst := newMemory("dst", model.ProtocolLocal, copyCaps)
	src.Put("/big.bin", bytes.Repeat([]byte("x"), 64))

	ctx, cancel := context.WithCancel(context.Background())
	dst.OnWrite(func(_ string, written int64) {
		if written >= 8 {
			cancel()
		}
	})

	_, err := newTransfer(4).Copy(ctx, TransferRequest{
		Source: src, SourcePath: "/big.bin", Dest: dst, DestPath: "/big.bin", Size: 64,
	})
	require.Error(t, err)
	require.Equal(t, model.KindCancelled, model.KindOf(err))
	require.Equal(t, 1, dst.Calls("write"))
	require.Zero(t, dst.Calls("commit"))
	require.False(t, dst.Has("/big.bin"))
}

func TestCopyLargeFileChecksCapacityFirst(t *testing.T) {
	t.Parallel()

	src := newMemory("src", model.ProtocolLocal, copyCaps)
	dst := newMemory("dst", model.ProtocolSMB, copyCaps)
	src.Put("/big.bin", bytes.Repeat([]byte("x"), 20))
	dst.SetFreeSpace(10)

	transfer := NewTransferService(TransferConfig{ChunkSize: 4, LargeFileThreshold: 16, Retry: fastRetry()})
	_, err := transfer.Copy(context.Background(), TransferRequest{
		Source: src, SourcePath: "/big.bin", Dest: dst, DestPath: "/big.bin", Size: 20,
	})
	require.Equal(t, model.KindQuotaExceeded, model.KindOf(err))
	require.Zero(t, src.Calls("read"))
	require.Zero(t, dst.Calls("write"))

	dst.SetFreeSpace(model.SizeUnknown)
	_, err = transfer.Copy(context.Background(), TransferRequest{
		Source: src, SourcePath: "/big.bin", Dest: dst, DestPath: "/big.bin", Size: 20,
	})
	require.NoError(t, err)
}

func TestCopyRetriesTransientReadFailure(t *testing.T) {
	t.Parallel()

	src := &storage.MockStrategy{}
	src.On("Protocol").Return(model.ProtocolSFTP)
	src.On("OpenRead", mock.Anything, "/a.txt").Return(nil, unreachable("/a.txt")).Once()
	src.On("OpenRead", mock.Anything, "/a.txt").Return(io.NopCloser(bytes.NewReader([]byte("data"))), nil).Once()

	dst := newMemory("dst", model.ProtocolLocal, copyCaps)

	result, err := newTransfer(4).Copy(context.Background(), TransferRequest{
		Source: src, SourcePath: "/a.txt", Dest: dst, DestPath: "/a.txt", Size: 4,
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), result.Bytes)
	require.Equal(t, "data", readAll(t, dst, "/a.txt"))
	src.AssertExpectations(t)
}

func TestCopyDoesNotRetryPermanentFailure(t *testing.T) {
	t.Parallel()

	src := newMemory("src", model.ProtocolLocal, copyCaps)
	dst := newMemory("dst", model.ProtocolLocal, copyCaps)
	src.Put("/a.txt", []byte("data"))
	src.FailOn("read", "/a.txt", &model.OpError{Kind: model.KindPermissionDenied, Op: "read", Path: "/a.txt"})

	_, err := newTransfer(4).Copy(context.Background(), TransferRequest{
		Source: src, SourcePath: "/a.txt", Dest: dst, DestPath: "/a.txt", Size: 4,
	})
	require.Equal(t, model.KindPermissionDenied, model.KindOf(err))
	require.Equal(t, 1, src.Calls("read"))
}

func TestCopyVerifiedRemovesCorruptCopy(t *testing.T) {
	t.Parallel()

	src := newMemory("src", model.ProtocolLocal, copyCaps)
	dst := newMemory("dst", model.ProtocolLocal, copyCaps)
	src.Put("/a.txt", []byte("payload"))
	dst.SetCorruptWrites(true)

	_, err := newTransfer(4).CopyVerified(context.Background(), TransferRequest{
		Source: src, SourcePath: "/a.txt", Dest: dst, DestPath: "/a.txt", Size: 7,
	})
	require.True(t, errors.Is(err, ErrVerifyMismatch))
	require.False(t, dst.Has("/a.txt"))
	require.Equal(t, "payload", readAll(t, src, "/a.txt"))
}

func TestVerifyComparesChecksumWhenCheap(t *testing.T) {
	t.Parallel()

	dst := newMemory("dst", model.ProtocolLocal, copyCaps)
	dst.Put("/a.txt", []byte("abcd"))
	transfer := newTransfer(4)

	err := transfer.Verify(context.Background(), dst, "/a.txt", TransferResult{Bytes: 4, Checksum: "0000000000000000"})
	require.ErrorIs(t, err, ErrVerifyMismatch)

	require.NoError(t, transfer.Verify(context.Background(), dst, "/a.txt", TransferResult{Bytes: 4, Checksum: checksum(t, dst, "/a.txt")}))

	sizeOnly := newMemory("cloud", model.ProtocolS3, model.Capabilities{})
	sizeOnly.Put("/a.txt", []byte("abcd"))
	require.NoError(t, transfer.Verify(context.Background(), sizeOnly, "/a.txt", TransferResult{Bytes: 4, Checksum: "0000000000000000"}))
}

func TestCopyTreeRecreatesStructure(t *testing.T) {
	t.Parallel()

	src := newMemory("src", model.ProtocolLocal, copyCaps)
	dst := newMemory("dst", model.ProtocolFTP, copyCaps)
	src.Put("/photos/a.jpg", []byte("aaaa"))
	src.Put("/photos/2024/b.jpg", []byte("bbbbbb"))
	src.PutDir("/photos/empty")

	var last int64
	copied, err := newTransfer(4).CopyTree(context.Background(), src, "/photos", dst, "/backup/photos", storage.WriteCreate, func(done int64, _ int64) {
		require.GreaterOrEqual(t, done, last)
		last = done
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), copied)
	require.Equal(t, int64(10), last)

	require.Equal(t, "aaaa", readAll(t, dst, "/backup/photos/a.jpg"))
	require.Equal(t, "bbbbbb", readAll(t, dst, "/backup/photos/2024/b.jpg"))
	require.True(t, dst.Has("/backup/photos/empty"))
}

func TestBufferPoolSizes(t *testing.T) {
	t.Parallel()

	pool := NewBufferPool()

	small := pool.Get(4)
	require.Len(t, small, 4)
	require.Equal(t, BufferSize1MB, cap(small))
	pool.Put(small)

	chunk := pool.Get(DefaultChunkSize)
	require.Len(t, chunk, DefaultChunkSize)
	require.Equal(t, BufferSize5MB, cap(chunk))

	huge := pool.Get(BufferSize16MB + 1)
	require.Len(t, huge, BufferSize16MB+1)
	pool.Put(huge)
}
