package service

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
)

func copyRequest(kind model.OperationKind, srcID string, dstID string, dstPath string, paths ...string) model.OperationRequest {
	req := model.OperationRequest{
		Kind:        kind,
		Destination: model.Destination{ResourceID: dstID, Path: dstPath},
	}
	for _, p := range paths {
		req.Items = append(req.Items, item(srcID, p))
	}
	return req
}

func TestSubmitCopySkipPolicy(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSFTP, copyCaps)
	src.Put("/a.txt", []byte("aaa"))
	src.Put("/b.txt", []byte("new b"))
	src.Put("/c.txt", []byte("c"))
	dst.Put("/out/b.txt", []byte("old b"))
	e := newEngine(t, 4, src, dst)

	req := copyRequest(model.OperationCopy, "local", "nas", "/out", "/a.txt", "/b.txt", "/c.txt")
	req.ConflictPolicy = model.ConflictSkip

	batch, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)

	require.Equal(t, []model.ItemStatus{model.StatusSuccess, model.StatusSkipped, model.StatusSuccess}, batch.Statuses())
	require.Equal(t, 2, batch.Succeeded)
	require.Equal(t, 1, batch.Skipped)
	require.Equal(t, "old b", readAll(t, dst, "/out/b.txt"))
	require.Equal(t, "aaa", readAll(t, dst, "/out/a.txt"))
	require.Equal(t, "/out/c.txt", batch.Items[2].FinalPath)
	require.Equal(t, int64(3), batch.Items[0].BytesTransferred)
}

func TestSubmitCopyPreservesChecksum(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("cloud", model.ProtocolS3, copyCaps)
	src.Put("/data.bin", bytes.Repeat([]byte("0123456789"), 7))
	e := newEngine(t, 4, src, dst)

	var mu sync.Mutex
	var progress []int64
	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationCopy, "local", "cloud", "/", "/data.bin"), Hooks{
		OnProgress: func(_ int, done int64, _ int64) {
			mu.Lock()
			defer mu.Unlock()
			progress = append(progress, done)
		},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Equal(t, checksum(t, src, "/data.bin"), checksum(t, dst, "/data.bin"))
	require.Len(t, progress, 18)
	require.Equal(t, int64(70), progress[len(progress)-1])
}

func TestSubmitAtomicMoveRenames(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/inbox/a.txt", []byte("content"))
	e := newEngine(t, 4, local)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationMove, "local", "local", "/archive", "/inbox/a.txt"), Hooks{})
	require.NoError(t, err)

	result := batch.Items[0]
	require.Equal(t, model.StatusSuccess, result.Status)
	require.Equal(t, "/archive/a.txt", result.FinalPath)
	require.Zero(t, result.BytesTransferred)
	require.Equal(t, 1, local.Calls("rename"))
	require.Zero(t, local.Calls("write"))
	require.False(t, local.Has("/inbox/a.txt"))
	require.Equal(t, "content", readAll(t, local, "/archive/a.txt"))
}

func TestSubmitMoveIntoSameDirectoryIsNoop(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/a.txt", []byte("a"))
	e := newEngine(t, 4, local)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationMove, "local", "local", "/", "/a.txt"), Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Zero(t, local.Calls("rename"))
	require.True(t, local.Has("/a.txt"))
}

func TestSubmitMoveDirectoryIntoItselfFails(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/photos/a.jpg", []byte("a"))
	local.PutDir("/photos/sub")
	e := newEngine(t, 4, local)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationMove, "local", "local", "/photos/sub", "/photos"), Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, batch.Items[0].Status)
	require.Equal(t, model.KindPermissionDenied, batch.Items[0].ErrorKind)
	require.True(t, local.Has("/photos/a.jpg"))
}

func TestSubmitCrossResourceMoveDeletesSourceAfterVerify(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/photos/a.jpg", []byte("aaaa"))
	src.Put("/photos/2024/b.jpg", []byte("bb"))
	e := newEngine(t, 4, src, dst)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationMove, "local", "nas", "/backup", "/photos"), Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Equal(t, int64(6), batch.Items[0].BytesTransferred)
	require.False(t, src.Has("/photos"))
	require.Equal(t, "bb", readAll(t, dst, "/backup/photos/2024/b.jpg"))
}

func TestSubmitMoveVerifyFailureKeepsSource(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/a.txt", []byte("payload"))
	dst.SetCorruptWrites(true)
	e := newEngine(t, 4, src, dst)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationMove, "local", "nas", "/", "/a.txt"), Hooks{})
	require.NoError(t, err)

	result := batch.Items[0]
	require.Equal(t, model.StatusFailed, result.Status)
	require.Equal(t, model.KindUnknown, result.ErrorKind)
	require.Contains(t, result.Detail, "mismatch")
	require.Equal(t, "payload", readAll(t, src, "/a.txt"))
	require.False(t, dst.Has("/a.txt"))
}

func TestSubmitMoveSourceDeleteFailureIsPartialSuccess(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/a.txt", []byte("payload"))
	src.FailOn("delete", "/a.txt", &model.OpError{Kind: model.KindPermissionDenied, Op: "delete", Path: "/a.txt", Detail: "read-only"})
	e := newEngine(t, 4, src, dst)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationMove, "local", "nas", "/", "/a.txt"), Hooks{})
	require.NoError(t, err)

	result := batch.Items[0]
	require.Equal(t, model.StatusSuccess, result.Status)
	require.Equal(t, model.KindPartialSuccess, result.Warning)
	require.Contains(t, result.WarningDetail, "read-only")
	require.Equal(t, 1, batch.Warnings)
	require.True(t, src.Has("/a.txt"))
	require.True(t, dst.Has("/a.txt"))
}

func TestSubmitCancelAfterItems(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	paths := []string{"/1.txt", "/2.txt", "/3.txt", "/4.txt", "/5.txt"}
	for _, p := range paths {
		src.Put(p, []byte(p))
	}
	e := newEngine(t, 1, src, dst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var completed atomic.Int32
	batch, err := e.orchestrator.Submit(ctx, copyRequest(model.OperationCopy, "local", "nas", "/", paths...), Hooks{
		OnItemComplete: func(model.OperationResult) {
			if completed.Add(1) == 2 {
				cancel()
			}
		},
	})
	require.NoError(t, err)

	require.Equal(t, []model.ItemStatus{
		model.StatusSuccess, model.StatusSuccess,
		model.StatusCancelled, model.StatusCancelled, model.StatusCancelled,
	}, batch.Statuses())
	require.Equal(t, int32(5), completed.Load())
	require.True(t, dst.Has("/2.txt"))
	require.False(t, dst.Has("/3.txt"))
}

func TestSubmitCancelMidTransferLeavesNoPartialFile(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/big.bin", bytes.Repeat([]byte("z"), 64))
	e := newEngine(t, 4, src, dst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dst.OnWrite(func(_ string, written int64) {
		if written >= 12 {
			cancel()
		}
	})

	batch, err := e.orchestrator.Submit(ctx, copyRequest(model.OperationMove, "local", "nas", "/", "/big.bin"), Hooks{})
	require.NoError(t, err)

	require.Equal(t, model.StatusCancelled, batch.Items[0].Status)
	require.Equal(t, model.KindCancelled, batch.Items[0].ErrorKind)
	require.False(t, dst.Has("/big.bin"))
	require.True(t, src.Has("/big.bin"))
	require.Equal(t, 1, batch.Cancelled)
}

func TestSubmitAsyncCancel(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/a.bin", bytes.Repeat([]byte("a"), 32))
	src.Put("/b.bin", []byte("b"))
	e := newEngine(t, 1, src, dst)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	dst.OnWrite(func(string, int64) {
		once.Do(func() {
			close(started)
			<-release
		})
	})

	handle, err := e.orchestrator.SubmitAsync(context.Background(), copyRequest(model.OperationCopy, "local", "nas", "/", "/a.bin", "/b.bin"), Hooks{})
	require.NoError(t, err)
	require.NotEmpty(t, handle.BatchID)

	<-started
	handle.Cancel()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	batch, err := handle.Wait(ctx)
	require.NoError(t, err)

	require.Equal(t, handle.BatchID, batch.BatchID)
	require.Equal(t, []model.ItemStatus{model.StatusCancelled, model.StatusCancelled}, batch.Statuses())
	require.Equal(t, []string{"/"}, dst.Paths())
}

func TestSubmitUnreachableDestinationFailsEveryItem(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/a.txt", []byte("a"))
	src.Put("/b.txt", []byte("b"))
	dst.FailOn("*", "*", unreachable("/"))
	e := newEngine(t, 4, src, dst)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationCopy, "local", "nas", "/", "/a.txt", "/b.txt"), Hooks{})
	require.NoError(t, err)

	for _, result := range batch.Items {
		require.Equal(t, model.StatusFailed, result.Status)
		require.Equal(t, model.KindNetworkUnreachable, result.ErrorKind)
		require.NotEmpty(t, result.Detail)
	}
	require.Equal(t, 2, batch.Failed)
}

func TestSubmitUnreachableSourceMidListingFailsEveryItem(t *testing.T) {
	t.Parallel()

	src := newMemory("nas", model.ProtocolSMB, copyCaps)
	dst := newMemory("local", model.ProtocolLocal, atomicCaps)
	src.Put("/a.txt", []byte("a"))
	src.Put("/docs/readme.txt", []byte("readme"))
	src.Put("/docs/sub/b.txt", []byte("b"))
	src.FailOn("list", "/docs/sub", unreachable("/docs/sub"))
	src.FailOn("read", "/a.txt", unreachable("/a.txt"))
	e := newEngine(t, 2, src, dst)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationCopy, "nas", "local", "/", "/a.txt", "/docs"), Hooks{})
	require.NoError(t, err)

	for _, result := range batch.Items {
		require.Equal(t, model.StatusFailed, result.Status)
		require.Equal(t, model.KindNetworkUnreachable, result.ErrorKind)
	}
	require.Equal(t, 2, batch.Failed)
	require.Equal(t, 2, dst.Calls("mkdir"))
	require.Equal(t, []string{"/"}, dst.Paths())
}

func TestSubmitMissingSourceFailsOnlyThatItem(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/a.txt", []byte("a"))
	e := newEngine(t, 4, src, dst)

	batch, err := e.orchestrator.Submit(context.Background(), copyRequest(model.OperationCopy, "local", "nas", "/", "/missing.txt", "/a.txt"), Hooks{})
	require.NoError(t, err)
	require.Equal(t, []model.ItemStatus{model.StatusFailed, model.StatusSuccess}, batch.Statuses())
	require.Equal(t, model.KindNotFound, batch.Items[0].ErrorKind)
}

func TestSubmitFailFastCancelsRemaining(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/a.txt", []byte("a"))
	src.Put("/b.txt", []byte("b"))
	e := newEngine(t, 1, src, dst)

	req := copyRequest(model.OperationCopy, "local", "nas", "/", "/missing.txt", "/a.txt", "/b.txt")
	req.FailFast = true

	batch, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Equal(t, []model.ItemStatus{model.StatusFailed, model.StatusCancelled, model.StatusCancelled}, batch.Statuses())
	require.False(t, dst.Has("/a.txt"))
}

func TestSubmitKeepBothAcrossBatches(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/report.pdf", []byte("new"))
	dst.Put("/out/report.pdf", []byte("old"))
	e := newEngine(t, 4, src, dst)

	req := copyRequest(model.OperationCopy, "local", "nas", "/out", "/report.pdf")
	req.ConflictPolicy = model.ConflictKeepBoth

	first, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)
	second, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)

	require.Equal(t, "/out/report (1).pdf", first.Items[0].FinalPath)
	require.Equal(t, "/out/report (2).pdf", second.Items[0].FinalPath)
	require.Equal(t, "old", readAll(t, dst, "/out/report.pdf"))
}

func TestSubmitOverwriteReplacesFile(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/a.txt", []byte("new"))
	dst.Put("/a.txt", []byte("older content"))
	e := newEngine(t, 4, src, dst)

	req := copyRequest(model.OperationCopy, "local", "nas", "/", "/a.txt")
	req.ConflictPolicy = model.ConflictOverwrite

	batch, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Equal(t, "new", readAll(t, dst, "/a.txt"))
}

func TestSubmitOverwriteAtomicMoveReplacesFile(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/inbox/a.txt", []byte("new"))
	local.Put("/archive/a.txt", []byte("old"))
	e := newEngine(t, 4, local)

	req := copyRequest(model.OperationMove, "local", "local", "/archive", "/inbox/a.txt")
	req.ConflictPolicy = model.ConflictOverwrite

	batch, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Equal(t, "new", readAll(t, local, "/archive/a.txt"))
	require.Equal(t, []string{"/", "/archive", "/archive/a.txt", "/inbox"}, local.Paths())
}

func TestSubmitOverwriteAtomicMoveFailureKeepsDestination(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/inbox/a.txt", []byte("new"))
	local.Put("/archive/a.txt", []byte("old"))
	local.FailOn("rename", "/inbox/a.txt", &model.OpError{Kind: model.KindPermissionDenied, Op: "rename", Path: "/inbox/a.txt", Protocol: model.ProtocolLocal})
	e := newEngine(t, 4, local)

	req := copyRequest(model.OperationMove, "local", "local", "/archive", "/inbox/a.txt")
	req.ConflictPolicy = model.ConflictOverwrite

	batch, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)

	result := batch.Items[0]
	require.Equal(t, model.StatusFailed, result.Status)
	require.Equal(t, model.KindPermissionDenied, result.ErrorKind)
	require.Equal(t, "old", readAll(t, local, "/archive/a.txt"))
	require.Equal(t, "new", readAll(t, local, "/inbox/a.txt"))
	require.Equal(t, []string{"/", "/archive", "/archive/a.txt", "/inbox", "/inbox/a.txt"}, local.Paths())
	require.Zero(t, local.Calls("delete"))
}

func TestSubmitMergeDirectories(t *testing.T) {
	t.Parallel()

	src := newMemory("local", model.ProtocolLocal, atomicCaps)
	dst := newMemory("nas", model.ProtocolSMB, copyCaps)
	src.Put("/photos/a.jpg", []byte("new a"))
	src.Put("/photos/b.jpg", []byte("b"))
	dst.Put("/out/photos/a.jpg", []byte("old a"))
	e := newEngine(t, 4, src, dst)

	req := copyRequest(model.OperationCopy, "local", "nas", "/out", "/photos")
	req.ConflictPolicy = model.ConflictMerge

	batch, err := e.orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Equal(t, "/out/photos", batch.Items[0].FinalPath)
	require.Equal(t, "old a", readAll(t, dst, "/out/photos/a.jpg"))
	require.Equal(t, "new a", readAll(t, dst, "/out/photos/a (1).jpg"))
	require.Equal(t, "b", readAll(t, dst, "/out/photos/b.jpg"))
	require.True(t, src.Has("/photos/b.jpg"))
}

func TestSubmitDeleteUsesTrashLedger(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/docs/a.txt", []byte("a"))
	e := newEngine(t, 4, local)

	batch, err := e.orchestrator.Submit(context.Background(), model.OperationRequest{
		Kind:  model.OperationDelete,
		Items: []model.SourceItem{item("local", "/docs/a.txt")},
	}, Hooks{})
	require.NoError(t, err)

	result := batch.Items[0]
	require.Equal(t, model.StatusSuccess, result.Status)
	require.True(t, strings.HasPrefix(result.FinalPath, storage.TrashDir+"/"))
	require.False(t, local.Has("/docs/a.txt"))
	require.True(t, local.Has(result.FinalPath))

	records, err := e.store.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "/docs/a.txt", records[0].OriginalPath)
}

func TestSubmitDeletePrefersNativeTrash(t *testing.T) {
	t.Parallel()

	caps := copyCaps
	caps.NativeTrash = true
	drive := newMemory("drive", model.ProtocolGDrive, caps)
	drive.Put("/a.txt", []byte("a"))
	e := newEngine(t, 4, drive)

	batch, err := e.orchestrator.Submit(context.Background(), model.OperationRequest{
		Kind:  model.OperationDelete,
		Items: []model.SourceItem{item("drive", "/a.txt")},
	}, Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Empty(t, batch.Items[0].FinalPath)

	records, err := e.store.List(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSubmitDeletePermanent(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/a.txt", []byte("a"))
	e := newEngine(t, 4, local)

	batch, err := e.orchestrator.Submit(context.Background(), model.OperationRequest{
		Kind:       model.OperationDelete,
		Items:      []model.SourceItem{item("local", "/a.txt")},
		DeleteMode: model.DeletePermanent,
	}, Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.False(t, local.Has("/a.txt"))
	require.False(t, local.Has(storage.TrashDir))
}

func TestSubmitDeleteWithoutTrashIsDenied(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/a.txt", []byte("a"))
	registry := newRegistry(t, local)
	orchestrator := NewOrchestrator(OrchestratorConfig{}, registry, newTransfer(4), nil, nil, nil)

	batch, err := orchestrator.Submit(context.Background(), model.OperationRequest{
		Kind:  model.OperationDelete,
		Items: []model.SourceItem{item("local", "/a.txt")},
	}, Hooks{})
	require.NoError(t, err)
	require.Equal(t, model.KindPermissionDenied, batch.Items[0].ErrorKind)
	require.True(t, local.Has("/a.txt"))
}

func TestSubmitRename(t *testing.T) {
	t.Parallel()

	local := newMemory("local", model.ProtocolLocal, atomicCaps)
	local.Put("/docs/a.txt", []byte("a"))
	local.Put("/docs/taken.txt", []byte("t"))
	e := newEngine(t, 1, local)

	batch, err := e.orchestrator.Submit(context.Background(), model.OperationRequest{
		Kind:           model.OperationRename,
		ConflictPolicy: model.ConflictSkip,
		Items: []model.SourceItem{
			{ResourceID: "local", Entry: model.FileEntry{Path: "/docs/a.txt"}, NewName: "b.txt"},
			{ResourceID: "local", Entry: model.FileEntry{Path: "/docs/b.txt"}, NewName: "taken.txt"},
			{ResourceID: "local", Entry: model.FileEntry{Path: "/docs/taken.txt"}, NewName: ".."},
		},
	}, Hooks{})
	require.NoError(t, err)

	require.Equal(t, model.StatusSuccess, batch.Items[0].Status)
	require.Equal(t, "/docs/b.txt", batch.Items[0].FinalPath)
	require.Equal(t, model.StatusSkipped, batch.Items[1].Status)
	require.Equal(t, model.KindPermissionDenied, batch.Items[2].ErrorKind)
	require.True(t, local.Has("/docs/taken.txt"))
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 4)
	_, err := e.orchestrator.Submit(context.Background(), model.OperationRequest{Kind: model.OperationCopy}, Hooks{})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = e.orchestrator.SubmitAsync(context.Background(), model.OperationRequest{Kind: "ARCHIVE"}, Hooks{})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestParallelismHonoursSessionLimits(t *testing.T) {
	t.Parallel()

	nas := newMemory("nas", model.ProtocolSMB, copyCaps)
	local := newMemory("local", model.ProtocolLocal, atomicCaps)

	registry := storage.NewRegistry(nil, nil, connection.NewManager(), storage.RegistryConfig{})
	t.Cleanup(func() { _ = registry.Close() })
	registry.Put(model.ResourceDescriptor{ID: "nas", Protocol: model.ProtocolSMB, Connection: model.ConnectionConfig{MaxConcurrency: 6}}, nas)
	registry.Put(model.ResourceDescriptor{ID: "local", Protocol: model.ProtocolLocal}, local)

	orchestrator := NewOrchestrator(OrchestratorConfig{MaxParallelItems: 8}, registry, newTransfer(4), nil, nil, nil)
	ctx := context.Background()

	require.Equal(t, 6, orchestrator.parallelism(ctx, copyRequest(model.OperationCopy, "local", "nas", "/", "/a")))
	require.Equal(t, 3, orchestrator.parallelism(ctx, copyRequest(model.OperationCopy, "nas", "nas", "/b", "/a")))
	require.Equal(t, 8, orchestrator.parallelism(ctx, copyRequest(model.OperationCopy, "local", "local", "/b", "/a")))
}
