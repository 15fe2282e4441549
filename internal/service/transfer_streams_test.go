package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
	"go-file-engine/internal/retry"
	"go-file-engine/internal/storage"
)

func newPooledRemote(t *testing.T, id string, maxSessions int) (storage.Strategy, *storage.MemoryServer, *connection.Pool) {
	t.Helper()

	server := storage.NewMemoryServer()
	cfg := connection.DefaultPoolConfig()
	cfg.MaxConcurrency = maxSessions
	cfg.AcquireTimeout = 2 * time.Second
	cfg.Retry = retry.None()

	pool := connection.NewPool(id, model.ProtocolSFTP, cfg, server.Dialer())
	desc := model.ResourceDescriptor{
		ID:         id,
		Protocol:   model.ProtocolSFTP,
		Root:       "/srv",
		Connection: model.ConnectionConfig{MaxConcurrency: maxSessions},
	}
	strategy := storage.NewMemoryRemoteStrategy(desc, pool)
	t.Cleanup(func() { _ = strategy.Close() })
	return strategy, server, pool
}

func TestCopyWithinSingleSessionResourceStagesLocally(t *testing.T) {
	t.Parallel()

	remote, server, pool := newPooledRemote(t, "sftp-1", 1)
	server.PutFile("/srv/a.txt", []byte("hello staging"))
	staging := t.TempDir()

	transfer := NewTransferService(TransferConfig{ChunkSize: 4, Retry: fastRetry(), StagingDir: staging})
	result, err := transfer.CopyVerified(context.Background(), TransferRequest{
		Source:     remote,
		SourcePath: "/a.txt",
		Dest:       remote,
		DestPath:   "/copies/a.txt",
		Size:       13,
		Mode:       storage.WriteCreate,
	})
	require.NoError(t, err)
	require.Equal(t, int64(13), result.Bytes)

	data, ok := server.File("/srv/copies/a.txt")
	require.True(t, ok)
	require.Equal(t, "hello staging", string(data))
	require.Zero(t, pool.Stats().InUse)

	left, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestCopyWithinResourceTakesBothSessionsAtOnce(t *testing.T) {
	t.Parallel()

	remote, server, pool := newPooledRemote(t, "sftp-1", 2)
	for i := 0; i < 8; i++ {
		server.PutFile(fmt.Sprintf("/srv/in/f%d.txt", i), []byte(fmt.Sprintf("file %d", i)))
	}
	server.OnOpen(func() { time.Sleep(2 * time.Millisecond) })

	transfer := newTransfer(3)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			_, err := transfer.CopyVerified(ctx, TransferRequest{
				Source:     remote,
				SourcePath: fmt.Sprintf("/in/f%d.txt", i),
				Dest:       remote,
				DestPath:   fmt.Sprintf("/out/f%d.txt", i),
				Size:       6,
				Mode:       storage.WriteCreate,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 8; i++ {
		data, ok := server.File(fmt.Sprintf("/srv/out/f%d.txt", i))
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("file %d", i), string(data))
	}
	stats := pool.Stats()
	require.Zero(t, stats.InUse)
	require.LessOrEqual(t, stats.Dials, int64(2))
}

func TestOppositeCopiesAcrossSingleSessionResources(t *testing.T) {
	t.Parallel()

	east, eastServer, eastPool := newPooledRemote(t, "east", 1)
	west, westServer, westPool := newPooledRemote(t, "west", 1)
	eastServer.PutFile("/srv/a.txt", []byte("from east"))
	westServer.PutFile("/srv/b.txt", []byte("from west"))
	eastServer.OnOpen(func() { time.Sleep(time.Millisecond) })
	westServer.OnOpen(func() { time.Sleep(time.Millisecond) })

	transfer := newTransfer(4)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 5; i++ {
		i := i
		g.Go(func() error {
			_, err := transfer.CopyVerified(ctx, TransferRequest{Source: east, SourcePath: "/a.txt", Dest: west, DestPath: fmt.Sprintf("/a%d.txt", i), Size: 9, Mode: storage.WriteCreate})
			return err
		})
		g.Go(func() error {
			_, err := transfer.CopyVerified(ctx, TransferRequest{Source: west, SourcePath: "/b.txt", Dest: east, DestPath: fmt.Sprintf("/b%d.txt", i), Size: 9, Mode: storage.WriteCreate})
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 5; i++ {
		data, ok := westServer.File(fmt.Sprintf("/srv/a%d.txt", i))
		require.True(t, ok)
		require.Equal(t, "from east", string(data))
		data, ok = eastServer.File(fmt.Sprintf("/srv/b%d.txt", i))
		require.True(t, ok)
		require.Equal(t, "from west", string(data))
	}
	require.Zero(t, eastPool.Stats().InUse)
	require.Zero(t, westPool.Stats().InUse)
}

func TestSubmitSameResourceCopyOverPooledSessions(t *testing.T) {
	t.Parallel()

	remote, server, pool := newPooledRemote(t, "sftp-1", 4)
	for i := 0; i < 6; i++ {
		server.PutFile(fmt.Sprintf("/srv/in/f%d.txt", i), []byte(fmt.Sprintf("content %d", i)))
	}

	var mu sync.Mutex
	peak := 0
	server.OnOpen(func() {
		mu.Lock()
		if inUse := pool.Stats().InUse; inUse > peak {
			peak = inUse
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	})

	registry := storage.NewRegistry(nil, nil, connection.NewManager(), storage.RegistryConfig{})
	t.Cleanup(func() { _ = registry.Close() })
	registry.Put(model.ResourceDescriptor{ID: "sftp-1", Protocol: model.ProtocolSFTP, Root: "/srv", Connection: model.ConnectionConfig{MaxConcurrency: 4}}, remote)

	orchestrator := NewOrchestrator(OrchestratorConfig{MaxParallelItems: 8, DefaultPolicy: model.ConflictKeepBoth}, registry, newTransfer(4), nil, nil, nil)

	var paths []string
	for i := 0; i < 6; i++ {
		paths = append(paths, fmt.Sprintf("/in/f%d.txt", i))
	}
	req := copyRequest(model.OperationCopy, "sftp-1", "sftp-1", "/out", paths...)
	require.Equal(t, 2, orchestrator.parallelism(context.Background(), req))

	batch, err := orchestrator.Submit(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Equal(t, 6, batch.Succeeded)

	for i := 0; i < 6; i++ {
		require.Equal(t, model.StatusSuccess, batch.Items[i].Status)
		data, ok := server.File(fmt.Sprintf("/srv/out/f%d.txt", i))
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("content %d", i), string(data))
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, peak, 2)
	require.LessOrEqual(t, peak, 4)
	require.Zero(t, pool.Stats().InUse)
}
