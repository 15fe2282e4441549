package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/event"
	"go-file-engine/internal/model"
	"go-file-engine/internal/repository"
	"go-file-engine/internal/retry"
	"go-file-engine/internal/storage"
)

var (
	atomicCaps = model.Capabilities{AtomicRename: true, ReportsCapacity: true, CheapChecksum: true}
	copyCaps   = model.Capabilities{ReportsCapacity: true, CheapChecksum: true}
)

func newMemory(id string, protocol model.Protocol, caps model.Capabilities) *storage.MemoryStrategy {
	return storage.NewMemoryStrategy(id, protocol, caps)
}

func newRegistry(t *testing.T, strategies ...*storage.MemoryStrategy) *storage.Registry {
	t.Helper()

	registry := storage.NewRegistry(nil, nil, connection.NewManager(), storage.RegistryConfig{})
	for _, strategy := range strategies {
		registry.Put(model.ResourceDescriptor{
			ID:       strategy.ResourceID(),
			Protocol: strategy.Protocol(),
			Root:     "/",
		}, strategy)
	}
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func newTransfer(chunk int) *TransferService {
	return NewTransferService(TransferConfig{ChunkSize: chunk, Retry: fastRetry()})
}

type engine struct {
	registry     *storage.Registry
	transfer     *TransferService
	store        *repository.FileTrashRepository
	trash        *TrashLedger
	cache        *CacheService
	orchestrator *Orchestrator
	bus          *event.InMemoryBus
}

func newEngine(t *testing.T, parallel int, strategies ...*storage.MemoryStrategy) *engine {
	t.Helper()

	registry := newRegistry(t, strategies...)
	transfer := newTransfer(4)
	bus := event.NewBus()

	store, err := repository.NewFileTrashRepository(filepath.Join(t.TempDir(), "trash.json"))
	require.NoError(t, err)

	trash := NewTrashLedger(registry, store, transfer, 24*time.Hour, bus)

	cache, err := NewCacheService(CacheConfig{Dir: t.TempDir(), MaxBytes: 1 << 20}, registry, transfer, bus)
	require.NoError(t, err)

	orchestrator := NewOrchestrator(OrchestratorConfig{MaxParallelItems: parallel, DefaultPolicy: model.ConflictKeepBoth}, registry, transfer, trash, cache, bus)

	return &engine{
		registry:     registry,
		transfer:     transfer,
		store:        store,
		trash:        trash,
		cache:        cache,
		orchestrator: orchestrator,
		bus:          bus,
	}
}

func item(resourceID string, p string) model.SourceItem {
	return model.SourceItem{ResourceID: resourceID, Entry: model.FileEntry{Path: p}}
}

func unreachable(p string) error {
	return &model.OpError{Kind: model.KindNetworkUnreachable, Op: "dial", Path: p, Protocol: model.ProtocolSMB, Detail: "no route to host"}
}

func readAll(t *testing.T, s *storage.MemoryStrategy, p string) string {
	t.Helper()
	data, ok := s.Read(p)
	require.Truef(t, ok, "expected %s on %s", p, s.ResourceID())
	return string(data)
}

func checksum(t *testing.T, s storage.Checksummer, p string) string {
	t.Helper()
	sum, err := s.Checksum(context.Background(), p)
	require.NoError(t, err)
	return sum
}
