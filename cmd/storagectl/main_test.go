package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-engine/internal/app"
	"go-file-engine/internal/config"
	"go-file-engine/internal/connection"
	"go-file-engine/internal/event"
	"go-file-engine/internal/model"
	"go-file-engine/internal/repository"
	"go-file-engine/internal/service"
	"go-file-engine/internal/storage"
)

type harness struct {
	local *storage.MemoryStrategy
	nas   *storage.MemoryStrategy
	out   bytes.Buffer
	err   bytes.Buffer
	opts  *rootOpts
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()

	h := &harness{
		local: storage.NewMemoryStrategy("local", model.ProtocolLocal, model.Capabilities{AtomicRename: true, ReportsCapacity: true}),
		nas:   storage.NewMemoryStrategy("nas", model.ProtocolSMB, model.Capabilities{AtomicRename: true}),
	}

	registry := storage.NewRegistry(nil, nil, connection.NewManager(), storage.RegistryConfig{})
	for _, s := range []*storage.MemoryStrategy{h.local, h.nas} {
		registry.Put(model.ResourceDescriptor{ID: s.ResourceID(), Protocol: s.Protocol(), Root: "/"}, s)
	}
	t.Cleanup(func() { _ = registry.Close() })

	bus := event.NewBus()
	transfer := service.NewTransferService(service.TransferConfig{ChunkSize: 4})
	store, err := repository.NewFileTrashRepository(filepath.Join(t.TempDir(), "trash.json"))
	require.NoError(t, err)
	trash := service.NewTrashLedger(registry, store, transfer, time.Hour, bus)
	cache, err := service.NewCacheService(service.CacheConfig{Dir: t.TempDir(), MaxBytes: 1 << 20}, registry, transfer, bus)
	require.NoError(t, err)

	engine := &app.Engine{
		Config:       &config.Config{JWTSecret: "test-secret"},
		Bus:          bus,
		Registry:     registry,
		Transfer:     transfer,
		Trash:        trash,
		Cache:        cache,
		Orchestrator: service.NewOrchestrator(service.OrchestratorConfig{MaxParallelItems: 1, DefaultPolicy: model.ConflictKeepBoth}, registry, transfer, trash, cache, bus),
		Tokens:       service.NewTokenService("test-secret", time.Minute),
	}

	h.opts = &rootOpts{
		out:       &h.out,
		in:        strings.NewReader(stdin),
		newEngine: func(*cobra.Command) (*app.Engine, error) { return engine, nil },
	}
	return h
}

func (h *harness) run(args ...string) error {
	root := buildRootCmd(h.opts)
	root.SetArgs(args)
	root.SetOut(&h.out)
	root.SetErr(&h.err)
	return root.Execute()
}

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation("nas:/photos/../docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, location{ResourceID: "nas", Path: "/docs/a.txt"}, loc)

	loc, err = parseLocation("nas:")
	require.NoError(t, err)
	assert.Equal(t, "/", loc.Path)

	_, err = parseLocation("/just/a/path")
	assert.Error(t, err)
	_, err = parseLocation(":/a")
	assert.Error(t, err)
}

func TestCopyAcrossResources(t *testing.T) {
	h := newHarness(t, "")
	h.local.Put("/docs/a.txt", []byte("hello world"))
	h.nas.PutDir("/backup")

	require.NoError(t, h.run("copy", "local:/docs/a.txt", "nas:/backup"))

	data, ok := h.nas.Read("/backup/a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(data))
	assert.True(t, h.local.Has("/docs/a.txt"))
	assert.Contains(t, h.out.String(), "1 succeeded")
	assert.Contains(t, h.err.String(), "[0] SUCCESS /docs/a.txt")
}

func TestMoveReportsFailures(t *testing.T) {
	h := newHarness(t, "")
	h.local.Put("/a.txt", []byte("a"))
	h.nas.PutDir("/in")

	err := h.run("move", "local:/a.txt", "local:/missing.txt", "nas:/in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 items did not complete")
	assert.True(t, h.nas.Has("/in/a.txt"))
	assert.False(t, h.local.Has("/a.txt"))
	assert.Contains(t, h.out.String(), "NOT_FOUND")
}

func TestCopyAskPromptsOnConflict(t *testing.T) {
	h := newHarness(t, "what\no\n")
	h.local.Put("/a.txt", []byte("new"))
	h.nas.Put("/a.txt", []byte("old"))

	require.NoError(t, h.run("copy", "--policy", "ask", "local:/a.txt", "nas:/"))

	data, _ := h.nas.Read("/a.txt")
	assert.Equal(t, "new", string(data))
	assert.Equal(t, 2, strings.Count(h.err.String(), "already exists on nas"))
}

func TestDeleteAndRestoreThroughTrash(t *testing.T) {
	h := newHarness(t, "")
	h.local.Put("/notes.txt", []byte("keep me"))

	require.NoError(t, h.run("delete", "local:/notes.txt"))
	assert.False(t, h.local.Has("/notes.txt"))

	h.out.Reset()
	require.NoError(t, h.run("--json", "trash", "list"))
	assert.Contains(t, h.out.String(), `"original_path": "/notes.txt"`)

	records, err := h.opts.newEngine(nil)
	require.NoError(t, err)
	list, err := records.Trash.List(t.Context(), false)
	require.NoError(t, err)
	require.Len(t, list, 1)

	h.out.Reset()
	require.NoError(t, h.run("trash", "restore", list[0].ID))
	assert.Equal(t, "restored local:/notes.txt\n", h.out.String())
	data, _ := h.local.Read("/notes.txt")
	assert.Equal(t, "keep me", string(data))
}

func TestRenameAndList(t *testing.T) {
	h := newHarness(t, "")
	h.nas.Put("/docs/a.txt", []byte("a"))

	require.NoError(t, h.run("rename", "nas:/docs/a.txt", "b.txt"))
	assert.True(t, h.nas.Has("/docs/b.txt"))

	h.out.Reset()
	require.NoError(t, h.run("ls", "nas:/docs"))
	assert.Contains(t, h.out.String(), "b.txt")
	assert.NotContains(t, h.out.String(), "a.txt")
}

func TestTokenCommand(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("token", "ops", "--role", "editor"))
	token := strings.TrimSpace(h.out.String())

	claims, err := service.NewTokenService("test-secret", time.Minute).ValidateToken(token, "access")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.UserID)
	assert.Equal(t, service.RoleEditor, claims.Role)

	assert.Error(t, h.run("token", "ops", "--role", "root"))
}
