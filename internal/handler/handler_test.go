package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/event"
	"go-file-engine/internal/model"
	"go-file-engine/internal/repository"
	"go-file-engine/internal/service"
	"go-file-engine/internal/storage"
	"go-file-engine/pkg/apierror"
)

type fixture struct {
	local  *storage.MemoryStrategy
	nas    *storage.MemoryStrategy
	jobs   *service.JobService
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		local: storage.NewMemoryStrategy("local", model.ProtocolLocal, model.Capabilities{AtomicRename: true, ReportsCapacity: true}),
		nas:   storage.NewMemoryStrategy("nas", model.ProtocolSMB, model.Capabilities{AtomicRename: true}),
	}

	registry := storage.NewRegistry(nil, nil, connection.NewManager(), storage.RegistryConfig{})
	for _, s := range []*storage.MemoryStrategy{f.local, f.nas} {
		registry.Put(model.ResourceDescriptor{ID: s.ResourceID(), Name: s.ResourceID(), Protocol: s.Protocol(), Root: "/"}, s)
	}
	t.Cleanup(func() { _ = registry.Close() })

	bus := event.NewBus()
	transfer := service.NewTransferService(service.TransferConfig{ChunkSize: 4})
	store, err := repository.NewFileTrashRepository(filepath.Join(t.TempDir(), "trash.json"))
	require.NoError(t, err)
	trash := service.NewTrashLedger(registry, store, transfer, time.Hour, bus)
	cache, err := service.NewCacheService(service.CacheConfig{Dir: t.TempDir(), MaxBytes: 1 << 20}, registry, transfer, bus)
	require.NoError(t, err)
	orchestrator := service.NewOrchestrator(service.OrchestratorConfig{MaxParallelItems: 2}, registry, transfer, trash, cache, bus)
	f.jobs = service.NewJobService(orchestrator, bus, 1)

	operations := NewOperationsHandler(orchestrator, f.jobs)
	jobs := NewJobsHandler(f.jobs)
	resources := NewResourcesHandler(registry)
	cacheHandler := NewCacheHandler(cache)
	trashHandler := NewTrashHandler(trash)

	r := chi.NewRouter()
	r.Post("/operations", operations.Submit)
	r.Get("/jobs", jobs.List)
	r.Get("/jobs/{job_id}", jobs.GetJob)
	r.Get("/jobs/{job_id}/items", jobs.GetJobItems)
	r.Post("/jobs/{job_id}/cancel", jobs.Cancel)
	r.Get("/resources", resources.List)
	r.Get("/resources/{resource_id}/entries", resources.Entries)
	r.Get("/resources/{resource_id}/stat", resources.Stat)
	r.Get("/resources/{resource_id}/space", resources.Space)
	r.Get("/cache", cacheHandler.List)
	r.Post("/cache/acquire", cacheHandler.Acquire)
	r.Post("/cache/dirty", cacheHandler.MarkDirty)
	r.Post("/cache/commit", cacheHandler.Commit)
	r.Post("/cache/release", cacheHandler.Release)
	r.Get("/trash", trashHandler.List)
	r.Post("/trash/{trash_id}/restore", trashHandler.Restore)
	r.Delete("/trash/{trash_id}", trashHandler.Purge)
	r.Delete("/trash", trashHandler.Empty)
	f.router = r

	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
	Meta    *model.Meta     `json:"meta"`
}

func (f *fixture) do(t *testing.T, method string, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, target, &payload))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func copyRequest() model.OperationRequest {
	return model.OperationRequest{
		Kind:        model.OperationCopy,
		Items:       []model.SourceItem{{ResourceID: "local", Entry: model.FileEntry{Path: "/a.txt"}}},
		Destination: model.Destination{ResourceID: "nas", Path: "/in"},
	}
}

func TestSubmit_Wait(t *testing.T) {
	f := newFixture(t)
	f.local.Put("/a.txt", []byte("hello"))
	f.nas.PutDir("/in")

	rec, env := f.do(t, http.MethodPost, "/operations?wait=true", copyRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeData[model.BatchResult](t, env)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, "/in/a.txt", result.Items[0].FinalPath)
	assert.True(t, f.nas.Has("/in/a.txt"))
}

func TestSubmit_AsyncJob(t *testing.T) {
	f := newFixture(t)
	f.local.Put("/a.txt", []byte("hello"))
	f.nas.PutDir("/in")

	rec, env := f.do(t, http.MethodPost, "/operations", copyRequest())
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decodeData[model.JobData](t, env)
	require.NotEmpty(t, job.JobID)

	require.Eventually(t, func() bool {
		current, err := f.jobs.GetJob(job.JobID)
		return err == nil && current.Status == model.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec, env = f.do(t, http.MethodGet, "/jobs/"+job.JobID+"/items?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeData[model.JobItemsData](t, env)
	require.Len(t, items.Items, 1)
	assert.Equal(t, model.StatusSuccess, items.Items[0].Status)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Total)

	rec, _ = f.do(t, http.MethodGet, "/jobs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmit_Rejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "unknown field", body: map[string]any{"kind": "COPY", "bogus": true}},
		{name: "no items", body: model.OperationRequest{Kind: model.OperationCopy, Destination: model.Destination{ResourceID: "nas"}}},
		{name: "bad policy", body: func() model.OperationRequest {
			req := copyRequest()
			req.ConflictPolicy = "SOMETIMES"
			return req
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := f.do(t, http.MethodPost, "/operations?wait=true", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "BAD_REQUEST", env.Error.Code)
		})
	}
}

func TestJobs_NotFound(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, _ = f.do(t, http.MethodPost, "/jobs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResources(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.nas.Put(fmt.Sprintf("/docs/%d.txt", i), []byte("x"))
	}

	rec, env := f.do(t, http.MethodGet, "/resources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	descs := decodeData[[]model.ResourceDescriptor](t, env)
	require.Len(t, descs, 2)
	assert.Equal(t, "local", descs[0].ID)

	rec, env = f.do(t, http.MethodGet, "/resources/nas/entries?path=/docs&limit=2&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeData[[]model.FileEntry](t, env)
	require.Len(t, entries, 1)
	assert.Equal(t, "2.txt", entries[0].Name)
	assert.Equal(t, model.Meta{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, *env.Meta)

	rec, env = f.do(t, http.MethodGet, "/resources/nas/stat?path=/docs/0.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decodeData[model.FileEntry](t, env).Size)

	rec, env = f.do(t, http.MethodGet, "/resources/nas/entries?path=/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(model.KindNotFound), env.Error.Code)

	rec, _ = f.do(t, http.MethodGet, "/resources/ghost/entries", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResources_Space(t *testing.T) {
	f := newFixture(t)
	f.local.SetFreeSpace(3 * 1024 * 1024)

	rec, env := f.do(t, http.MethodGet, "/resources/local/space", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	space := decodeData[spaceResponse](t, env)
	assert.Equal(t, int64(3*1024*1024), space.FreeBytes)
	assert.Equal(t, "3.0 MiB", space.FreeHuman)

	rec, env = f.do(t, http.MethodGet, "/resources/nas/space", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "NOT_SUPPORTED", env.Error.Code)
}

func TestCache_EditRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.nas.Put("/doc.txt", []byte("v1"))
	target := cacheRequest{ResourceID: "nas", Path: "/doc.txt"}

	rec, env := f.do(t, http.MethodPost, "/cache/acquire", target)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CacheReady, decodeData[model.CacheEntry](t, env).State)

	rec, env = f.do(t, http.MethodPost, "/cache/dirty", target)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CacheDirty, decodeData[model.CacheEntry](t, env).State)

	rec, _ = f.do(t, http.MethodPost, "/cache/commit", target)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/cache/release", target)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decodeData[cacheListResponse](t, env)
	assert.Equal(t, 1, listing.Stats.Entries)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, 0, listing.Entries[0].Holders)
}

func TestCache_Errors(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/cache/acquire", cacheRequest{ResourceID: "nas"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)

	rec, _ = f.do(t, http.MethodPost, "/cache/commit", cacheRequest{ResourceID: "nas", Path: "/never.txt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrash_Lifecycle(t *testing.T) {
	f := newFixture(t)
	f.local.Put("/a.txt", []byte("a"))
	f.local.Put("/b.txt", []byte("b"))

	req := model.OperationRequest{
		Kind: model.OperationDelete,
		Items: []model.SourceItem{
			{ResourceID: "local", Entry: model.FileEntry{Path: "/a.txt"}},
			{ResourceID: "local", Entry: model.FileEntry{Path: "/b.txt"}},
		},
		DeleteMode: model.DeleteTrash,
	}
	rec, _ := f.do(t, http.MethodPost, "/operations?wait=true", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodGet, "/trash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeData[[]model.TrashRecord](t, env)
	require.Len(t, records, 2)

	byPath := map[string]string{}
	for _, record := range records {
		byPath[record.OriginalPath] = record.ID
	}

	rec, _ = f.do(t, http.MethodPost, "/trash/"+byPath["/a.txt"]+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.local.Has("/a.txt"))

	rec, env = f.do(t, http.MethodPost, "/trash/"+byPath["/a.txt"]+"/restore", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	rec, _ = f.do(t, http.MethodDelete, "/trash/"+byPath["/b.txt"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/trash/"+byPath["/b.txt"], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/trash?include_restored=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]model.TrashRecord](t, env), 1)

	rec, env = f.do(t, http.MethodDelete, "/trash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"purged": 0}, decodeData[map[string]int](t, env))
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{name: "api error", err: apierror.New("UNAUTHORIZED", "invalid token", "", http.StatusUnauthorized), status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "quota", err: &model.OpError{Kind: model.KindQuotaExceeded, Op: "write", Path: "/a"}, status: http.StatusInsufficientStorage, code: "QUOTA_EXCEEDED"},
		{name: "retryable", err: &model.OpError{Kind: model.KindRetryable, Op: "list", RetryAfter: 2 * time.Second}, status: http.StatusServiceUnavailable, code: "RETRYABLE", retryAfter: "2"},
		{name: "cancelled", err: &model.OpError{Kind: model.KindCancelled, Op: "copy"}, status: 499, code: "CANCELLED"},
		{name: "invalid input", err: fmt.Errorf("%w: nope", model.ErrInvalidInput), status: http.StatusBadRequest, code: "BAD_REQUEST"},
		{name: "unknown", err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var env envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestHumanizeBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanizeBytes(512))
	assert.Equal(t, "1.5 KiB", humanizeBytes(1536))
	assert.Equal(t, "2.0 GiB", humanizeBytes(2<<30))
}
