//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-file-engine/internal/app"
	"go-file-engine/internal/config"
	"go-file-engine/internal/handler"
	"go-file-engine/internal/middleware"
	"go-file-engine/internal/model"
	"go-file-engine/internal/router"
	"go-file-engine/internal/websocket"
)

type testServer struct {
	*httptest.Server
	engine *app.Engine
	roots  map[string]string
	token  string
}

// newServer serves two LOCAL resources, "alpha" and "beta", backed by temp dirs.
func newServer(t *testing.T) *testServer {
	t.Helper()

	state := t.TempDir()
	roots := map[string]string{"alpha": t.TempDir(), "beta": t.TempDir()}
	resources := fmt.Sprintf(`
resources:
  - id: alpha
    protocol: LOCAL
    root: %s
  - id: beta
    protocol: LOCAL
    root: %s
`, roots["alpha"], roots["beta"])
	resourcesFile := filepath.Join(state, "resources.yaml")
	require.NoError(t, os.WriteFile(resourcesFile, []byte(resources), 0o600))

	cfg := &config.Config{
		ServerPort:            "0",
		RequestTimeout:        10 * time.Second,
		JWTSecret:             "integration-secret",
		JWTAccessTTL:          15 * time.Minute,
		CORSOrigins:           []string{"*"},
		RateLimitRPM:          10000,
		SubmitRateLimitRPM:    10000,
		ChunkSizeBytes:        64 * 1024,
		MaxConnsPerResource:   4,
		MaxParallelItems:      4,
		JobWorkers:            2,
		ConflictDefaultPolicy: model.ConflictKeepBoth,
		ConnAcquireTimeout:    5 * time.Second,
		RetryMaxAttempts:      2,
		RetryInitialWait:      10 * time.Millisecond,
		RetryMaxWait:          50 * time.Millisecond,
		CacheDir:              filepath.Join(state, "cache"),
		CacheMaxBytes:         16 * 1024 * 1024,
		EditMaxBytes:          8 * 1024 * 1024,
		TrashRetention:        time.Hour,
		TrashStore:            config.StoreFile,
		TrashIndexFile:        filepath.Join(state, "trash.json"),
		ResourcesSource:       config.StoreFile,
		ResourcesFile:         resourcesFile,
	}
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateServer())

	ctx, cancel := context.WithCancel(context.Background())
	engine, err := app.NewEngine(ctx, cfg)
	require.NoError(t, err)

	hub := websocket.NewHub(engine.Bus)
	go hub.Run(ctx)

	h := router.New(cfg, middleware.NewAuthMiddleware(engine.Tokens), router.Handlers{
		Operations: handler.NewOperationsHandler(engine.Orchestrator, engine.Jobs),
		Jobs:       handler.NewJobsHandler(engine.Jobs),
		Resources:  handler.NewResourcesHandler(engine.Registry),
		Cache:      handler.NewCacheHandler(engine.Cache),
		Trash:      handler.NewTrashHandler(engine.Trash),
		Health:     handler.NewHealthHandler(nil),
	}, hub)

	token, _, err := engine.Tokens.IssueToken("integration", "admin")
	require.NoError(t, err)

	server := &testServer{Server: httptest.NewServer(h), engine: engine, roots: roots, token: token}
	t.Cleanup(func() {
		server.Close()
		cancel()
		engine.Close()
	})
	return server
}

func (s *testServer) writeFile(t *testing.T, resource string, rel string, content string) {
	t.Helper()
	full := filepath.Join(s.roots[resource], filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func (s *testServer) readFile(t *testing.T, resource string, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.roots[resource], filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func (s *testServer) exists(resource string, rel string) bool {
	_, err := os.Stat(filepath.Join(s.roots[resource], filepath.FromSlash(rel)))
	return err == nil
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func (s *testServer) call(t *testing.T, method string, path string, body any) (int, apiResponse) {
	t.Helper()

	var payload io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, s.URL+path, payload)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
