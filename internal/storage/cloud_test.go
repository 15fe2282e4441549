package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
	"go-file-engine/internal/retry"
)

type fakeObjectClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  int
	features CloudFeatures
	deleted  map[string]bool
}

func newFakeObjectClient() *fakeObjectClient {
	return &fakeObjectClient{objects: map[string][]byte{}, deleted: map[string]bool{}}
}

func (c *fakeObjectClient) List(_ context.Context, key string) ([]model.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []model.FileEntry
	for k, data := range c.objects {
		if ParentPath(k) == CleanPath(key) {
			entries = append(entries, model.FileEntry{Name: BaseName(k), Size: int64(len(data))})
		}
	}
	return entries, nil
}

func (c *fakeObjectClient) Stat(_ context.Context, key string) (model.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[CleanPath(key)]
	if !ok {
		return model.FileEntry{}, &httpStatusError{Status: http.StatusNotFound}
	}
	return model.FileEntry{Name: BaseName(key), Size: int64(len(data))}, nil
}

func (c *fakeObjectClient) Download(_ context.Context, key string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[CleanPath(key)]
	if !ok {
		return nil, &httpStatusError{Status: http.StatusNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *fakeObjectClient) Upload(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads++
	c.objects[CleanPath(key)] = data
	return nil
}

func (c *fakeObjectClient) Delete(_ context.Context, key string, permanent bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, CleanPath(key))
	c.deleted[CleanPath(key)] = permanent
	return nil
}

func (c *fakeObjectClient) Move(_ context.Context, from string, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[CleanPath(to)] = c.objects[CleanPath(from)]
	delete(c.objects, CleanPath(from))
	return nil
}

func (c *fakeObjectClient) Mkdir(context.Context, string) error { return nil }

func (c *fakeObjectClient) Quota(context.Context) (int64, error) { return 4096, nil }

func (c *fakeObjectClient) Features() CloudFeatures { return c.features }

func newCloudFixture(t *testing.T, features CloudFeatures) (*CloudStrategy, *fakeObjectClient) {
	t.Helper()
	cfg := connection.DefaultPoolConfig()
	cfg.Retry = retry.None()
	pool := connection.NewPool("drive-1", model.ProtocolGDrive, cfg, CloudDialer())
	client := newFakeObjectClient()
	client.features = features
	desc := model.ResourceDescriptor{ID: "drive-1", Protocol: model.ProtocolGDrive, Root: "/Team"}
	return NewCloudStrategy(desc, pool, client), client
}

func TestCloudStrategyUploadCommitsOnClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, client := newCloudFixture(t, CloudFeatures{AtomicMove: true, NativeTrash: true})

	sink, err := s.OpenWrite(ctx, "/notes.txt", WriteCreate)
	require.NoError(t, err)
	_, err = io.WriteString(sink, "cloud bytes")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	require.Equal(t, "cloud bytes", string(client.objects["/Team/notes.txt"]))
	require.Equal(t, "cloud bytes", readFile(t, s, "/notes.txt"))

	_, err = s.OpenWrite(ctx, "/notes.txt", WriteCreate)
	require.Equal(t, model.KindAlreadyExists, model.KindOf(err))

	entry, err := s.Stat(ctx, "/notes.txt")
	require.NoError(t, err)
	require.Equal(t, "/notes.txt", entry.Path)
	require.Equal(t, int64(11), entry.Size)

	caps := s.Capabilities()
	require.True(t, caps.AtomicRename)
	require.True(t, caps.NativeTrash)
	require.False(t, caps.CheapChecksum)
}

func TestCloudStrategyAbortPublishesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, client := newCloudFixture(t, CloudFeatures{})

	sink, err := s.OpenWrite(ctx, "/half.bin", WriteCreate)
	require.NoError(t, err)
	_, err = sink.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, sink.Abort())

	require.Empty(t, client.objects)
	require.Zero(t, client.uploads)
}

func TestCloudStrategyTrashCapability(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	withTrash, client := newCloudFixture(t, CloudFeatures{NativeTrash: true})
	client.objects["/Team/a.txt"] = []byte("a")
	require.NoError(t, withTrash.Delete(ctx, "/a.txt", model.DeleteTrash))
	permanent, ok := client.deleted["/Team/a.txt"]
	require.True(t, ok)
	require.False(t, permanent)

	withoutTrash, other := newCloudFixture(t, CloudFeatures{})
	other.objects["/Team/a.txt"] = []byte("a")
	err := withoutTrash.Delete(ctx, "/a.txt", model.DeleteTrash)
	require.Equal(t, model.KindPermissionDenied, model.KindOf(err))
	require.Contains(t, other.objects, "/Team/a.txt")

	free, err := withoutTrash.FreeSpace(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, int64(4096), free)
}

func TestCloudStrategyOpenPairWithinResource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, client := newCloudFixture(t, CloudFeatures{})
	client.objects["/Team/a.txt"] = []byte("object")

	reader, sink, err := s.OpenPair(ctx, "/a.txt", "/.trash/a.txt", WriteCreate)
	require.NoError(t, err)
	require.Equal(t, 2, s.pool.Stats().InUse)
	_, err = io.Copy(sink, reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.NoError(t, sink.Close())

	require.Equal(t, "object", string(client.objects["/Team/.trash/a.txt"]))
	require.Zero(t, s.pool.Stats().InUse)

	cfg := connection.DefaultPoolConfig()
	cfg.MaxConcurrency = 1
	cfg.Retry = retry.None()
	single := NewCloudStrategy(s.desc, connection.NewPool("drive-1", model.ProtocolGDrive, cfg, CloudDialer()), client)
	_, _, err = single.OpenPair(ctx, "/a.txt", "/b.txt", WriteCreate)
	require.ErrorIs(t, err, ErrSingleSession)
}

func TestDropboxClientListFollowsCursor(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "/Photos", args["path"])
		_ = json.NewEncoder(w).Encode(dropboxListResult{
			Entries: []dropboxEntry{{Tag: "folder", Name: "2024"}},
			Cursor:  "c1",
			HasMore: true,
		})
	})
	mux.HandleFunc("/files/list_folder/continue", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dropboxListResult{
			Entries: []dropboxEntry{{Tag: "file", Name: "cat.jpg", Size: 42, ServerModified: "2024-05-01T10:00:00Z"}},
		})
	})
	mux.HandleFunc("/files/get_metadata", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error_summary": "path/not_found/..", "error": {".tag": "path"}}`)
	})
	mux.HandleFunc("/files/delete_v2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := &dropboxClient{rest: restClient{http: server.Client()}, apiURL: server.URL, contentURL: server.URL}
	ctx := context.Background()

	entries, err := client.List(ctx, "/Photos")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].IsDir)
	require.Equal(t, "cat.jpg", entries[1].Name)
	require.Equal(t, int64(42), entries[1].Size)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), entries[1].ModTime)

	_, err = client.Stat(ctx, "/Photos/missing.jpg")
	require.Equal(t, model.KindNotFound, model.KindOf(mapCloudError(model.ProtocolDropbox, "stat", "/Photos/missing.jpg", err)))

	err = client.Delete(ctx, "/Photos/cat.jpg", false)
	mapped := mapCloudError(model.ProtocolDropbox, "delete", "/Photos/cat.jpg", err)
	require.Equal(t, model.KindRetryable, model.KindOf(mapped))
	require.Equal(t, 3*time.Second, model.RetryAfterOf(mapped))
}

func TestOneDriveItemURL(t *testing.T) {
	t.Parallel()

	client := &oneDriveClient{baseURL: "https://graph.example/drive"}
	require.Equal(t, "https://graph.example/drive/root", client.itemURL("/", ""))
	require.Equal(t, "https://graph.example/drive/root/children", client.itemURL("/", "children"))
	require.Equal(t, "https://graph.example/drive/root:/Q3%20Plans/a%23b.txt:/content", client.itemURL("/Q3 Plans/a#b.txt", "content"))
}

func TestCheckStatusCapturesBody(t *testing.T) {
	t.Parallel()

	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}, Body: io.NopCloser(bytes.NewBufferString("denied"))}
	err := checkStatus(resp)
	var statusErr *httpStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, "http status 403: denied", statusErr.Error())
}
