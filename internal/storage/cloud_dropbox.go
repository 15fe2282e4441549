package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go-file-engine/internal/model"
)

const (
	dropboxAPI     = "https://api.dropboxapi.com/2"
	dropboxContent = "https://content.dropboxapi.com/2"
)

type dropboxClient struct {
	rest       restClient
	apiURL     string
	contentURL string
}

type dropboxEntry struct {
	Tag            string `json:".tag"`
	Name           string `json:"name"`
	PathDisplay    string `json:"path_display"`
	Size           int64  `json:"size"`
	ServerModified string `json:"server_modified"`
	ContentHash    string `json:"content_hash"`
}

type dropboxListResult struct {
	Entries []dropboxEntry `json:"entries"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"has_more"`
}

func NewDropboxClient(ctx context.Context, cred model.Credential, tokenURL string) ObjectClient {
	return &dropboxClient{
		rest:       restClient{http: oauthHTTPClient(ctx, cred, tokenURL)},
		apiURL:     dropboxAPI,
		contentURL: dropboxContent,
	}
}

func (c *dropboxClient) Features() CloudFeatures {
	return CloudFeatures{AtomicMove: true, NativeTrash: true}
}

// dropboxPath converts to the API form where the root is the empty string.
func dropboxPath(key string) string {
	p := CleanPath(key)
	if p == "/" {
		return ""
	}
	return p
}

func (c *dropboxClient) rpc(ctx context.Context, endpoint string, args any, out any) error {
	body, err := jsonBody(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.rest.do(req, out)
}

func (c *dropboxClient) List(ctx context.Context, key string) ([]model.FileEntry, error) {
	var page dropboxListResult
	if err := c.rpc(ctx, "/files/list_folder", map[string]any{"path": dropboxPath(key)}, &page); err != nil {
		return nil, err
	}

	var entries []model.FileEntry
	for {
		for _, item := range page.Entries {
			entries = append(entries, item.entry())
		}
		if !page.HasMore {
			return entries, nil
		}
		cursor := page.Cursor
		page = dropboxListResult{}
		if err := c.rpc(ctx, "/files/list_folder/continue", map[string]any{"cursor": cursor}, &page); err != nil {
			return nil, err
		}
	}
}

func (c *dropboxClient) Stat(ctx context.Context, key string) (model.FileEntry, error) {
	if dropboxPath(key) == "" {
		return model.FileEntry{Name: "/", IsDir: true}, nil
	}
	var item dropboxEntry
	if err := c.rpc(ctx, "/files/get_metadata", map[string]any{"path": dropboxPath(key)}, &item); err != nil {
		return model.FileEntry{}, err
	}
	return item.entry(), nil
}

func (c *dropboxClient) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := c.contentRequest(ctx, "/files/download", map[string]any{"path": dropboxPath(key)}, nil)
	if err != nil {
		return nil, err
	}
	return c.rest.stream(req)
}

// Upload uses the single-request endpoint, which Dropbox caps at 150 MiB.
func (c *dropboxClient) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	args := map[string]any{"path": dropboxPath(key), "mode": "overwrite", "autorename": false, "mute": true}
	req, err := c.contentRequest(ctx, "/files/upload", args, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.rest.do(req, nil)
}

func (c *dropboxClient) contentRequest(ctx context.Context, endpoint string, args any, body io.Reader) (*http.Request, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Dropbox-API-Arg", string(raw))
	return req, nil
}

// Delete without permanent keeps the item in Dropbox's deleted files, which
// is the provider's recoverable trash.
func (c *dropboxClient) Delete(ctx context.Context, key string, permanent bool) error {
	endpoint := "/files/delete_v2"
	if permanent {
		endpoint = "/files/permanently_delete"
	}
	return c.rpc(ctx, endpoint, map[string]any{"path": dropboxPath(key)}, nil)
}

func (c *dropboxClient) Move(ctx context.Context, from string, to string) error {
	args := map[string]any{"from_path": dropboxPath(from), "to_path": dropboxPath(to), "autorename": false}
	return c.rpc(ctx, "/files/move_v2", args, nil)
}

// Mkdir relies on create_folder_v2 creating parents; a folder that already
// exists is success.
func (c *dropboxClient) Mkdir(ctx context.Context, key string) error {
	if dropboxPath(key) == "" {
		return nil
	}
	err := c.rpc(ctx, "/files/create_folder_v2", map[string]any{"path": dropboxPath(key), "autorename": false}, nil)
	if err == nil {
		return nil
	}
	if model.KindOf(mapCloudError(model.ProtocolDropbox, "mkdir", key, err)) == model.KindAlreadyExists {
		entry, statErr := c.Stat(ctx, key)
		if statErr == nil && entry.IsDir {
			return nil
		}
	}
	return err
}

func (c *dropboxClient) Quota(ctx context.Context) (int64, error) {
	var usage struct {
		Used       int64 `json:"used"`
		Allocation struct {
			Allocated int64 `json:"allocated"`
		} `json:"allocation"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/users/get_space_usage", nil)
	if err != nil {
		return 0, err
	}
	if err := c.rest.do(req, &usage); err != nil {
		return 0, err
	}
	if usage.Allocation.Allocated == 0 {
		return model.SizeUnknown, nil
	}
	return usage.Allocation.Allocated - usage.Used, nil
}

func (e dropboxEntry) entry() model.FileEntry {
	entry := model.FileEntry{
		Name:  e.Name,
		Size:  e.Size,
		IsDir: e.Tag == "folder",
		Hash:  e.ContentHash,
	}
	if modified, err := time.Parse(time.RFC3339, e.ServerModified); err == nil {
		entry.ModTime = modified.UTC()
	}
	return entry
}
