package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-file-engine/internal/model"
)

const graphDriveURL = "https://graph.microsoft.com/v1.0/me/drive"

type oneDriveClient struct {
	rest    restClient
	baseURL string
}

type graphItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	Folder               *struct{} `json:"folder,omitempty"`
	File                 *struct {
		Hashes struct {
			QuickXorHash string `json:"quickXorHash"`
		} `json:"hashes"`
	} `json:"file,omitempty"`
}

type graphChildren struct {
	Value    []graphItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

func NewOneDriveClient(ctx context.Context, cred model.Credential, tokenURL string) ObjectClient {
	return &oneDriveClient{
		rest:    restClient{http: oauthHTTPClient(ctx, cred, tokenURL)},
		baseURL: graphDriveURL,
	}
}

func (c *oneDriveClient) Features() CloudFeatures {
	return CloudFeatures{AtomicMove: true, NativeTrash: true}
}

// itemURL addresses a drive item by path, e.g. /root:/a/b.txt:.
func (c *oneDriveClient) itemURL(key string, suffix string) string {
	p := CleanPath(key)
	if p == "/" {
		if suffix == "" {
			return c.baseURL + "/root"
		}
		return c.baseURL + "/root/" + suffix
	}
	u := c.baseURL + "/root:" + escapeSegments(p) + ":"
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

func (c *oneDriveClient) request(ctx context.Context, method string, u string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := jsonBody(payload)
		if err != nil {
			return err
		}
		body = encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.rest.do(req, out)
}

func (c *oneDriveClient) List(ctx context.Context, key string) ([]model.FileEntry, error) {
	var entries []model.FileEntry
	next := c.itemURL(key, "children")
	for next != "" {
		var page graphChildren
		if err := c.request(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			entries = append(entries, item.entry())
		}
		next = page.NextLink
	}
	return entries, nil
}

func (c *oneDriveClient) Stat(ctx context.Context, key string) (model.FileEntry, error) {
	var item graphItem
	if err := c.request(ctx, http.MethodGet, c.itemURL(key, ""), nil, &item); err != nil {
		return model.FileEntry{}, err
	}
	return item.entry(), nil
}

func (c *oneDriveClient) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.itemURL(key, "content"), nil)
	if err != nil {
		return nil, err
	}
	return c.rest.stream(req)
}

// Upload uses the simple PUT, which Graph accepts up to 250 MiB.
func (c *oneDriveClient) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	u := c.itemURL(key, "content") + "?@microsoft.graph.conflictBehavior=replace"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.rest.do(req, nil)
}

// Delete without permanent lands in the OneDrive recycle bin.
func (c *oneDriveClient) Delete(ctx context.Context, key string, permanent bool) error {
	if permanent {
		return c.request(ctx, http.MethodPost, c.itemURL(key, "permanentDelete"), nil, nil)
	}
	return c.request(ctx, http.MethodDelete, c.itemURL(key, ""), nil, nil)
}

func (c *oneDriveClient) Move(ctx context.Context, from string, to string) error {
	parent := ParentPath(to)
	parentRef := "/drive/root:"
	if parent != "/" {
		parentRef += escapeSegments(parent)
	}
	payload := map[string]any{
		"name":                              BaseName(to),
		"parentReference":                   map[string]string{"path": parentRef},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	return c.request(ctx, http.MethodPatch, c.itemURL(from, ""), payload, nil)
}

func (c *oneDriveClient) Mkdir(ctx context.Context, key string) error {
	p := CleanPath(key)
	if p == "/" {
		return nil
	}

	entry, err := c.Stat(ctx, p)
	if err == nil {
		if !entry.IsDir {
			return &model.OpError{Kind: model.KindAlreadyExists, Op: "mkdir", Path: p, Protocol: model.ProtocolOneDrive, Detail: "a file exists at this path"}
		}
		return nil
	}
	if model.KindOf(mapCloudError(model.ProtocolOneDrive, "mkdir", p, err)) != model.KindNotFound {
		return err
	}

	if err := c.Mkdir(ctx, ParentPath(p)); err != nil {
		return err
	}
	payload := map[string]any{
		"name":                              BaseName(p),
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	return c.request(ctx, http.MethodPost, c.itemURL(ParentPath(p), "children"), payload, nil)
}

func (c *oneDriveClient) Quota(ctx context.Context) (int64, error) {
	var drive struct {
		Quota *struct {
			Remaining int64 `json:"remaining"`
		} `json:"quota"`
	}
	if err := c.request(ctx, http.MethodGet, c.baseURL, nil, &drive); err != nil {
		return 0, err
	}
	if drive.Quota == nil {
		return model.SizeUnknown, nil
	}
	return drive.Quota.Remaining, nil
}

func (i graphItem) entry() model.FileEntry {
	entry := model.FileEntry{
		Name:       i.Name,
		Size:       i.Size,
		ModTime:    i.LastModifiedDateTime.UTC(),
		CreateTime: i.CreatedDateTime.UTC(),
		IsDir:      i.Folder != nil,
	}
	if i.File != nil {
		entry.Hash = i.File.Hashes.QuickXorHash
	}
	return entry
}

func escapeSegments(p string) string {
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
