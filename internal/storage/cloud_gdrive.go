package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"go-file-engine/internal/model"
)

const (
	driveFolderMime = "application/vnd.google-apps.folder"
	driveFileFields = "id,name,mimeType,size,modifiedTime,createdTime,md5Checksum,parents"
)

// driveClient resolves slash paths to Drive file IDs one segment at a time
// and remembers the answers until a mutation touches them.
type driveClient struct {
	svc *drive.Service

	mu  sync.Mutex
	ids map[string]string
}

func NewDriveClient(ctx context.Context, cred model.Credential, tokenURL string) (ObjectClient, error) {
	client := oauthHTTPClient(ctx, cred, tokenURL)
	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &driveClient{svc: svc, ids: map[string]string{"/": "root"}}, nil
}

func (c *driveClient) Features() CloudFeatures {
	return CloudFeatures{AtomicMove: true, NativeTrash: true}
}

func (c *driveClient) cached(p string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[p]
	return id, ok
}

func (c *driveClient) remember(p string, id string) {
	c.mu.Lock()
	c.ids[p] = id
	c.mu.Unlock()
}

// forget drops p and everything cached beneath it.
func (c *driveClient) forget(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.ids {
		if key != "/" && IsWithin(p, key) {
			delete(c.ids, key)
		}
	}
}

func (c *driveClient) resolve(ctx context.Context, key string) (*drive.File, error) {
	p := CleanPath(key)
	if p == "/" {
		return c.svc.Files.Get("root").Fields(driveFileFields).Context(ctx).Do()
	}

	if id, ok := c.cached(p); ok {
		file, err := c.svc.Files.Get(id).Fields(driveFileFields).Context(ctx).Do()
		if err == nil {
			return file, nil
		}
		c.forget(p)
	}

	parent, err := c.resolve(ctx, ParentPath(p))
	if err != nil {
		return nil, err
	}
	file, err := c.child(ctx, parent.Id, BaseName(p))
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, &model.OpError{Kind: model.KindNotFound, Op: "resolve", Path: p, Protocol: model.ProtocolGDrive}
	}
	c.remember(p, file.Id)
	return file, nil
}

func (c *driveClient) child(ctx context.Context, parentID string, name string) (*drive.File, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeDriveQuery(name), parentID)
	list, err := c.svc.Files.List().Q(query).Fields("files(" + driveFileFields + ")").PageSize(1).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

func (c *driveClient) List(ctx context.Context, key string) ([]model.FileEntry, error) {
	dir, err := c.resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	var entries []model.FileEntry
	query := fmt.Sprintf("'%s' in parents and trashed = false", dir.Id)
	err = c.svc.Files.List().Q(query).Fields("nextPageToken, files("+driveFileFields+")").Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			for _, file := range page.Files {
				c.remember(JoinPath(key, file.Name), file.Id)
				entries = append(entries, driveEntry(file))
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *driveClient) Stat(ctx context.Context, key string) (model.FileEntry, error) {
	file, err := c.resolve(ctx, key)
	if err != nil {
		return model.FileEntry{}, err
	}
	return driveEntry(file), nil
}

func (c *driveClient) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := c.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if file.MimeType == driveFolderMime {
		return nil, &model.OpError{Kind: model.KindPermissionDenied, Op: "open", Path: key, Protocol: model.ProtocolGDrive, Detail: "is a directory"}
	}
	resp, err := c.svc.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Upload updates the existing file in place so the file ID and sharing survive
// an overwrite.
func (c *driveClient) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	p := CleanPath(key)
	existing, err := c.resolve(ctx, p)
	if err == nil {
		_, err = c.svc.Files.Update(existing.Id, &drive.File{}).Media(r).Context(ctx).Do()
		return err
	}
	if model.KindOf(mapCloudError(model.ProtocolGDrive, "upload", key, err)) != model.KindNotFound {
		return err
	}

	parentID, err := c.mkdirAll(ctx, ParentPath(p))
	if err != nil {
		return err
	}
	created, err := c.svc.Files.Create(&drive.File{Name: BaseName(p), Parents: []string{parentID}}).
		Media(r).Fields("id").Context(ctx).Do()
	if err != nil {
		return err
	}
	c.remember(p, created.Id)
	return nil
}

func (c *driveClient) Delete(ctx context.Context, key string, permanent bool) error {
	file, err := c.resolve(ctx, key)
	if err != nil {
		return err
	}
	if permanent {
		err = c.svc.Files.Delete(file.Id).Context(ctx).Do()
	} else {
		_, err = c.svc.Files.Update(file.Id, &drive.File{Trashed: true}).Context(ctx).Do()
	}
	if err != nil {
		return err
	}
	c.forget(CleanPath(key))
	return nil
}

func (c *driveClient) Move(ctx context.Context, from string, to string) error {
	file, err := c.resolve(ctx, from)
	if err != nil {
		return err
	}
	newParent, err := c.mkdirAll(ctx, ParentPath(to))
	if err != nil {
		return err
	}

	call := c.svc.Files.Update(file.Id, &drive.File{Name: BaseName(to)}).Context(ctx)
	oldParents := strings.Join(file.Parents, ",")
	if oldParents != newParent {
		call = call.AddParents(newParent).RemoveParents(oldParents)
	}
	if _, err := call.Do(); err != nil {
		return err
	}

	c.forget(CleanPath(from))
	c.remember(CleanPath(to), file.Id)
	return nil
}

func (c *driveClient) Mkdir(ctx context.Context, key string) error {
	_, err := c.mkdirAll(ctx, key)
	return err
}

func (c *driveClient) mkdirAll(ctx context.Context, key string) (string, error) {
	p := CleanPath(key)
	if p == "/" {
		return "root", nil
	}

	existing, err := c.resolve(ctx, p)
	if err == nil {
		if existing.MimeType != driveFolderMime {
			return "", &model.OpError{Kind: model.KindAlreadyExists, Op: "mkdir", Path: p, Protocol: model.ProtocolGDrive, Detail: "a file exists at this path"}
		}
		return existing.Id, nil
	}
	if model.KindOf(mapCloudError(model.ProtocolGDrive, "mkdir", p, err)) != model.KindNotFound {
		return "", err
	}

	parentID, err := c.mkdirAll(ctx, path.Dir(p))
	if err != nil {
		return "", err
	}
	folder, err := c.svc.Files.Create(&drive.File{Name: BaseName(p), MimeType: driveFolderMime, Parents: []string{parentID}}).
		Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	c.remember(p, folder.Id)
	return folder.Id, nil
}

func (c *driveClient) Quota(ctx context.Context) (int64, error) {
	about, err := c.svc.About.Get().Fields("storageQuota").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	if about.StorageQuota == nil || about.StorageQuota.Limit == 0 {
		return model.SizeUnknown, nil
	}
	return about.StorageQuota.Limit - about.StorageQuota.Usage, nil
}

func driveEntry(file *drive.File) model.FileEntry {
	entry := model.FileEntry{
		Name:  file.Name,
		Size:  file.Size,
		IsDir: file.MimeType == driveFolderMime,
		Hash:  file.Md5Checksum,
	}
	if modified, err := time.Parse(time.RFC3339, file.ModifiedTime); err == nil {
		entry.ModTime = modified.UTC()
	}
	if created, err := time.Parse(time.RFC3339, file.CreatedTime); err == nil {
		entry.CreateTime = created.UTC()
	}
	return entry
}

func escapeDriveQuery(value string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
}

// oauthHTTPClient returns a client that refreshes the access token on demand.
func oauthHTTPClient(ctx context.Context, cred model.Credential, tokenURL string) *http.Client {
	if cred.TokenURL != "" {
		tokenURL = cred.TokenURL
	}
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	token := &oauth2.Token{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken}
	return oauth2.NewClient(context.WithoutCancel(ctx), cfg.TokenSource(context.WithoutCancel(ctx), token))
}
