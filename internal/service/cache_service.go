package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"go-file-engine/internal/event"
	"go-file-engine/internal/metrics"
	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
)

type CacheConfig struct {
	Dir          string
	MaxBytes     int64
	EditMaxBytes int64
}

type cacheKey struct {
	resource string
	path     string
}

type cacheItem struct {
	entry   model.CacheEntry
	staging string
	// busy is non-nil while a download or upload owns the entry.
	busy chan struct{}
}

// CacheService stages remote files on local disk for view and edit round
// trips. Entries that are dirty, uploading or held are never evicted.
type CacheService struct {
	cfg       CacheConfig
	resources StrategyResolver
	transfer  *TransferService
	staging   *storage.LocalStrategy
	bus       event.Bus
	now       func() time.Time

	mu        sync.Mutex
	entries   map[cacheKey]*cacheItem
	bytes     int64
	evictions int64
	downloads int64
}

// NewCacheService prepares the staging directory and clears whatever a
// previous process left in it.
func NewCacheService(cfg CacheConfig, resources StrategyResolver, transfer *TransferService, bus event.Bus) (*CacheService, error) {
	staging, err := storage.NewLocalStrategy("cache", cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("prepare cache directory: %w", err)
	}

	purged, err := staging.PurgeStaging()
	if err != nil {
		return nil, fmt.Errorf("purge cache directory: %w", err)
	}
	if purged > 0 {
		slog.Info("purged orphaned cache files", "dir", staging.RootAbs(), "count", purged)
	}

	return &CacheService{
		cfg:       cfg,
		resources: resources,
		transfer:  transfer,
		staging:   staging,
		bus:       bus,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   map[cacheKey]*cacheItem{},
	}, nil
}

// Acquire returns the staged copy of resource:p, downloading it when absent
// or when the remote size or mtime changed. The entry stays pinned until Release.
func (c *CacheService) Acquire(ctx context.Context, resourceID string, p string) (model.CacheEntry, error) {
	p = storage.CleanPath(p)
	key := cacheKey{resource: resourceID, path: p}

	strategy, err := c.resources.Strategy(ctx, resourceID)
	if err != nil {
		return model.CacheEntry{}, err
	}

	for {
		c.mu.Lock()
		item, ok := c.entries[key]
		if ok && item.busy != nil {
			busy := item.busy
			c.mu.Unlock()
			select {
			case <-busy:
				continue
			case <-ctx.Done():
				return model.CacheEntry{}, cancelledError("acquire", p, ctx.Err())
			}
		}

		if !ok {
			staging := c.stagingPath(resourceID, p)
			localPath, err := c.staging.Resolve(staging)
			if err != nil {
				c.mu.Unlock()
				return model.CacheEntry{}, err
			}
			item = &cacheItem{
				staging: staging,
				entry: model.CacheEntry{
					ResourceID: resourceID,
					Path:       p,
					LocalPath:  localPath,
					State:      model.CacheDownloading,
				},
			}
			c.entries[key] = item
		}

		if item.entry.State == model.CacheDirty {
			item.entry.Holders++
			item.entry.LastAccess = c.now()
			snapshot := item.entry
			c.mu.Unlock()
			return snapshot, nil
		}

		item.busy = make(chan struct{})
		item.entry.Holders++
		snapshot := item.entry
		c.mu.Unlock()

		refreshed, err := c.refresh(ctx, strategy, item.staging, snapshot)

		c.mu.Lock()
		close(item.busy)
		item.busy = nil

		if err != nil {
			item.entry.Holders--
			if item.entry.State != model.CacheReady {
				c.dropLocked(key, item)
			}
			c.mu.Unlock()
			return model.CacheEntry{}, err
		}

		c.bytes += refreshed.Size - item.entry.Size
		refreshed.Holders = item.entry.Holders
		refreshed.LastAccess = c.now()
		item.entry = refreshed
		snapshot = item.entry
		c.evictLocked()
		metrics.SetCacheBytes(c.bytes)
		c.mu.Unlock()
		return snapshot, nil
	}
}

// refresh runs without the lock; only the goroutine owning item.busy calls it.
func (c *CacheService) refresh(ctx context.Context, strategy storage.Strategy, staging string, current model.CacheEntry) (model.CacheEntry, error) {
	remote, err := strategy.Stat(ctx, current.Path)
	if err != nil {
		if current.State == model.CacheReady && model.IsTransient(err) {
			slog.Debug("serving cached copy, remote unreachable", "resource_id", current.ResourceID, "path", current.Path, "error", err)
			return current, nil
		}
		return model.CacheEntry{}, err
	}

	if remote.IsDir {
		return model.CacheEntry{}, &model.OpError{Kind: model.KindPermissionDenied, Op: "acquire", Path: current.Path, Protocol: strategy.Protocol(), Detail: "directories cannot be staged"}
	}

	if current.State == model.CacheReady && remote.Size == current.RemoteSize && remote.ModTime.Equal(current.RemoteModTime) {
		return current, nil
	}

	if c.cfg.EditMaxBytes > 0 && remote.Size > c.cfg.EditMaxBytes {
		return model.CacheEntry{}, &model.OpError{
			Kind:     model.KindQuotaExceeded,
			Op:       "acquire",
			Path:     current.Path,
			Protocol: strategy.Protocol(),
			Detail:   fmt.Sprintf("file is %d bytes, edit limit is %d", remote.Size, c.cfg.EditMaxBytes),
		}
	}

	result, err := c.transfer.Copy(ctx, TransferRequest{
		Source:     strategy,
		SourcePath: current.Path,
		Dest:       c.staging,
		DestPath:   staging,
		Size:       remote.Size,
		Mode:       storage.WriteOverwrite,
	})
	metrics.RecordCacheDownload(err == nil)
	if err != nil {
		return model.CacheEntry{}, err
	}

	c.mu.Lock()
	c.downloads++
	c.mu.Unlock()

	current.State = model.CacheReady
	current.Size = result.Bytes
	current.Checksum = result.Checksum
	current.RemoteSize = remote.Size
	current.RemoteModTime = remote.ModTime
	return current, nil
}

// MarkDirty records a local edit. The entry is pinned until a commit succeeds.
func (c *CacheService) MarkDirty(ctx context.Context, resourceID string, p string) (model.CacheEntry, error) {
	key := cacheKey{resource: resourceID, path: storage.CleanPath(p)}

	c.mu.Lock()
	item, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return model.CacheEntry{}, fmt.Errorf("%w: %s:%s", model.ErrCacheEntryNotFound, resourceID, key.path)
	}
	if item.busy != nil || (item.entry.State != model.CacheReady && item.entry.State != model.CacheDirty) {
		state := item.entry.State
		c.mu.Unlock()
		return model.CacheEntry{}, fmt.Errorf("%w: cannot mark %s entry dirty", model.ErrCacheEntryState, state)
	}
	staging := item.staging
	c.mu.Unlock()

	local, err := c.staging.Stat(ctx, staging)
	if err != nil {
		return model.CacheEntry{}, err
	}

	c.mu.Lock()
	c.bytes += local.Size - item.entry.Size
	item.entry.Size = local.Size
	item.entry.Checksum = ""
	item.entry.State = model.CacheDirty
	item.entry.LastAccess = c.now()
	snapshot := item.entry
	metrics.SetCacheBytes(c.bytes)
	c.mu.Unlock()

	event.Publish(c.bus, event.TypeCacheDirty, snapshot)
	return snapshot, nil
}

// Commit uploads a dirty entry. On failure it stays DIRTY so the caller can retry.
func (c *CacheService) Commit(ctx context.Context, resourceID string, p string) (model.CacheEntry, error) {
	key := cacheKey{resource: resourceID, path: storage.CleanPath(p)}

	strategy, err := c.resources.Strategy(ctx, resourceID)
	if err != nil {
		return model.CacheEntry{}, err
	}

	c.mu.Lock()
	item, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return model.CacheEntry{}, fmt.Errorf("%w: %s:%s", model.ErrCacheEntryNotFound, resourceID, key.path)
	}
	if item.busy != nil || item.entry.State != model.CacheDirty {
		state := item.entry.State
		c.mu.Unlock()
		return model.CacheEntry{}, fmt.Errorf("%w: cannot commit %s entry", model.ErrCacheEntryState, state)
	}
	item.entry.State = model.CacheUploading
	item.busy = make(chan struct{})
	snapshot := item.entry
	c.mu.Unlock()

	result, err := c.transfer.Copy(ctx, TransferRequest{
		Source:     c.staging,
		SourcePath: item.staging,
		Dest:       strategy,
		DestPath:   snapshot.Path,
		Size:       snapshot.Size,
		Mode:       storage.WriteOverwrite,
	})
	if err == nil {
		err = c.transfer.Verify(ctx, strategy, snapshot.Path, result)
	}
	var remote model.FileEntry
	if err == nil {
		remote, err = strategy.Stat(ctx, snapshot.Path)
	}

	c.mu.Lock()
	close(item.busy)
	item.busy = nil

	if err != nil {
		item.entry.State = model.CacheDirty
		c.mu.Unlock()
		slog.Warn("cache commit failed", "resource_id", resourceID, "path", snapshot.Path, "error", err)
		return model.CacheEntry{}, err
	}

	item.entry.State = model.CacheReady
	item.entry.Checksum = result.Checksum
	item.entry.RemoteSize = remote.Size
	item.entry.RemoteModTime = remote.ModTime
	item.entry.LastAccess = c.now()
	snapshot = item.entry
	c.evictLocked()
	c.mu.Unlock()

	event.Publish(c.bus, event.TypeCacheCommitted, snapshot)
	return snapshot, nil
}

// Release drops one hold. Unheld READY entries become eligible for eviction.
func (c *CacheService) Release(resourceID string, p string) error {
	key := cacheKey{resource: resourceID, path: storage.CleanPath(p)}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s:%s", model.ErrCacheEntryNotFound, resourceID, key.path)
	}
	if item.entry.Holders > 0 {
		item.entry.Holders--
	}
	item.entry.LastAccess = c.now()
	c.evictLocked()
	return nil
}

// Invalidate drops unheld READY entries of a resource at or under prefix,
// after the orchestrator changed the remote side.
func (c *CacheService) Invalidate(resourceID string, prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, item := range c.entries {
		if key.resource != resourceID || !storage.IsWithin(prefix, key.path) {
			continue
		}
		if item.busy != nil || item.entry.Pinned() || item.entry.State != model.CacheReady {
			continue
		}
		c.dropLocked(key, item)
		dropped++
	}
	metrics.SetCacheBytes(c.bytes)
	return dropped
}

func (c *CacheService) Stats() model.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := model.CacheStats{
		Entries:   len(c.entries),
		Bytes:     c.bytes,
		MaxBytes:  c.cfg.MaxBytes,
		Evictions: c.evictions,
		Downloads: c.downloads,
	}
	for _, item := range c.entries {
		if item.entry.Pinned() {
			stats.Pinned++
		}
	}
	return stats
}

func (c *CacheService) List() []model.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.CacheEntry, 0, len(c.entries))
	for _, item := range c.entries {
		out = append(out, item.entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceID != out[j].ResourceID {
			return out[i].ResourceID < out[j].ResourceID
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// evictLocked removes least recently used unpinned READY entries until the
// cache fits its bound or nothing else can go.
func (c *CacheService) evictLocked() {
	if c.cfg.MaxBytes <= 0 {
		return
	}

	for c.bytes > c.cfg.MaxBytes {
		var victimKey cacheKey
		var victim *cacheItem
		for key, item := range c.entries {
			if item.busy != nil || item.entry.State != model.CacheReady || item.entry.Pinned() {
				continue
			}
			if victim == nil || item.entry.LastAccess.Before(victim.entry.LastAccess) {
				victimKey, victim = key, item
			}
		}
		if victim == nil {
			return
		}

		evicted := victim.entry
		evicted.State = model.CacheEvicted
		c.dropLocked(victimKey, victim)
		c.evictions++
		metrics.RecordCacheEviction()
		event.Publish(c.bus, event.TypeCacheEvicted, evicted)
	}
	metrics.SetCacheBytes(c.bytes)
}

func (c *CacheService) dropLocked(key cacheKey, item *cacheItem) {
	delete(c.entries, key)
	c.bytes -= item.entry.Size
	err := c.staging.Delete(context.Background(), storage.ParentPath(item.staging), model.DeletePermanent)
	if err != nil && model.KindOf(err) != model.KindNotFound {
		slog.Warn("remove staging file", "path", item.entry.LocalPath, "error", err)
	}
}

func (c *CacheService) stagingPath(resourceID string, p string) string {
	dir := fmt.Sprintf("%016x", xxhash.Sum64String(resourceID+"\x00"+p))
	return storage.JoinPath("/"+dir, storage.BaseName(p))
}
