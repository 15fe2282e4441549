package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-file-engine/internal/event"
	"go-file-engine/internal/metrics"
	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
)

// StrategyResolver maps a resource id to its strategy. *storage.Registry implements it.
type StrategyResolver interface {
	Strategy(ctx context.Context, resourceID string) (storage.Strategy, error)
}

// TrashStore persists trash records. FindByID returns restored records too.
type TrashStore interface {
	Create(ctx context.Context, record model.TrashRecord) error
	FindByID(ctx context.Context, id string) (model.TrashRecord, error)
	MarkRestored(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, includeRestored bool) ([]model.TrashRecord, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.TrashRecord, error)
	Delete(ctx context.Context, id string) error
}

// TrashLedger keeps deleted items restorable on backends without a native
// trash. Items move into storage.TrashDir at the resource root.
type TrashLedger struct {
	resources StrategyResolver
	store     TrashStore
	transfer  *TransferService
	retention time.Duration
	bus       event.Bus
	now       func() time.Time
}

func NewTrashLedger(resources StrategyResolver, store TrashStore, transfer *TransferService, retention time.Duration, bus event.Bus) *TrashLedger {
	return &TrashLedger{
		resources: resources,
		store:     store,
		transfer:  transfer,
		retention: retention,
		bus:       bus,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Trash moves p into the resource's trash directory and records it.
func (l *TrashLedger) Trash(ctx context.Context, strategy storage.Strategy, p string) (model.TrashRecord, error) {
	p = storage.CleanPath(p)
	if IsTrashPath(p) {
		return model.TrashRecord{}, &model.OpError{Kind: model.KindPermissionDenied, Op: "trash", Path: p, Protocol: strategy.Protocol(), Detail: "path is inside the trash"}
	}

	entry, err := strategy.Stat(ctx, p)
	if err != nil {
		return model.TrashRecord{}, err
	}

	deletedAt := l.now()
	record := model.TrashRecord{
		ID:           uuid.NewString(),
		ResourceID:   strategy.ResourceID(),
		OriginalPath: p,
		IsDir:        entry.IsDir,
		Size:         entry.Size,
		DeletedAt:    deletedAt,
	}
	record.TrashedPath = storage.JoinPath(storage.TrashDir, record.ID+"_"+storage.BaseName(p))
	if l.retention > 0 {
		expires := deletedAt.Add(l.retention)
		record.ExpiresAt = &expires
	}

	if err := strategy.Mkdir(ctx, storage.TrashDir); err != nil {
		return model.TrashRecord{}, err
	}

	if strategy.SupportsAtomicRename() {
		if err := strategy.Rename(ctx, p, record.TrashedPath); err != nil {
			return model.TrashRecord{}, err
		}
		if err := l.store.Create(ctx, record); err != nil {
			if rollbackErr := strategy.Rename(context.WithoutCancel(ctx), record.TrashedPath, p); rollbackErr != nil {
				slog.Error("roll back trash move", "resource_id", record.ResourceID, "path", p, "error", rollbackErr)
			}
			return model.TrashRecord{}, err
		}
	} else {
		if err := l.copyWithin(ctx, strategy, entry, p, record.TrashedPath); err != nil {
			return model.TrashRecord{}, err
		}
		if err := l.store.Create(ctx, record); err != nil {
			l.discard(ctx, strategy, record.TrashedPath)
			return model.TrashRecord{}, err
		}
		if err := strategy.Delete(ctx, p, model.DeletePermanent); err != nil {
			if deleteErr := l.store.Delete(context.WithoutCancel(ctx), record.ID); deleteErr != nil {
				slog.Error("roll back trash record", "trash_id", record.ID, "error", deleteErr)
			}
			l.discard(ctx, strategy, record.TrashedPath)
			return model.TrashRecord{}, err
		}
	}

	metrics.RecordTrashEvent("trashed")
	event.Publish(l.bus, event.TypeTrashCreated, record)
	slog.Info("moved to trash", "resource_id", record.ResourceID, "path", p, "trash_id", record.ID)
	return record, nil
}

// Restore moves a trashed item back to its original path. It fails with
// ALREADY_EXISTS when the original path has been reused.
func (l *TrashLedger) Restore(ctx context.Context, id string) (model.TrashRecord, error) {
	record, err := l.store.FindByID(ctx, id)
	if err != nil {
		return model.TrashRecord{}, err
	}
	if record.RestoredAt != nil {
		return model.TrashRecord{}, fmt.Errorf("restore %s: %w", id, model.ErrItemAlreadyRestored)
	}

	strategy, err := l.resources.Strategy(ctx, record.ResourceID)
	if err != nil {
		return model.TrashRecord{}, err
	}

	occupied, err := strategy.Exists(ctx, record.OriginalPath)
	if err != nil {
		return model.TrashRecord{}, err
	}
	if occupied {
		return model.TrashRecord{}, &model.OpError{Kind: model.KindAlreadyExists, Op: "restore", Path: record.OriginalPath, Protocol: strategy.Protocol(), Detail: "original path is occupied"}
	}

	if err := strategy.Mkdir(ctx, storage.ParentPath(record.OriginalPath)); err != nil {
		return model.TrashRecord{}, err
	}

	if strategy.SupportsAtomicRename() {
		if err := strategy.Rename(ctx, record.TrashedPath, record.OriginalPath); err != nil {
			return model.TrashRecord{}, err
		}
	} else {
		entry, err := strategy.Stat(ctx, record.TrashedPath)
		if err != nil {
			return model.TrashRecord{}, err
		}
		if err := l.copyWithin(ctx, strategy, entry, record.TrashedPath, record.OriginalPath); err != nil {
			return model.TrashRecord{}, err
		}
		l.discard(ctx, strategy, record.TrashedPath)
	}

	restoredAt := l.now()
	if err := l.store.MarkRestored(ctx, id, restoredAt); err != nil {
		slog.Error("record restore", "trash_id", id, "error", err)
		return model.TrashRecord{}, err
	}
	record.RestoredAt = &restoredAt

	metrics.RecordTrashEvent("restored")
	event.Publish(l.bus, event.TypeTrashRestored, record)
	slog.Info("restored from trash", "resource_id", record.ResourceID, "path", record.OriginalPath, "trash_id", id)
	return record, nil
}

// Purge permanently removes a trashed item and its record.
func (l *TrashLedger) Purge(ctx context.Context, id string) error {
	record, err := l.store.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if record.RestoredAt == nil {
		strategy, err := l.resources.Strategy(ctx, record.ResourceID)
		if err != nil {
			return err
		}
		if err := strategy.Delete(ctx, record.TrashedPath, model.DeletePermanent); err != nil && model.KindOf(err) != model.KindNotFound {
			return err
		}
	}

	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}

	metrics.RecordTrashEvent("purged")
	event.Publish(l.bus, event.TypeTrashPurged, record)
	return nil
}

// PurgeExpired purges every record past its expiry and reports how many went.
func (l *TrashLedger) PurgeExpired(ctx context.Context) (int, error) {
	records, err := l.store.ListExpired(ctx, l.now())
	if err != nil {
		return 0, err
	}
	return l.purgeAll(ctx, records)
}

// Empty purges every record that has not been restored.
func (l *TrashLedger) Empty(ctx context.Context) (int, error) {
	records, err := l.store.List(ctx, false)
	if err != nil {
		return 0, err
	}
	return l.purgeAll(ctx, records)
}

func (l *TrashLedger) List(ctx context.Context, includeRestored bool) ([]model.TrashRecord, error) {
	return l.store.List(ctx, includeRestored)
}

// StartPurgeTicker runs PurgeExpired every interval until ctx is done.
func (l *TrashLedger) StartPurgeTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := l.PurgeExpired(ctx)
				if err != nil {
					slog.Warn("purge expired trash", "error", err)
				}
				if purged > 0 {
					slog.Info("purged expired trash", "count", purged)
				}
			}
		}
	}()
}

func (l *TrashLedger) purgeAll(ctx context.Context, records []model.TrashRecord) (int, error) {
	var errs []error
	count := 0
	for _, record := range records {
		if err := l.Purge(ctx, record.ID); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", record.ID, err))
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

func (l *TrashLedger) copyWithin(ctx context.Context, strategy storage.Strategy, entry model.FileEntry, from string, to string) error {
	if entry.IsDir {
		_, err := l.transfer.CopyTree(ctx, strategy, from, strategy, to, storage.WriteCreate, nil)
		if err != nil {
			l.discard(ctx, strategy, to)
		}
		return err
	}

	_, err := l.transfer.CopyVerified(ctx, TransferRequest{
		Source:     strategy,
		SourcePath: from,
		Dest:       strategy,
		DestPath:   to,
		Size:       entry.Size,
		Mode:       storage.WriteCreate,
	})
	return err
}

func (l *TrashLedger) discard(ctx context.Context, strategy storage.Strategy, p string) {
	err := strategy.Delete(context.WithoutCancel(ctx), p, model.DeletePermanent)
	if err != nil && model.KindOf(err) != model.KindNotFound {
		slog.Warn("discard trash copy", "resource_id", strategy.ResourceID(), "path", p, "error", err)
	}
}

// IsTrashPath reports whether p lives in the ledger's trash directory.
func IsTrashPath(p string) bool {
	return strings.HasPrefix(storage.CleanPath(p)+"/", storage.TrashDir+"/")
}
