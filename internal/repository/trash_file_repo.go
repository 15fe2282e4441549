package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go-file-engine/internal/model"
)

// FileTrashRepository keeps the trash ledger in a JSON index on local disk.
// Every mutation rewrites the index through a temp file and rename.
type FileTrashRepository struct {
	path    string
	mu      sync.Mutex
	records map[string]model.TrashRecord
}

func NewFileTrashRepository(path string) (*FileTrashRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare trash index directory: %w", err)
	}

	repo := &FileTrashRepository{path: path, records: map[string]model.TrashRecord{}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return repo, nil
	case err != nil:
		return nil, fmt.Errorf("read trash index: %w", err)
	}

	var records []model.TrashRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode trash index %s: %w", path, err)
		}
	}
	for _, record := range records {
		repo.records[record.ID] = record
	}
	return repo, nil
}

func (r *FileTrashRepository) Create(_ context.Context, record model.TrashRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return fmt.Errorf("create trash record %s: %w", record.ID, os.ErrExist)
	}
	r.records[record.ID] = record
	if err := r.persistLocked(); err != nil {
		delete(r.records, record.ID)
		return err
	}
	return nil
}

func (r *FileTrashRepository) FindByID(_ context.Context, id string) (model.TrashRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return model.TrashRecord{}, model.ErrTrashItemNotFound
	}
	return record, nil
}

func (r *FileTrashRepository) MarkRestored(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok || record.RestoredAt != nil {
		return model.ErrTrashItemNotFound
	}

	previous := record
	record.RestoredAt = &at
	r.records[id] = record
	if err := r.persistLocked(); err != nil {
		r.records[id] = previous
		return err
	}
	return nil
}

func (r *FileTrashRepository) List(_ context.Context, includeRestored bool) ([]model.TrashRecord, error) {
	return r.filter(func(record model.TrashRecord) bool {
		return includeRestored || record.RestoredAt == nil
	}), nil
}

func (r *FileTrashRepository) ListExpired(_ context.Context, now time.Time) ([]model.TrashRecord, error) {
	return r.filter(func(record model.TrashRecord) bool {
		return record.Expired(now)
	}), nil
}

func (r *FileTrashRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return model.ErrTrashItemNotFound
	}
	delete(r.records, id)
	if err := r.persistLocked(); err != nil {
		r.records[id] = record
		return err
	}
	return nil
}

func (r *FileTrashRepository) filter(keep func(model.TrashRecord) bool) []model.TrashRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.TrashRecord, 0, len(r.records))
	for _, record := range r.records {
		if keep(record) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeletedAt.After(out[j].DeletedAt)
	})
	return out
}

func (r *FileTrashRepository) persistLocked() error {
	records := make([]model.TrashRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trash index: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write trash index: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace trash index: %w", err)
	}
	return nil
}
