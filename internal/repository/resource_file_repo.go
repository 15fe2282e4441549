package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"go-file-engine/internal/model"
)

// FileResourceRepository serves resource descriptors from a YAML or JSON file
// with a top-level "resources" list.
type FileResourceRepository struct {
	path string

	mu        sync.RWMutex
	resources map[string]model.ResourceDescriptor
}

func NewFileResourceRepository(path string) (*FileResourceRepository, error) {
	repo := &FileResourceRepository{path: path}
	if err := repo.Reload(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Reload re-reads the file. On error the previous descriptors stay in place.
func (r *FileResourceRepository) Reload() error {
	var parser koanf.Parser = yaml.Parser()
	if strings.EqualFold(filepath.Ext(r.path), ".json") {
		parser = json.Parser()
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(r.path), parser); err != nil {
		return fmt.Errorf("load resources file %s: %w", r.path, err)
	}

	var descriptors []model.ResourceDescriptor
	if err := k.UnmarshalWithConf("resources", &descriptors, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("decode resources file %s: %w", r.path, err)
	}

	resources := make(map[string]model.ResourceDescriptor, len(descriptors))
	for _, desc := range descriptors {
		protocol, err := model.ParseProtocol(string(desc.Protocol))
		if err != nil {
			return fmt.Errorf("resource %s: %w", desc.ID, err)
		}
		desc.Protocol = protocol

		if err := desc.Validate(); err != nil {
			return err
		}
		if _, exists := resources[desc.ID]; exists {
			return fmt.Errorf("%w: duplicate resource id %q", model.ErrInvalidInput, desc.ID)
		}
		resources[desc.ID] = desc
	}

	r.mu.Lock()
	r.resources = resources
	r.mu.Unlock()
	return nil
}

func (r *FileResourceRepository) Get(_ context.Context, id string) (model.ResourceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.resources[id]
	if !ok {
		return model.ResourceDescriptor{}, fmt.Errorf("%w: %s", model.ErrResourceNotFound, id)
	}
	return desc, nil
}

func (r *FileResourceRepository) List(_ context.Context) ([]model.ResourceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ResourceDescriptor, 0, len(r.resources))
	for _, desc := range r.resources {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
