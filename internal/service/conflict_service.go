package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
)

type ConflictAction string

const (
	ActionWrite     ConflictAction = "write"
	ActionOverwrite ConflictAction = "overwrite"
	ActionSkip      ConflictAction = "skip"
	ActionMerge     ConflictAction = "merge"
)

type ConflictDecision struct {
	Action ConflictAction
	Path   string
	// Existing is the colliding destination entry, nil for ActionWrite.
	Existing *model.FileEntry
}

type ConflictRequest struct {
	Index  int
	Dest   storage.Strategy
	Dir    string
	Name   string
	Source model.FileEntry
	// Policy overrides the batch policy, used for children of a merged directory.
	Policy model.ConflictPolicy
}

type ConflictPrompt struct {
	Index      int             `json:"index"`
	ResourceID string          `json:"resource_id"`
	Source     model.FileEntry `json:"source"`
	Existing   model.FileEntry `json:"existing"`
}

// ConflictCallback answers an ASK collision. It may block; only the asking item waits.
type ConflictCallback func(ctx context.Context, prompt ConflictPrompt) (model.ConflictPolicy, error)

// ConflictResolver decides what happens on a destination collision. One
// resolver serves one batch: every destination directory is listed once and
// names chosen by earlier items are reserved for later ones.
type ConflictResolver struct {
	policy   model.ConflictPolicy
	fallback model.ConflictPolicy
	ask      ConflictCallback

	mu        sync.Mutex
	snapshots map[string]*dirSnapshot
}

type dirSnapshot struct {
	once  sync.Once
	names map[string]model.FileEntry
	err   error
}

func NewConflictResolver(policy model.ConflictPolicy, fallback model.ConflictPolicy, ask ConflictCallback) *ConflictResolver {
	if policy == "" {
		policy = fallback
	}
	if policy == "" {
		policy = model.ConflictKeepBoth
	}
	return &ConflictResolver{
		policy:    policy,
		fallback:  fallback,
		ask:       ask,
		snapshots: map[string]*dirSnapshot{},
	}
}

func (r *ConflictResolver) Policy() model.ConflictPolicy {
	return r.policy
}

func (r *ConflictResolver) Resolve(ctx context.Context, req ConflictRequest) (ConflictDecision, error) {
	snap, err := r.snapshot(ctx, req.Dest, req.Dir)
	if err != nil {
		return ConflictDecision{}, err
	}

	target := storage.JoinPath(req.Dir, req.Name)

	r.mu.Lock()
	existing, taken := snap.names[req.Name]
	if !taken {
		snap.names[req.Name] = reservedEntry(target, req.Source)
		r.mu.Unlock()
		return ConflictDecision{Action: ActionWrite, Path: target}, nil
	}
	r.mu.Unlock()

	policy := req.Policy
	if policy == "" {
		policy = r.policy
	}

	if policy == model.ConflictAsk {
		policy, err = r.askPolicy(ctx, req, existing)
		if err != nil {
			return ConflictDecision{}, err
		}
	}

	switch policy {
	case model.ConflictSkip:
		return ConflictDecision{Action: ActionSkip, Path: target, Existing: &existing}, nil
	case model.ConflictOverwrite:
		return ConflictDecision{Action: ActionOverwrite, Path: target, Existing: &existing}, nil
	case model.ConflictMerge:
		if existing.IsDir && req.Source.IsDir {
			return ConflictDecision{Action: ActionMerge, Path: target, Existing: &existing}, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := KeepBothName(req.Name, req.Source.IsDir, func(candidate string) bool {
		_, exists := snap.names[candidate]
		return exists
	})
	renamed := storage.JoinPath(req.Dir, name)
	snap.names[name] = reservedEntry(renamed, req.Source)
	return ConflictDecision{Action: ActionWrite, Path: renamed, Existing: &existing}, nil
}

// askPolicy runs the callback without holding the resolver lock. Without a
// callback the configured default applies, and SKIP when that default is ASK.
func (r *ConflictResolver) askPolicy(ctx context.Context, req ConflictRequest, existing model.FileEntry) (model.ConflictPolicy, error) {
	if r.ask == nil {
		if r.fallback == "" || r.fallback == model.ConflictAsk {
			return model.ConflictSkip, nil
		}
		return r.fallback, nil
	}

	answer, err := r.ask(ctx, ConflictPrompt{
		Index:      req.Index,
		ResourceID: req.Dest.ResourceID(),
		Source:     req.Source,
		Existing:   existing,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", cancelledError("resolve", existing.Path, ctx.Err())
		}
		return "", fmt.Errorf("conflict callback for %q: %w", existing.Path, err)
	}
	if answer == "" || answer == model.ConflictAsk {
		return model.ConflictSkip, nil
	}
	return answer, nil
}

func (r *ConflictResolver) snapshot(ctx context.Context, dest storage.Strategy, dir string) (*dirSnapshot, error) {
	key := dest.ResourceID() + "\x00" + storage.CleanPath(dir)

	r.mu.Lock()
	snap, ok := r.snapshots[key]
	if !ok {
		snap = &dirSnapshot{}
		r.snapshots[key] = snap
	}
	r.mu.Unlock()

	snap.once.Do(func() {
		names := map[string]model.FileEntry{}
		entries, err := dest.List(ctx, dir)
		switch {
		case err == nil:
			for _, entry := range entries {
				names[entry.Name] = entry
			}
		case model.KindOf(err) == model.KindNotFound:
		default:
			snap.err = err
		}

		r.mu.Lock()
		snap.names = names
		r.mu.Unlock()
	})

	if snap.err != nil {
		return nil, snap.err
	}
	return snap, nil
}

func reservedEntry(p string, source model.FileEntry) model.FileEntry {
	return model.FileEntry{Path: p, Name: storage.BaseName(p), IsDir: source.IsDir, Size: source.Size}
}

// KeepBothName returns "name (n).ext" for the smallest n >= 1 not taken.
func KeepBothName(name string, isDir bool, taken func(string) bool) string {
	base, ext := splitName(name, isDir)
	for index := 1; ; index++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, index, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

// splitName keeps directories and dotfiles whole; otherwise the last
// extension stays after the counter.
func splitName(name string, isDir bool) (string, string) {
	if isDir {
		return name, ""
	}
	ext := path.Ext(name)
	if ext == name || strings.TrimSuffix(name, ext) == "" {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
