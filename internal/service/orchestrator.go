package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-file-engine/internal/event"
	"go-file-engine/internal/metrics"
	"go-file-engine/internal/model"
	"go-file-engine/internal/storage"
	"go-file-engine/internal/util"
)

const defaultMaxParallelItems = 4

// Resources resolves strategies and reports per-resource session limits.
type Resources interface {
	StrategyResolver
	Concurrency(ctx context.Context, resourceID string) int
}

type OrchestratorConfig struct {
	MaxParallelItems int
	DefaultPolicy    model.ConflictPolicy
}

// Hooks are optional. OnItemComplete and OnProgress may be called from
// several goroutines; progress is ordered within one item only.
type Hooks struct {
	OnProgress      func(index int, done int64, total int64)
	OnConflict      ConflictCallback
	OnItemComplete  func(result model.OperationResult)
	OnBatchComplete func(result model.BatchResult)
}

type ItemProgress struct {
	BatchID string `json:"batch_id"`
	Index   int    `json:"index"`
	Done    int64  `json:"done"`
	Total   int64  `json:"total"`
}

type ItemCompleted struct {
	BatchID string                `json:"batch_id"`
	Result  model.OperationResult `json:"result"`
}

// Orchestrator expands an OperationRequest into per-item work, runs it with
// bounded parallelism and returns results in request order.
type Orchestrator struct {
	cfg       OrchestratorConfig
	resources Resources
	transfer  *TransferService
	trash     *TrashLedger
	cache     *CacheService
	bus       event.Bus
}

func NewOrchestrator(cfg OrchestratorConfig, resources Resources, transfer *TransferService, trash *TrashLedger, cache *CacheService, bus event.Bus) *Orchestrator {
	if cfg.MaxParallelItems <= 0 {
		cfg.MaxParallelItems = defaultMaxParallelItems
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = model.ConflictKeepBoth
	}
	return &Orchestrator{cfg: cfg, resources: resources, transfer: transfer, trash: trash, cache: cache, bus: bus}
}

// BatchHandle tracks a batch started with SubmitAsync.
type BatchHandle struct {
	BatchID string

	cancel context.CancelFunc
	done   chan struct{}
	result model.BatchResult
}

// Cancel stops new items from starting; in-flight transfers stop at their
// next chunk boundary.
func (h *BatchHandle) Cancel() {
	h.cancel()
}

func (h *BatchHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the batch finishes or ctx is done.
func (h *BatchHandle) Wait(ctx context.Context) (model.BatchResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return model.BatchResult{}, ctx.Err()
	}
}

// Submit runs the batch to completion. It only returns an error when the
// request itself is invalid; item failures are reported in the result.
func (o *Orchestrator) Submit(ctx context.Context, req model.OperationRequest, hooks Hooks) (model.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return model.BatchResult{}, err
	}
	return o.run(ctx, uuid.NewString(), req, hooks), nil
}

func (o *Orchestrator) SubmitAsync(ctx context.Context, req model.OperationRequest, hooks Hooks) (*BatchHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &BatchHandle{BatchID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(handle.done)
		defer cancel()
		handle.result = o.run(runCtx, handle.BatchID, req, hooks)
	}()

	return handle, nil
}

func (o *Orchestrator) run(ctx context.Context, batchID string, req model.OperationRequest, hooks Hooks) model.BatchResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batch := model.BatchResult{
		BatchID:   batchID,
		Kind:      req.Kind,
		Items:     make([]model.OperationResult, len(req.Items)),
		StartedAt: time.Now().UTC(),
	}
	for i, item := range req.Items {
		batch.Items[i] = model.OperationResult{
			Index:      i,
			ResourceID: item.ResourceID,
			Source:     storage.CleanPath(item.Entry.Path),
			Status:     model.StatusPending,
		}
	}

	resolver := NewConflictResolver(req.ConflictPolicy, o.cfg.DefaultPolicy, hooks.OnConflict)
	limit := o.parallelism(ctx, req)
	logger := slog.With("batch_id", batchID, "kind", req.Kind)
	logger.Info("batch started", "items", len(req.Items), "parallel", limit)

	var group errgroup.Group
	group.SetLimit(limit)

	for i, item := range req.Items {
		if ctx.Err() != nil {
			break
		}

		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			run := &itemRun{
				o:        o,
				batchID:  batchID,
				req:      req,
				index:    i,
				resolver: resolver,
				hooks:    hooks,
			}
			result := run.execute(ctx, item, batch.Items[i])
			batch.Items[i] = result
			o.itemDone(batchID, req.Kind, result, hooks)

			if result.Status == model.StatusFailed && req.FailFast {
				logger.Warn("fail-fast: cancelling batch", "item", i, "error_kind", result.ErrorKind)
				cancel()
			}
			return nil
		})
	}
	_ = group.Wait()

	for i := range batch.Items {
		if batch.Items[i].Status == model.StatusPending {
			batch.Items[i].Status = model.StatusCancelled
			batch.Items[i].ErrorKind = model.KindCancelled
			o.itemDone(batchID, req.Kind, batch.Items[i], hooks)
		}
	}

	batch.FinishedAt = time.Now().UTC()
	batch.Tally()

	metrics.RecordBatch(string(req.Kind), batch.FinishedAt.Sub(batch.StartedAt))
	event.Publish(o.bus, event.TypeBatchCompleted, batch)
	if hooks.OnBatchComplete != nil {
		hooks.OnBatchComplete(batch)
	}

	logger.Info("batch finished",
		"succeeded", batch.Succeeded,
		"skipped", batch.Skipped,
		"failed", batch.Failed,
		"cancelled", batch.Cancelled,
		"warnings", batch.Warnings,
		"duration", batch.FinishedAt.Sub(batch.StartedAt))
	return batch
}

func (o *Orchestrator) itemDone(batchID string, kind model.OperationKind, result model.OperationResult, hooks Hooks) {
	metrics.RecordItem(string(kind), string(result.Status), string(result.ErrorKind))
	event.Publish(o.bus, event.TypeItemCompleted, ItemCompleted{BatchID: batchID, Result: result})
	if hooks.OnItemComplete != nil {
		hooks.OnItemComplete(result)
	}
}

// parallelism caps the batch by the tightest session limit among the
// resources involved. A non-atomic copy within one network resource holds a
// reader and a writer, so it gets half.
func (o *Orchestrator) parallelism(ctx context.Context, req model.OperationRequest) int {
	limit := o.cfg.MaxParallelItems

	ids := map[string]struct{}{}
	for _, item := range req.Items {
		ids[item.ResourceID] = struct{}{}
	}
	if req.Destination.ResourceID != "" {
		ids[req.Destination.ResourceID] = struct{}{}
	}

	for id := range ids {
		concurrency := o.resources.Concurrency(ctx, id)
		if concurrency <= 0 {
			continue
		}

		if id == req.Destination.ResourceID && o.streamsWithin(ctx, req, id) {
			concurrency /= 2
		}
		if concurrency < limit {
			limit = concurrency
		}
	}

	if limit < 1 {
		limit = 1
	}
	return limit
}

func (o *Orchestrator) streamsWithin(ctx context.Context, req model.OperationRequest, id string) bool {
	if req.Kind != model.OperationCopy && req.Kind != model.OperationMove {
		return false
	}

	sourced := false
	for _, item := range req.Items {
		if item.ResourceID == id {
			sourced = true
			break
		}
	}
	if !sourced {
		return false
	}

	strategy, err := o.resources.Strategy(ctx, id)
	if err != nil {
		return false
	}
	if !strategy.Protocol().IsNetwork() {
		return false
	}
	return req.Kind == model.OperationCopy || !strategy.SupportsAtomicRename()
}

type outcome struct {
	status        model.ItemStatus
	finalPath     string
	bytes         int64
	warning       string
	warningSource string
}

type itemRun struct {
	o        *Orchestrator
	batchID  string
	req      model.OperationRequest
	index    int
	resolver *ConflictResolver
	hooks    Hooks
}

func (r *itemRun) execute(ctx context.Context, item model.SourceItem, result model.OperationResult) model.OperationResult {
	logger := slog.With("batch_id", r.batchID, "item", r.index, "resource_id", item.ResourceID, "path", result.Source)

	out, err := r.dispatch(ctx, item, result.Source)
	result.BytesTransferred = out.bytes
	if err != nil {
		kind := model.KindOf(err)
		result.Status = model.StatusFailed
		if kind == model.KindCancelled {
			result.Status = model.StatusCancelled
		}
		result.ErrorKind = kind
		result.Detail = err.Error()
		result.RetryAfter = model.RetryAfterOf(err)
		logger.Debug("item failed", "error_kind", kind, "error", err)
		return result
	}

	result.Status = out.status
	result.FinalPath = out.finalPath
	if out.warning != "" {
		result.Warning = model.KindPartialSuccess
		result.WarningDetail = out.warning
		logger.Warn("copy verified but source was not removed; both copies exist",
			"final_path", out.finalPath, "source", out.warningSource, "error", out.warning)
	}
	return result
}

func (r *itemRun) dispatch(ctx context.Context, item model.SourceItem, source string) (outcome, error) {
	src, err := r.o.resources.Strategy(ctx, item.ResourceID)
	if err != nil {
		return outcome{}, err
	}

	entry, err := src.Stat(ctx, source)
	if err != nil {
		return outcome{}, err
	}
	entry.Path = source
	if entry.Name == "" {
		entry.Name = storage.BaseName(source)
	}

	switch r.req.Kind {
	case model.OperationDelete:
		return r.delete(ctx, src, entry)

	case model.OperationRename:
		name, err := util.ValidateName(item.NewName, src.Protocol())
		if err != nil {
			return outcome{}, err
		}
		out, err := r.transfer(ctx, src, entry, src, storage.ParentPath(source), name, true, "")
		r.invalidate(src, source, out, err)
		return out, err

	default:
		dst, err := r.o.resources.Strategy(ctx, r.req.Destination.ResourceID)
		if err != nil {
			return outcome{}, err
		}
		move := r.req.Kind == model.OperationMove
		out, err := r.transfer(ctx, src, entry, dst, storage.CleanPath(r.req.Destination.Path), entry.Name, move, "")
		if move {
			r.invalidate(src, source, out, err)
		}
		if err == nil && out.status == model.StatusSuccess && r.o.cache != nil {
			r.o.cache.Invalidate(dst.ResourceID(), out.finalPath)
		}
		return out, err
	}
}

func (r *itemRun) invalidate(src storage.Strategy, source string, out outcome, err error) {
	if r.o.cache == nil || err != nil || out.status != model.StatusSuccess {
		return
	}
	r.o.cache.Invalidate(src.ResourceID(), source)
}

func (r *itemRun) progress() ProgressFunc {
	return func(done int64, total int64) {
		if r.hooks.OnProgress != nil {
			r.hooks.OnProgress(r.index, done, total)
		}
		event.Publish(r.o.bus, event.TypeItemProgress, ItemProgress{BatchID: r.batchID, Index: r.index, Done: done, Total: total})
	}
}

// transfer places entry under destDir/name on dst, as a move or a copy.
// policy overrides the batch conflict policy for merged children.
func (r *itemRun) transfer(ctx context.Context, src storage.Strategy, entry model.FileEntry, dst storage.Strategy, destDir string, name string, move bool, policy model.ConflictPolicy) (outcome, error) {
	sameResource := src.ResourceID() == dst.ResourceID()
	target := storage.JoinPath(destDir, name)

	if sameResource && move && target == entry.Path {
		return outcome{status: model.StatusSuccess, finalPath: target}, nil
	}
	if sameResource && entry.IsDir && storage.IsWithin(entry.Path, destDir) {
		return outcome{}, &model.OpError{Kind: model.KindPermissionDenied, Op: strings.ToLower(string(r.req.Kind)), Path: entry.Path, Protocol: src.Protocol(), Detail: "cannot place a directory inside itself"}
	}

	decision, err := r.resolver.Resolve(ctx, ConflictRequest{
		Index:  r.index,
		Dest:   dst,
		Dir:    destDir,
		Name:   name,
		Source: entry,
		Policy: policy,
	})
	if err != nil {
		return outcome{}, err
	}

	mode := storage.WriteCreate
	switch decision.Action {
	case ActionSkip:
		return outcome{status: model.StatusSkipped}, nil

	case ActionMerge:
		return r.merge(ctx, src, entry, dst, decision.Path, move)

	case ActionOverwrite:
		if sameResource && decision.Path == entry.Path {
			return outcome{status: model.StatusSuccess, finalPath: decision.Path}, nil
		}
		if move && sameResource && src.SupportsAtomicRename() {
			return r.renameOver(ctx, src, entry.Path, decision.Path)
		}
		if decision.Existing.IsDir || entry.IsDir {
			if err := dst.Delete(ctx, decision.Path, model.DeletePermanent); err != nil && model.KindOf(err) != model.KindNotFound {
				return outcome{}, err
			}
		} else {
			mode = storage.WriteOverwrite
		}
	}

	if move && sameResource && src.SupportsAtomicRename() {
		if err := src.Rename(ctx, entry.Path, decision.Path); err != nil {
			return outcome{}, err
		}
		return outcome{status: model.StatusSuccess, finalPath: decision.Path}, nil
	}

	copied, err := r.copyEntry(ctx, src, entry, dst, decision.Path, mode)
	if err != nil {
		return outcome{bytes: copied}, err
	}

	out := outcome{status: model.StatusSuccess, finalPath: decision.Path, bytes: copied}
	if move {
		if err := src.Delete(context.WithoutCancel(ctx), entry.Path, model.DeletePermanent); err != nil {
			out.warning = err.Error()
			out.warningSource = entry.Path
		}
	}
	return out, nil
}

// renameOver renames source onto an existing target. The target is renamed
// aside first and put back when the rename fails, so a failed move never
// loses the file it was meant to replace.
func (r *itemRun) renameOver(ctx context.Context, s storage.Strategy, source string, target string) (outcome, error) {
	aside := storage.JoinPath(storage.ParentPath(target), fmt.Sprintf(".%s.replaced-%d-%s", storage.BaseName(target), r.index, uuid.NewString()[:8]))
	if err := s.Rename(ctx, target, aside); err != nil {
		if model.KindOf(err) != model.KindNotFound {
			return outcome{}, err
		}
		aside = ""
	}

	if err := s.Rename(ctx, source, target); err != nil {
		if aside != "" {
			if restoreErr := s.Rename(context.WithoutCancel(ctx), aside, target); restoreErr != nil {
				slog.Error("restore replaced destination", "resource_id", s.ResourceID(), "path", target, "aside", aside, "error", restoreErr)
			}
		}
		return outcome{}, err
	}

	if aside != "" {
		if err := s.Delete(context.WithoutCancel(ctx), aside, model.DeletePermanent); err != nil && model.KindOf(err) != model.KindNotFound {
			slog.Warn("remove replaced destination", "resource_id", s.ResourceID(), "path", aside, "error", err)
		}
	}
	return outcome{status: model.StatusSuccess, finalPath: target}, nil
}

// copyEntry copies and verifies one file or directory tree. A directory
// created here is removed again when the copy does not complete.
func (r *itemRun) copyEntry(ctx context.Context, src storage.Strategy, entry model.FileEntry, dst storage.Strategy, target string, mode storage.WriteMode) (int64, error) {
	if !entry.IsDir {
		result, err := r.o.transfer.CopyVerified(ctx, TransferRequest{
			Source:     src,
			SourcePath: entry.Path,
			Dest:       dst,
			DestPath:   target,
			Size:       entry.Size,
			Mode:       mode,
			Progress:   r.progress(),
		})
		return result.Bytes, err
	}

	copied, err := r.o.transfer.CopyTree(ctx, src, entry.Path, dst, target, storage.WriteCreate, r.progress())
	if err != nil {
		if removeErr := dst.Delete(context.WithoutCancel(ctx), target, model.DeletePermanent); removeErr != nil && model.KindOf(removeErr) != model.KindNotFound {
			slog.Warn("remove incomplete directory copy", "resource_id", dst.ResourceID(), "path", target, "error", removeErr)
		}
	}
	return copied, err
}

// merge moves or copies the children of a source directory into an existing
// destination directory. Colliding subdirectories merge again; colliding
// files are kept side by side.
func (r *itemRun) merge(ctx context.Context, src storage.Strategy, entry model.FileEntry, dst storage.Strategy, target string, move bool) (outcome, error) {
	children, err := src.List(ctx, entry.Path)
	if err != nil {
		return outcome{}, err
	}

	out := outcome{status: model.StatusSuccess, finalPath: target}
	var warnings []string
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return out, cancelledError("merge", entry.Path, err)
		}

		child.Path = storage.JoinPath(entry.Path, child.Name)
		childOut, err := r.transfer(ctx, src, child, dst, target, child.Name, move, model.ConflictMerge)
		out.bytes += childOut.bytes
		if err != nil {
			return out, err
		}
		if childOut.warning != "" {
			warnings = append(warnings, childOut.warning)
		}
	}

	if move && len(warnings) == 0 {
		if err := src.Delete(context.WithoutCancel(ctx), entry.Path, model.DeletePermanent); err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	if len(warnings) > 0 {
		out.warning = strings.Join(warnings, "; ")
		out.warningSource = entry.Path
	}
	return out, nil
}

func (r *itemRun) delete(ctx context.Context, src storage.Strategy, entry model.FileEntry) (outcome, error) {
	mode := r.req.DeleteMode
	if mode == "" {
		mode = model.DeleteTrash
	}

	out := outcome{status: model.StatusSuccess}
	switch {
	case mode == model.DeletePermanent:
		if err := src.Delete(ctx, entry.Path, model.DeletePermanent); err != nil {
			return outcome{}, err
		}
	case src.Capabilities().NativeTrash:
		if err := src.Delete(ctx, entry.Path, model.DeleteTrash); err != nil {
			return outcome{}, err
		}
	case r.o.trash != nil:
		record, err := r.o.trash.Trash(ctx, src, entry.Path)
		if err != nil {
			return outcome{}, err
		}
		out.finalPath = record.TrashedPath
	default:
		return outcome{}, &model.OpError{Kind: model.KindPermissionDenied, Op: "delete", Path: entry.Path, Protocol: src.Protocol(), Detail: fmt.Sprintf("no trash available for %s", src.ResourceID())}
	}

	if r.o.cache != nil {
		r.o.cache.Invalidate(src.ResourceID(), entry.Path)
	}
	return out, nil
}
