package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ytget/yt-audio/internal/model"
	"github.com/ytget/yt-audio/internal/platform"
	"github.com/ytget/yt-audio/internal/resolver"
	"github.com/ytget/yt-audio/internal/transfer"
)

// Concurrency limits
const (
	DefaultMaxParallel = 2
	MaxParallelLimit   = 10
)

// Options configures an Engine
type Options struct {
	BaseDir        string
	MaxParallel    int
	ChunkSize      int
	Limiter        *rate.Limiter // nil means unlimited
	UniqueNames    bool          // append " (n)" instead of overwriting
	PostProcessors []PostProcessor
	History        Recorder
	Logger         *zap.Logger
}

// run tracks one active pipeline. Guarded by Engine.mu.
type run struct {
	cancel    context.CancelFunc
	cancelled bool
	path      string
}

// Engine drives download items through their lifecycle
type Engine struct {
	registry *Registry
	resolver resolver.Resolver
	opts     Options
	sem      *semaphore.Weighted
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]*run
	closed  bool
	wg      sync.WaitGroup
}

// NewEngine creates an engine that stores its items in registry
func NewEngine(registry *Registry, res resolver.Resolver, opts Options) *Engine {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.MaxParallel > MaxParallelLimit {
		opts.MaxParallel = MaxParallelLimit
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = transfer.DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		registry: registry,
		resolver: res,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxParallel)),
		log:      opts.Logger.Named("engine"),
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]*run),
	}
}

// Registry returns the registry the engine writes to
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Submit creates an idle item for url and starts its pipeline
func (e *Engine) Submit(url string, format model.OutputFormat) (model.DownloadItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return model.DownloadItem{}, ErrEngineClosed
	}

	item := model.NewDownloadItem(url, format)
	e.registry.Insert(item)
	snapshot, _ := e.registry.Get(item.ID)

	e.startLocked(item.ID, true)
	e.log.Info("item submitted",
		zap.String("item_id", item.ID),
		zap.String("url", url),
		zap.Stringer("format", format))

	return snapshot, nil
}

// Retry re-enters a failed item into metadata resolution. The transition to
// Fetching is applied before Retry returns.
func (e *Engine) Retry(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if _, busy := e.running[id]; busy {
		return fmt.Errorf("%w: %s", ErrItemBusy, id)
	}

	err := e.registry.Update(id, func(it *model.DownloadItem) error {
		return it.ResetForRetry()
	})
	switch {
	case errors.Is(err, ErrItemNotFound):
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	case errors.Is(err, model.ErrInvalidTransition):
		return fmt.Errorf("%w: %s", ErrNotRetryable, id)
	case err != nil:
		return err
	}

	e.startLocked(id, false)
	e.log.Info("item retried", zap.String("item_id", id))
	return nil
}

// Remove drops the item from the registry. A running pipeline is not
// interrupted; its further updates are discarded.
func (e *Engine) Remove(id string) error {
	if !e.registry.Remove(id) {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	e.log.Info("item removed", zap.String("item_id", id))
	return nil
}

// Cancel aborts the item's pipeline, deletes its partial output and drops the
// item. Items without a running pipeline are simply removed.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	r, active := e.running[id]
	if active {
		r.cancelled = true
		r.cancel()
	}
	e.mu.Unlock()

	if !e.registry.Remove(id) && !active {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	e.log.Info("item cancelled", zap.String("item_id", id), zap.Bool("was_active", active))
	return nil
}

// Wait blocks until every running pipeline has finished or ctx is done
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new work, aborts running pipelines and waits for them
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.log.Debug("engine stopped")
}

// Busy reports whether a pipeline is currently attached to id
func (e *Engine) Busy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

// startLocked launches the pipeline for id. Caller holds e.mu.
func (e *Engine) startLocked(id string, fresh bool) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.running[id] = &run{cancel: cancel}
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer cancel()
		e.drive(ctx, id, fresh)
	}()
}

func (e *Engine) finishRun(id string) (cancelled bool, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.running[id]
	delete(e.running, id)
	if r == nil {
		return false, ""
	}
	return r.cancelled, r.path
}

func (e *Engine) setRunPath(id, path string) {
	e.mu.Lock()
	if r, ok := e.running[id]; ok {
		r.path = path
	}
	e.mu.Unlock()
}

// drive runs one attempt for the item and converts its outcome into a
// terminal state
func (e *Engine) drive(ctx context.Context, id string, fresh bool) {
	log := e.log.With(zap.String("item_id", id))

	if err := e.sem.Acquire(ctx, 1); err != nil {
		cancelled, _ := e.finishRun(id)
		if !cancelled {
			e.fail(log, id, stageError(model.ErrorKindCancelled, "waiting for download slot", err))
		}
		return
	}
	defer e.sem.Release(1)

	if fresh {
		err := e.registry.Update(id, func(it *model.DownloadItem) error {
			return it.BeginFetch()
		})
		if err != nil {
			// removed while queued
			e.finishRun(id)
			log.Debug("item gone before start", zap.Error(err))
			return
		}
	}

	item, ok := e.registry.Get(id)
	if !ok {
		e.finishRun(id)
		return
	}

	path, err := e.execute(ctx, log, item)
	cancelled, partial := e.finishRun(id)

	if cancelled {
		if partial != "" {
			if rmErr := os.Remove(partial); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn("failed to delete partial file", zap.String("path", partial), zap.Error(rmErr))
			}
		}
		log.Info("download cancelled")
		return
	}

	if err != nil {
		e.fail(log, id, err)
		return
	}

	// post-processing may change the size on disk
	size := platform.FileSize(path)
	var final model.DownloadItem
	err = e.registry.Update(id, func(it *model.DownloadItem) error {
		if err := it.Complete(path); err != nil {
			return err
		}
		if size > 0 {
			it.BytesReceived = size
		}
		final = *it
		return nil
	})
	if err != nil {
		log.Debug("completion not recorded", zap.Error(err))
		return
	}

	log.Info("download completed", zap.String("path", path), zap.Int64("bytes", size))
	e.record(log, final)
}

func (e *Engine) fail(log *zap.Logger, id string, err error) {
	kind := KindOf(err)
	msg := err.Error()
	if kind == model.ErrorKindCancelled {
		msg = "download cancelled"
	}

	var final model.DownloadItem
	uerr := e.registry.Update(id, func(it *model.DownloadItem) error {
		it.Fail(kind, msg)
		final = *it
		return nil
	})
	if uerr != nil {
		log.Debug("failure not recorded", zap.Error(uerr))
		return
	}

	log.Warn("download failed", zap.Stringer("kind", kind), zap.Error(err))
	e.record(log, final)
}

// record stores the snapshot taken inside the terminal transition
func (e *Engine) record(log *zap.Logger, item model.DownloadItem) {
	if e.opts.History == nil {
		return
	}
	if err := e.opts.History.Record(item); err != nil {
		log.Warn("failed to record history", zap.Error(err))
	}
}

// execute runs resolve, path derivation, stream selection, transfer and
// post-processing. Every failure is a *PipelineError.
func (e *Engine) execute(ctx context.Context, log *zap.Logger, item model.DownloadItem) (string, error) {
	meta, err := e.resolver.Resolve(ctx, item.URL)
	if err != nil {
		return "", stageError(model.ErrorKindResolution, "resolve metadata", err)
	}

	err = e.registry.Update(item.ID, func(it *model.DownloadItem) error {
		return it.ApplyMetadata(meta.Title, meta.Author, meta.Duration, meta.ThumbnailURL)
	})
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return "", stageError(model.ErrorKindResolution, "apply metadata", err)
	}
	item.Title, item.Author = meta.Title, meta.Author

	path := platform.DerivePath(e.opts.BaseDir, meta.Title, item.Format)

	stream, err := resolver.SelectHighestBitrateAudio(meta.Streams)
	if err != nil {
		return "", stageError(model.ErrorKindResolution, "select stream", err)
	}
	log.Debug("stream selected",
		zap.String("stream_id", stream.ID),
		zap.String("mime", stream.MimeType),
		zap.Int("bitrate", stream.Bitrate),
		zap.String("path", path))

	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(path)); err != nil {
		return "", stageError(model.ErrorKindPath, "create output directory", err)
	}

	body, size, err := stream.Open(ctx)
	if err != nil {
		return "", stageError(model.ErrorKindTransfer, "open stream", err)
	}
	defer body.Close()

	total := stream.TotalBytes
	if total <= 0 {
		total = size
	}

	sink, path, err := e.createOutput(path)
	if err != nil {
		return "", stageError(model.ErrorKindPath, "create output file", err)
	}
	e.setRunPath(item.ID, path)
	_ = e.registry.Update(item.ID, func(it *model.DownloadItem) error {
		it.OutputPath = path
		return nil
	})

	src := &countingSource{src: transfer.Throttle(transfer.ReaderChunks(body, e.opts.ChunkSize), e.opts.Limiter)}
	received, err := transfer.Transfer(ctx, src, total, sink, func(fraction float64) {
		_ = e.registry.Update(item.ID, func(it *model.DownloadItem) error {
			it.SetProgress(fraction, src.n, total)
			return nil
		})
	})
	if err != nil {
		return "", stageError(model.ErrorKindTransfer, "transfer", err)
	}
	log.Debug("transfer finished", zap.Int64("bytes", received), zap.Int64("total", total))

	for _, pp := range e.opts.PostProcessors {
		out, err := pp.Process(ctx, item, path)
		if err != nil {
			return "", stageError(model.ErrorKindTransfer, pp.Name(), err)
		}
		path = out
	}

	return path, nil
}

// createOutput opens the destination file. With unique names the final path
// may differ from path.
func (e *Engine) createOutput(path string) (*os.File, string, error) {
	if e.opts.UniqueNames {
		return platform.CreateUnique(path)
	}
	f, err := os.Create(path)
	return f, path, err
}

// countingSource counts bytes handed out by src
type countingSource struct {
	src transfer.ChunkSource
	n   int64
}

func (c *countingSource) Next(ctx context.Context) ([]byte, error) {
	chunk, err := c.src.Next(ctx)
	c.n += int64(len(chunk))
	return chunk, err
}
