package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ytget/yt-audio/internal/model"
	"github.com/ytget/yt-audio/internal/resolver"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

// fakeResolver answers each call with the next handler; the last one repeats
type fakeResolver struct {
	mu       sync.Mutex
	calls    int
	handlers []func(ctx context.Context, url string) (*resolver.Metadata, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, url string) (*resolver.Metadata, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	if i >= len(f.handlers) {
		i = len(f.handlers) - 1
	}
	h := f.handlers[i]
	f.mu.Unlock()
	return h(ctx, url)
}

func resolveTo(meta *resolver.Metadata) func(context.Context, string) (*resolver.Metadata, error) {
	return func(context.Context, string) (*resolver.Metadata, error) { return meta, nil }
}

func resolveErr(err error) func(context.Context, string) (*resolver.Metadata, error) {
	return func(context.Context, string) (*resolver.Metadata, error) { return nil, err }
}

// blockUntil waits for gate before resolving, honouring ctx
func blockUntil(gate <-chan struct{}, meta *resolver.Metadata) func(context.Context, string) (*resolver.Metadata, error) {
	return func(ctx context.Context, _ string) (*resolver.Metadata, error) {
		select {
		case <-gate:
			return meta, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func audioStream(total int64, open func(ctx context.Context) (io.ReadCloser, int64, error)) resolver.Stream {
	return resolver.Stream{ID: "140", MimeType: "audio/mp4", Bitrate: 128000, TotalBytes: total, AudioOnly: true, Open: open}
}

func metaWithData(title string, duration time.Duration, data []byte) *resolver.Metadata {
	return &resolver.Metadata{
		Title:    title,
		Author:   "Tester",
		Duration: duration,
		Streams: []resolver.Stream{
			{ID: "18", MimeType: "video/mp4", Bitrate: 900000},
			{ID: "139", MimeType: "audio/mp4", Bitrate: 48000, AudioOnly: true, Open: func(context.Context) (io.ReadCloser, int64, error) {
				return nil, 0, errors.New("low bitrate stream must not be chosen")
			}},
			audioStream(int64(len(data)), func(context.Context) (io.ReadCloser, int64, error) {
				return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
			}),
		},
	}
}

// stallReader returns head and then blocks until ctx is done
type stallReader struct {
	ctx  context.Context
	head []byte
	sent bool
}

func (s *stallReader) Read(p []byte) (int, error) {
	if !s.sent {
		s.sent = true
		return copy(p, s.head), nil
	}
	<-s.ctx.Done()
	return 0, s.ctx.Err()
}

type failAfterReader struct {
	head []byte
	sent bool
	err  error
}

func (f *failAfterReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, f.head), nil
	}
	return 0, f.err
}

type memoryRecorder struct {
	mu    sync.Mutex
	items []model.DownloadItem
}

func (m *memoryRecorder) Record(item model.DownloadItem) error {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()
	return nil
}

func newTestEngine(t *testing.T, res resolver.Resolver, mutate func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		BaseDir:     t.TempDir(),
		MaxParallel: 2,
		ChunkSize:   600,
		Logger:      zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&opts)
	}
	e := NewEngine(NewRegistry(), res, opts)
	t.Cleanup(e.Shutdown)
	return e
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// waitFor polls the registry until cond holds for item id
func waitFor(t *testing.T, e *Engine, id string, cond func(model.DownloadItem) bool) model.DownloadItem {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if item, ok := e.Registry().Get(id); ok && cond(item) {
			return item
		}
		time.Sleep(5 * time.Millisecond)
	}
	item, _ := e.Registry().Get(id)
	t.Fatalf("Timed out waiting for item %s, last state %s", id, item.Status)
	return item
}

func TestEngine_SubmitCompletes(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1000)
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveTo(metaWithData("My: Song/Test", 125*time.Second, data)),
	}}
	history := &memoryRecorder{}
	e := newTestEngine(t, res, func(o *Options) { o.History = history })

	var (
		mu       sync.Mutex
		progress []float64
		statuses []model.ItemStatus
	)
	e.Registry().Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if n := len(statuses); n == 0 || statuses[n-1] != ev.Item.Status {
			statuses = append(statuses, ev.Item.Status)
		}
		if ev.Item.Status == model.ItemStatusDownloading && ev.Item.Progress > 0 {
			progress = append(progress, ev.Item.Progress)
		}
	})

	item, err := e.Submit(testURL, model.FormatM4A)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if item.Status != model.ItemStatusIdle {
		t.Errorf("Expected submitted item to be Idle, got %s", item.Status)
	}

	waitIdle(t, e)

	got, ok := e.Registry().Get(item.ID)
	if !ok {
		t.Fatal("Expected item to stay in registry")
	}
	expectedPath := filepath.Join(e.opts.BaseDir, "My_ Song_Test.m4a")
	if got.Status != model.ItemStatusDone {
		t.Fatalf("Expected Done, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.OutputPath != expectedPath {
		t.Errorf("Expected path %q, got %q", expectedPath, got.OutputPath)
	}
	if got.Duration != "2:05" {
		t.Errorf("Expected duration 2:05, got %q", got.Duration)
	}
	if got.Title != "My: Song/Test" || got.Author != "Tester" {
		t.Errorf("Unexpected metadata %q by %q", got.Title, got.Author)
	}
	if got.Progress != 1.0 || got.ErrorMessage != "" || got.Attempts != 1 {
		t.Errorf("Unexpected final state: progress=%v error=%q attempts=%d", got.Progress, got.ErrorMessage, got.Attempts)
	}

	written, err := os.ReadFile(expectedPath)
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	if !bytes.Equal(written, data) {
		t.Errorf("Output file has %d bytes, expected %d", len(written), len(data))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 2 || progress[0] != 0.6 || progress[1] != 1.0 {
		t.Errorf("Expected progress [0.6 1], got %v", progress)
	}
	expectedStatuses := []model.ItemStatus{
		model.ItemStatusIdle, model.ItemStatusFetching, model.ItemStatusDownloading, model.ItemStatusDone,
	}
	if len(statuses) != len(expectedStatuses) {
		t.Fatalf("Expected statuses %v, got %v", expectedStatuses, statuses)
	}
	for i := range expectedStatuses {
		if statuses[i] != expectedStatuses[i] {
			t.Errorf("Expected statuses %v, got %v", expectedStatuses, statuses)
			break
		}
	}

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.items) != 1 || history.items[0].Status != model.ItemStatusDone {
		t.Errorf("Expected one Done history record, got %+v", history.items)
	}
}

func TestEngine_ResolverFailure(t *testing.T) {
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveErr(errors.New("no audio streams")),
	}}
	history := &memoryRecorder{}
	e := newTestEngine(t, res, func(o *Options) { o.History = history })

	item, err := e.Submit(testURL, model.FormatM4A)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitIdle(t, e)

	got, _ := e.Registry().Get(item.ID)
	if got.Status != model.ItemStatusError {
		t.Fatalf("Expected Error, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "no audio streams") {
		t.Errorf("Expected message to contain cause, got %q", got.ErrorMessage)
	}
	if got.ErrorKind != model.ErrorKindResolution {
		t.Errorf("Expected resolution kind, got %s", got.ErrorKind)
	}
	if got.Progress != 0 {
		t.Errorf("Expected progress 0, got %v", got.Progress)
	}
	if len(history.items) != 1 || history.items[0].Status != model.ItemStatusError {
		t.Errorf("Expected one Error history record, got %+v", history.items)
	}
}

func TestEngine_CatalogWithoutAudio(t *testing.T) {
	meta := &resolver.Metadata{
		Title:   "Video Only",
		Streams: []resolver.Stream{{ID: "137", MimeType: "video/mp4", Bitrate: 4000000}},
	}
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){resolveTo(meta)}}
	e := newTestEngine(t, res, nil)

	item, _ := e.Submit(testURL, model.FormatMP3)
	waitIdle(t, e)

	got, _ := e.Registry().Get(item.ID)
	if got.Status != model.ItemStatusError || got.ErrorKind != model.ErrorKindResolution {
		t.Fatalf("Expected resolution Error, got %s/%s", got.Status, got.ErrorKind)
	}
	if !strings.Contains(got.ErrorMessage, resolver.ErrNoAudioStreams.Error()) {
		t.Errorf("Unexpected message %q", got.ErrorMessage)
	}
	if got.Title != "Video Only" {
		t.Errorf("Expected metadata to be kept, got title %q", got.Title)
	}
}

func TestEngine_TransferFailureKeepsPartialFile(t *testing.T) {
	meta := &resolver.Metadata{
		Title: "Broken",
		Streams: []resolver.Stream{
			audioStream(1000, func(context.Context) (io.ReadCloser, int64, error) {
				r := &failAfterReader{head: make([]byte, 400), err: errors.New("connection reset")}
				return io.NopCloser(r), 1000, nil
			}),
		},
	}
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){resolveTo(meta)}}
	e := newTestEngine(t, res, nil)

	item, _ := e.Submit(testURL, model.FormatM4A)
	waitIdle(t, e)

	got, _ := e.Registry().Get(item.ID)
	if got.Status != model.ItemStatusError || got.ErrorKind != model.ErrorKindTransfer {
		t.Fatalf("Expected transfer Error, got %s/%s", got.Status, got.ErrorKind)
	}
	if !strings.Contains(got.ErrorMessage, "connection reset") {
		t.Errorf("Unexpected message %q", got.ErrorMessage)
	}
	if got.Progress != 0.4 {
		t.Errorf("Expected partial progress 0.4 to be kept, got %v", got.Progress)
	}

	info, err := os.Stat(filepath.Join(e.opts.BaseDir, "Broken.m4a"))
	if err != nil {
		t.Fatalf("Expected partial file to be left on disk: %v", err)
	}
	if info.Size() != 400 {
		t.Errorf("Expected 400 partial bytes, got %d", info.Size())
	}
}

func TestEngine_IdenticalTitlesOverwrite(t *testing.T) {
	first := bytes.Repeat([]byte("a"), 1000)
	second := bytes.Repeat([]byte("b"), 700)
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveTo(metaWithData("Same Title", time.Minute, first)),
		resolveTo(metaWithData("Same Title", time.Minute, second)),
	}}
	e := newTestEngine(t, res, func(o *Options) { o.MaxParallel = 1 })

	a, _ := e.Submit("https://youtu.be/one", model.FormatM4A)
	waitIdle(t, e)
	b, _ := e.Submit("https://youtu.be/two", model.FormatM4A)
	waitIdle(t, e)

	gotA, _ := e.Registry().Get(a.ID)
	gotB, _ := e.Registry().Get(b.ID)
	if gotA.Status != model.ItemStatusDone || gotB.Status != model.ItemStatusDone {
		t.Fatalf("Expected both Done, got %s and %s", gotA.Status, gotB.Status)
	}
	if gotA.OutputPath != gotB.OutputPath {
		t.Errorf("Expected identical paths, got %q and %q", gotA.OutputPath, gotB.OutputPath)
	}

	written, _ := os.ReadFile(gotB.OutputPath)
	if !bytes.Equal(written, second) {
		t.Errorf("Expected second download to overwrite the first, file has %d bytes", len(written))
	}
}

func TestEngine_UniqueNames(t *testing.T) {
	data := []byte("audio")
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveTo(metaWithData("Same Title", time.Minute, data)),
	}}
	e := newTestEngine(t, res, func(o *Options) {
		o.MaxParallel = 1
		o.UniqueNames = true
	})

	a, _ := e.Submit("https://youtu.be/one", model.FormatM4A)
	waitIdle(t, e)
	b, _ := e.Submit("https://youtu.be/two", model.FormatM4A)
	waitIdle(t, e)

	gotA, _ := e.Registry().Get(a.ID)
	gotB, _ := e.Registry().Get(b.ID)
	if filepath.Base(gotA.OutputPath) != "Same Title.m4a" {
		t.Errorf("Unexpected first path %q", gotA.OutputPath)
	}
	if filepath.Base(gotB.OutputPath) != "Same Title (2).m4a" {
		t.Errorf("Unexpected second path %q", gotB.OutputPath)
	}
}

func TestEngine_UniqueNamesConcurrent(t *testing.T) {
	data := []byte("audio")
	var arrived sync.WaitGroup
	arrived.Add(2)
	meta := &resolver.Metadata{
		Title: "Same Title",
		Streams: []resolver.Stream{
			audioStream(int64(len(data)), func(context.Context) (io.ReadCloser, int64, error) {
				// both pipelines have derived their path before either creates a file
				arrived.Done()
				arrived.Wait()
				return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
			}),
		},
	}
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){resolveTo(meta)}}
	e := newTestEngine(t, res, func(o *Options) {
		o.MaxParallel = 2
		o.UniqueNames = true
	})

	a, _ := e.Submit("https://youtu.be/one", model.FormatM4A)
	b, _ := e.Submit("https://youtu.be/two", model.FormatM4A)
	waitIdle(t, e)

	gotA, _ := e.Registry().Get(a.ID)
	gotB, _ := e.Registry().Get(b.ID)
	if gotA.Status != model.ItemStatusDone || gotB.Status != model.ItemStatusDone {
		t.Fatalf("Expected both Done, got %s and %s", gotA.Status, gotB.Status)
	}
	if gotA.OutputPath == gotB.OutputPath {
		t.Fatalf("Expected distinct paths, both got %q", gotA.OutputPath)
	}
	names := map[string]bool{filepath.Base(gotA.OutputPath): true, filepath.Base(gotB.OutputPath): true}
	if !names["Same Title.m4a"] || !names["Same Title (2).m4a"] {
		t.Errorf("Unexpected paths %q and %q", gotA.OutputPath, gotB.OutputPath)
	}
	for _, p := range []string{gotA.OutputPath, gotB.OutputPath} {
		if got, err := os.ReadFile(p); err != nil || !bytes.Equal(got, data) {
			t.Errorf("Expected %q to hold the stream, got %q (%v)", p, got, err)
		}
	}
}

// retryingRecorder retries the first failure it records, from inside Record
type retryingRecorder struct {
	memoryRecorder
	engine  *Engine
	retried bool
}

func (r *retryingRecorder) Record(item model.DownloadItem) error {
	_ = r.memoryRecorder.Record(item)
	if item.Status == model.ItemStatusError && !r.retried {
		r.retried = true
		return r.engine.Retry(item.ID)
	}
	return nil
}

func TestEngine_HistoryRecordsTerminalSnapshots(t *testing.T) {
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveErr(errors.New("video unavailable")),
		resolveTo(metaWithData("Second Try", time.Minute, []byte("data"))),
	}}
	rec := &retryingRecorder{}
	e := newTestEngine(t, res, func(o *Options) { o.History = rec })
	rec.engine = e

	item, _ := e.Submit(testURL, model.FormatM4A)
	waitFor(t, e, item.ID, func(it model.DownloadItem) bool { return it.Status == model.ItemStatusDone })
	waitIdle(t, e)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.items) != 2 {
		t.Fatalf("Expected 2 history records, got %d", len(rec.items))
	}
	if rec.items[0].Status != model.ItemStatusError || rec.items[0].Attempts != 1 {
		t.Errorf("Expected first record Error on attempt 1, got %s on attempt %d", rec.items[0].Status, rec.items[0].Attempts)
	}
	if rec.items[1].Status != model.ItemStatusDone || rec.items[1].Attempts != 2 {
		t.Errorf("Expected second record Done on attempt 2, got %s on attempt %d", rec.items[1].Status, rec.items[1].Attempts)
	}
}

func TestEngine_RetryResetsState(t *testing.T) {
	gate := make(chan struct{})
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveErr(errors.New("network unreachable")),
		blockUntil(gate, metaWithData("Recovered", 90*time.Second, []byte("data"))),
	}}
	e := newTestEngine(t, res, nil)

	item, _ := e.Submit(testURL, model.FormatM4A)
	waitIdle(t, e)

	failed, _ := e.Registry().Get(item.ID)
	if failed.Status != model.ItemStatusError {
		t.Fatalf("Expected Error before retry, got %s", failed.Status)
	}

	if err := e.Retry(item.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	retried, _ := e.Registry().Get(item.ID)
	if retried.Status != model.ItemStatusFetching {
		t.Errorf("Expected Fetching right after Retry, got %s", retried.Status)
	}
	if retried.ErrorMessage != "" || retried.Progress != 0 {
		t.Errorf("Expected cleared error and progress, got %q/%v", retried.ErrorMessage, retried.Progress)
	}
	if retried.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", retried.Attempts)
	}

	close(gate)
	waitIdle(t, e)

	done, _ := e.Registry().Get(item.ID)
	if done.Status != model.ItemStatusDone || done.Duration != "1:30" {
		t.Errorf("Expected Done with duration 1:30, got %s/%q", done.Status, done.Duration)
	}
	if done.Attempts != 2 {
		t.Errorf("Expected attempts to stay at 2, got %d", done.Attempts)
	}
}

func TestEngine_RetryRejected(t *testing.T) {
	gate := make(chan struct{})
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		blockUntil(gate, metaWithData("Slow", time.Minute, []byte("data"))),
	}}
	e := newTestEngine(t, res, nil)

	item, _ := e.Submit(testURL, model.FormatM4A)
	if !e.Busy(item.ID) {
		t.Error("Expected item to be busy right after Submit")
	}
	if err := e.Retry(item.ID); !errors.Is(err, ErrItemBusy) {
		t.Errorf("Expected ErrItemBusy, got %v", err)
	}

	close(gate)
	waitIdle(t, e)

	if err := e.Retry(item.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Expected ErrNotRetryable for Done item, got %v", err)
	}
	if err := e.Retry("item-missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestEngine_RemoveDoesNotInterrupt(t *testing.T) {
	gate := make(chan struct{})
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		blockUntil(gate, metaWithData("Orphan", time.Minute, []byte("data"))),
	}}
	e := newTestEngine(t, res, nil)

	item, _ := e.Submit(testURL, model.FormatM4A)
	waitFor(t, e, item.ID, func(it model.DownloadItem) bool { return it.Status == model.ItemStatusFetching })

	if err := e.Remove(item.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if e.Registry().Len() != 0 {
		t.Error("Expected registry to be empty after Remove")
	}
	if err := e.Remove(item.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound on second Remove, got %v", err)
	}

	close(gate)
	waitIdle(t, e)

	if _, err := os.Stat(filepath.Join(e.opts.BaseDir, "Orphan.m4a")); err != nil {
		t.Errorf("Expected abandoned pipeline to finish writing: %v", err)
	}
	if e.Registry().Len() != 0 {
		t.Error("Expected removed item to stay removed")
	}
}

func TestEngine_CancelDeletesPartialFile(t *testing.T) {
	meta := &resolver.Metadata{
		Title: "Stalled",
		Streams: []resolver.Stream{
			audioStream(1000, func(ctx context.Context) (io.ReadCloser, int64, error) {
				return io.NopCloser(&stallReader{ctx: ctx, head: make([]byte, 100)}), 1000, nil
			}),
		},
	}
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){resolveTo(meta)}}
	e := newTestEngine(t, res, nil)

	item, _ := e.Submit(testURL, model.FormatM4A)
	waitFor(t, e, item.ID, func(it model.DownloadItem) bool { return it.Progress > 0 })

	partial := filepath.Join(e.opts.BaseDir, "Stalled.m4a")
	if _, err := os.Stat(partial); err != nil {
		t.Fatalf("Expected partial file while downloading: %v", err)
	}

	if err := e.Cancel(item.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitIdle(t, e)

	if _, ok := e.Registry().Get(item.ID); ok {
		t.Error("Expected cancelled item to be removed")
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Errorf("Expected partial file to be deleted, stat error = %v", err)
	}
	if err := e.Cancel(item.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestEngine_ShutdownCancelsRunning(t *testing.T) {
	gate := make(chan struct{})
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		blockUntil(gate, metaWithData("Never", time.Minute, []byte("data"))),
	}}
	e := newTestEngine(t, res, nil)

	item, _ := e.Submit(testURL, model.FormatM4A)
	waitFor(t, e, item.ID, func(it model.DownloadItem) bool { return it.Status == model.ItemStatusFetching })

	e.Shutdown()

	got, _ := e.Registry().Get(item.ID)
	if got.Status != model.ItemStatusError || got.ErrorKind != model.ErrorKindCancelled {
		t.Errorf("Expected cancelled Error, got %s/%s", got.Status, got.ErrorKind)
	}
	if _, err := e.Submit(testURL, model.FormatM4A); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
	if err := e.Retry(item.ID); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed on Retry, got %v", err)
	}
}

func TestEngine_RespectsMaxParallel(t *testing.T) {
	var active, peak int32
	slow := func(ctx context.Context, _ string) (*resolver.Metadata, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return metaWithData("Track", time.Minute, []byte("x")), nil
	}
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){slow}}
	e := newTestEngine(t, res, func(o *Options) {
		o.MaxParallel = 2
		o.UniqueNames = true
	})

	for i := 0; i < 6; i++ {
		if _, err := e.Submit(testURL, model.FormatM4A); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	waitIdle(t, e)

	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent pipelines, observed %d", peak)
	}
	for _, it := range e.Registry().Items() {
		if it.Status != model.ItemStatusDone {
			t.Errorf("Expected all items Done, got %s (%s)", it.Status, it.ErrorMessage)
		}
	}
}

type renamingProcessor struct {
	seen []string
}

func (r *renamingProcessor) Name() string { return "rename" }

func (r *renamingProcessor) Process(ctx context.Context, item model.DownloadItem, path string) (string, error) {
	r.seen = append(r.seen, item.Title)
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".processed"
	return out, os.Rename(path, out)
}

type failingProcessor struct{}

func (failingProcessor) Name() string { return "transcode" }

func (failingProcessor) Process(context.Context, model.DownloadItem, string) (string, error) {
	return "", errors.New("ffmpeg exited with status 1")
}

func TestEngine_PostProcessors(t *testing.T) {
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveTo(metaWithData("Tagged", time.Minute, []byte("data"))),
	}}
	pp := &renamingProcessor{}
	e := newTestEngine(t, res, func(o *Options) { o.PostProcessors = []PostProcessor{pp} })

	item, _ := e.Submit(testURL, model.FormatMP3)
	waitIdle(t, e)

	got, _ := e.Registry().Get(item.ID)
	if got.Status != model.ItemStatusDone {
		t.Fatalf("Expected Done, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if filepath.Base(got.OutputPath) != "Tagged.processed" {
		t.Errorf("Expected processed path, got %q", got.OutputPath)
	}
	if len(pp.seen) != 1 || pp.seen[0] != "Tagged" {
		t.Errorf("Expected processor to see resolved title, got %v", pp.seen)
	}
}

// shrinkingProcessor rewrites the output with fewer bytes
type shrinkingProcessor struct{}

func (shrinkingProcessor) Name() string { return "shrink" }

func (shrinkingProcessor) Process(_ context.Context, _ model.DownloadItem, path string) (string, error) {
	return path, os.WriteFile(path, []byte("ab"), 0o644)
}

func TestEngine_PostProcessorSizeRecorded(t *testing.T) {
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveTo(metaWithData("Shrunk", time.Minute, bytes.Repeat([]byte("x"), 1000))),
	}}
	rec := &memoryRecorder{}
	e := newTestEngine(t, res, func(o *Options) {
		o.PostProcessors = []PostProcessor{shrinkingProcessor{}}
		o.History = rec
	})

	item, _ := e.Submit(testURL, model.FormatMP3)
	waitIdle(t, e)

	got, _ := e.Registry().Get(item.ID)
	if got.Status != model.ItemStatusDone {
		t.Fatalf("Expected Done, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.BytesReceived != 2 {
		t.Errorf("Expected BytesReceived to match the final file, got %d", got.BytesReceived)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.items) != 1 || rec.items[0].BytesReceived != 2 {
		t.Errorf("Expected history to carry the final size, got %+v", rec.items)
	}
}

func TestEngine_PostProcessorFailure(t *testing.T) {
	res := &fakeResolver{handlers: []func(context.Context, string) (*resolver.Metadata, error){
		resolveTo(metaWithData("Broken Convert", time.Minute, []byte("data"))),
	}}
	e := newTestEngine(t, res, func(o *Options) { o.PostProcessors = []PostProcessor{failingProcessor{}} })

	item, _ := e.Submit(testURL, model.FormatMP3)
	waitIdle(t, e)

	got, _ := e.Registry().Get(item.ID)
	if got.Status != model.ItemStatusError {
		t.Fatalf("Expected Error, got %s", got.Status)
	}
	if !strings.HasPrefix(got.ErrorMessage, "transcode: ") {
		t.Errorf("Expected message to name the stage, got %q", got.ErrorMessage)
	}
}

func TestNewEngine_ClampsOptions(t *testing.T) {
	e := NewEngine(NewRegistry(), &fakeResolver{}, Options{MaxParallel: 50})
	defer e.Shutdown()

	if e.opts.MaxParallel != MaxParallelLimit {
		t.Errorf("Expected MaxParallel clamped to %d, got %d", MaxParallelLimit, e.opts.MaxParallel)
	}
	if e.opts.ChunkSize <= 0 || e.log == nil {
		t.Error("Expected defaults for chunk size and logger")
	}
}
