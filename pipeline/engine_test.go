package pipeline_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/adapters/decoder"
	"github.com/Skryldev/sketch/adapters/memcache"
	"github.com/Skryldev/sketch/core"
	"github.com/Skryldev/sketch/hooks"
	"github.com/Skryldev/sketch/pipeline"
	"github.com/Skryldev/sketch/utils"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newBlueImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 50, G: 50, B: 200, A: 255})
		}
	}
	return img
}

func newBluePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, newBlueImage(w, h)))
	return buf.Bytes()
}

// memoryFetcherFactory serves "test://" URIs from a map and counts fetches.
// The MIME type is sniffed unless mimeTypes names one.
type memoryFetcherFactory struct {
	images    map[string][]byte
	mimeTypes map[string]string
	fetches   atomic.Int64
}

func (f *memoryFetcherFactory) Key() string { return "MemoryFetcher" }

func (f *memoryFetcherFactory) Create(_ core.Engine, r *core.ImageRequest) core.Fetcher {
	if !strings.HasPrefix(r.URI(), "test://") {
		return nil
	}
	return fetchFunc(func(context.Context) (*core.FetchResult, error) {
		f.fetches.Add(1)
		data := f.images[r.URI()]
		mimeType, ok := f.mimeTypes[r.URI()]
		if !ok {
			mimeType = utils.DetectMimeType(data)
		}
		return &core.FetchResult{
			DataSource: &core.BytesDataSource{Bytes: data, From: core.DataFromNetwork},
			MimeType:   mimeType,
		}, nil
	})
}

type fetchFunc func(context.Context) (*core.FetchResult, error)

func (f fetchFunc) Fetch(ctx context.Context) (*core.FetchResult, error) { return f(ctx) }

// countingDecoderFactory wraps the bitmap decoder and counts decodes.
type countingDecoderFactory struct {
	decoder.BitmapDecoderFactory
	decodes atomic.Int64
}

func (f *countingDecoderFactory) Create(e core.Engine, rc *core.RequestContext, fr *core.FetchResult) core.Decoder {
	d := f.BitmapDecoderFactory.Create(e, rc, fr)
	if d == nil {
		return nil
	}
	return decodeFunc(func(ctx context.Context) (*core.DecodeResult, error) {
		f.decodes.Add(1)
		return d.Decode(ctx)
	})
}

type decodeFunc func(context.Context) (*core.DecodeResult, error)

func (f decodeFunc) Decode(ctx context.Context) (*core.DecodeResult, error) { return f(ctx) }

// testEngine is a minimal core.Engine.
type testEngine struct {
	components    *core.ComponentRegistry
	memoryCache   core.MemoryCache
	resultCache   core.DiskCache
	downloadCache core.DiskCache
	hooks         []core.Hook
	network       *core.Dispatcher
	decode        *core.Dispatcher

	fetchers *memoryFetcherFactory
	decoders *countingDecoderFactory
}

func newTestEngine(t *testing.T, user *core.ComponentRegistry) *testEngine {
	t.Helper()
	e := &testEngine{
		memoryCache: memcache.NewLRU(64 << 20),
		network:     core.NewDispatcher("network", 4),
		decode:      core.NewDispatcher("decode", 2),
		fetchers:    &memoryFetcherFactory{images: map[string][]byte{}, mimeTypes: map[string]string{}},
		decoders:    &countingDecoderFactory{},
	}
	defaults := core.NewRegistryBuilder().
		AddFetcher(e.fetchers).
		AddDecoder(e.decoders).
		Build().
		Merge(pipeline.BuiltinRegistry())
	e.components = user.Merge(defaults)
	return e
}

func (e *testEngine) Components() *core.ComponentRegistry { return e.components }
func (e *testEngine) MemoryCache() core.MemoryCache       { return e.memoryCache }
func (e *testEngine) DownloadCache() core.DiskCache       { return e.downloadCache }
func (e *testEngine) ResultCache() core.DiskCache         { return e.resultCache }
func (e *testEngine) HTTPStack() core.HTTPStack           { return nil }
func (e *testEngine) Logger() core.Logger                 { return hooks.NopLogger() }
func (e *testEngine) NetworkDispatcher() *core.Dispatcher { return e.network }
func (e *testEngine) DecodeDispatcher() *core.Dispatcher  { return e.decode }
func (e *testEngine) Hooks() []core.Hook                  { return e.hooks }

func (e *testEngine) ResultCacheEligibility() core.ResultCacheEligibility {
	return pipeline.DefaultResultCacheEligibility{}
}

func (e *testEngine) fetches() int64 { return e.fetchers.fetches.Load() }

func (e *testEngine) run(ctx context.Context, r *core.ImageRequest) (*core.ImageData, *core.RequestContext, error) {
	rc := core.NewRequestContext(r)
	data, err := pipeline.ExecuteRequestChain(ctx, e, rc)
	return data, rc, err
}

// recordingHook records "<chain>.<interceptor>" in invocation order.
type recordingHook struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHook) BeforeIntercept(ctx context.Context, info core.InterceptInfo) context.Context {
	h.mu.Lock()
	h.calls = append(h.calls, hooks.StepName(info))
	h.mu.Unlock()
	return ctx
}

func (h *recordingHook) AfterIntercept(context.Context, core.InterceptInfo, time.Duration, error) {}

func (h *recordingHook) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}
