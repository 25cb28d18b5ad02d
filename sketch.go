// Package sketch is an image-loading engine: a request is fetched, decoded,
// resized and transformed through two ordered interceptor chains, with
// memory, result and download cache tiers in between.
//
// Quick start:
//
//	s, err := sketch.New(sketch.DefaultConfig())
//	if err != nil { ... }
//	defer s.Shutdown(context.Background())
//
//	req := core.NewRequestBuilder("https://example.com/a.jpg").
//		Size(200, 200).
//		Precision(core.PrecisionLessPixels).
//		Build()
//	result := s.Execute(ctx, req)
package sketch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Skryldev/sketch/adapters/decoder"
	"github.com/Skryldev/sketch/adapters/diskcache"
	"github.com/Skryldev/sketch/adapters/encoder"
	"github.com/Skryldev/sketch/adapters/fetcher"
	"github.com/Skryldev/sketch/adapters/memcache"
	"github.com/Skryldev/sketch/config"
	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/hooks"
	"github.com/Skryldev/sketch/pipeline"
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Option customises a Sketch at construction.
type Option func(*Sketch)

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(s *Sketch) { s.logger = l } }

// WithMetrics attaches a metrics collector.  Per-interceptor timings need a
// hooks.MetricsHook as well; the engine itself records finished executions.
func WithMetrics(m core.MetricsCollector) Option { return func(s *Sketch) { s.metrics = m } }

// WithHooks registers observers for interceptor invocations.
func WithHooks(h ...core.Hook) Option {
	return func(s *Sketch) { s.hooks = append(s.hooks, h...) }
}

// WithComponents registers user components.  They are merged ahead of the
// defaults, so user factories are tried first and user interceptors sharing
// a built-in key replace it.
func WithComponents(r *core.ComponentRegistry) Option {
	return func(s *Sketch) { s.userComponents = s.userComponents.Merge(r) }
}

// WithMemoryCache replaces the memory cache built from the configuration.
func WithMemoryCache(c core.MemoryCache) Option {
	return func(s *Sketch) { s.memoryCache = c; s.memoryCacheSet = true }
}

// WithDownloadCache replaces the download cache built from the configuration.
func WithDownloadCache(c core.DiskCache) Option {
	return func(s *Sketch) { s.downloadCache = c; s.downloadCacheSet = true }
}

// WithResultCache replaces the result cache built from the configuration.
func WithResultCache(c core.DiskCache) Option {
	return func(s *Sketch) { s.resultCache = c; s.resultCacheSet = true }
}

// WithHTTPStack replaces the net/http stack.
func WithHTTPStack(h core.HTTPStack) Option { return func(s *Sketch) { s.httpStack = h } }

// WithGlobalOptions sets options applied to every request; fields the request
// sets itself always win.
func WithGlobalOptions(o *core.ImageOptions) Option {
	return func(s *Sketch) { s.globalOptions = o.Clone() }
}

// WithResultCacheEligibility replaces the default result-cache predicate.
func WithResultCacheEligibility(e core.ResultCacheEligibility) Option {
	return func(s *Sketch) { s.eligibility = e }
}

// Sketch is the primary entry point.  It is safe for concurrent use; every
// execution owns its RequestContext, everything else is shared.
type Sketch struct {
	cfg config.Config

	components     *core.ComponentRegistry
	userComponents *core.ComponentRegistry

	memoryCache      core.MemoryCache
	downloadCache    core.DiskCache
	resultCache      core.DiskCache
	memoryCacheSet   bool
	downloadCacheSet bool
	resultCacheSet   bool

	httpStack     core.HTTPStack
	logger        core.Logger
	metrics       core.MetricsCollector
	hooks         []core.Hook
	globalOptions *core.ImageOptions
	eligibility   core.ResultCacheEligibility

	network *core.Dispatcher
	decode  *core.Dispatcher

	mu       sync.Mutex
	shutdown bool
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup

	executed  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

var _ core.Engine = (*Sketch)(nil)

// New creates a fully wired Sketch: HTTP, file and data-URI fetchers, the
// bitmap decoder and every built-in interceptor, plus the caches the
// configuration enables.
func New(cfg config.Config, opts ...Option) (*Sketch, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "sketch.New", err)
	}
	s := &Sketch{
		cfg:      cfg,
		network:  core.NewDispatcher("network", cfg.NetworkParallelism),
		decode:   core.NewDispatcher("decode", cfg.DecodeParallelism),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = hooks.NopLogger()
	}
	if s.eligibility == nil {
		s.eligibility = pipeline.DefaultResultCacheEligibility{}
	}
	if s.httpStack == nil {
		s.httpStack = fetcher.NewHTTPStack(fetcher.HTTPStackOptions{
			Timeout:      cfg.HTTP.Timeout,
			UserAgent:    cfg.HTTP.UserAgent,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
			Tracing:      cfg.HTTP.Tracing,
		})
	}
	if !s.memoryCacheSet && cfg.MemoryCache.MaxSizeBytes > 0 {
		s.memoryCache = memcache.NewLRU(cfg.MemoryCache.MaxSizeBytes)
	}
	var err error
	if !s.downloadCacheSet {
		if s.downloadCache, err = openDiskCache(cfg.DownloadCache, "download"); err != nil {
			return nil, err
		}
	}
	if !s.resultCacheSet {
		if s.resultCache, err = openDiskCache(cfg.ResultCache, "result"); err != nil {
			if s.downloadCache != nil {
				s.downloadCache.Close()
			}
			return nil, err
		}
	}

	s.components = s.userComponents.Merge(defaultComponents(cfg))

	s.logger.Debug("sketch.configured",
		"network_parallelism", cfg.NetworkParallelism,
		"decode_parallelism", cfg.DecodeParallelism,
		"memory_cache", s.memoryCache != nil,
		"download_cache", s.downloadCache != nil,
		"result_cache", s.resultCache != nil,
		"components", s.components.String(),
	)
	return s, nil
}

// defaultComponents lists the built-in components.  A JPEG result-cache
// encoder replaces the PNG default when ResultCacheQuality is set.
func defaultComponents(cfg config.Config) *core.ComponentRegistry {
	b := core.NewRegistryBuilder().
		AddFetcher(fetcher.HTTPFetcherFactory{}, fetcher.FileFetcherFactory{}, fetcher.DataURIFetcherFactory{}).
		AddDecoder(&decoder.BitmapDecoderFactory{})
	if cfg.ResultCacheQuality > 0 {
		b.AddDecodeInterceptor(pipeline.NewResultCacheDecodeInterceptor(encoder.NewJPEG(cfg.ResultCacheQuality)))
	}
	return b.Build().Merge(pipeline.BuiltinRegistry())
}

func openDiskCache(c config.DiskCacheConfig, name string) (core.DiskCache, error) {
	switch c.Backend {
	case config.CacheLocal:
		dc, err := diskcache.NewLocal(filepath.Join(c.Dir, name), c.MaxSizeBytes, os.FileMode(c.Permissions))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConfig, "sketch.New."+name+"_cache", err)
		}
		return dc, nil
	case config.CacheSQLite:
		if err := os.MkdirAll(c.Dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConfig, "sketch.New."+name+"_cache", err)
		}
		dc, err := diskcache.NewSQLite(filepath.Join(c.Dir, name+".db"), c.MaxSizeBytes)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryConfig, "sketch.New."+name+"_cache", err)
		}
		return dc, nil
	}
	return nil, nil
}

// ── core.Engine ───────────────────────────────────────────────────────────────

func (s *Sketch) Components() *core.ComponentRegistry { return s.components }
func (s *Sketch) MemoryCache() core.MemoryCache       { return s.memoryCache }
func (s *Sketch) DownloadCache() core.DiskCache       { return s.downloadCache }
func (s *Sketch) ResultCache() core.DiskCache         { return s.resultCache }
func (s *Sketch) HTTPStack() core.HTTPStack           { return s.httpStack }
func (s *Sketch) Logger() core.Logger                 { return s.logger }
func (s *Sketch) NetworkDispatcher() *core.Dispatcher { return s.network }
func (s *Sketch) DecodeDispatcher() *core.Dispatcher  { return s.decode }
func (s *Sketch) Hooks() []core.Hook                  { return s.hooks }

func (s *Sketch) ResultCacheEligibility() core.ResultCacheEligibility { return s.eligibility }

// Config returns the configuration the engine was built with.
func (s *Sketch) Config() config.Config { return s.cfg }

// GlobalOptions returns a copy of the options merged into every request.
func (s *Sketch) GlobalOptions() *core.ImageOptions { return s.globalOptions.Clone() }

// ── Execution ─────────────────────────────────────────────────────────────────

// Enqueue starts request in the background and returns its handle.
func (s *Sketch) Enqueue(request *core.ImageRequest) *Disposable {
	ctx, cancel := context.WithCancel(context.Background())
	d := newDisposable(request, cancel)

	if !s.begin(d.id, cancel) {
		cancel()
		d.state.Store(int32(StateError))
		d.finish(s.rejected(request))
		return d
	}
	go func() {
		defer s.end(d.id)
		d.finish(newExecutor(s, request, &d.state).execute(ctx))
	}()
	return d
}

// Execute runs request on the calling goroutine.  Cancel ctx to cancel it.
func (s *Sketch) Execute(ctx context.Context, request *core.ImageRequest) core.ImageResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := uuid.NewString()
	if !s.begin(id, cancel) {
		return s.rejected(request)
	}
	defer s.end(id)
	var state atomic.Int32
	return newExecutor(s, request, &state).execute(ctx)
}

func (s *Sketch) begin(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.inflight[id] = cancel
	s.wg.Add(1)
	return true
}

func (s *Sketch) end(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Sketch) rejected(request *core.ImageRequest) core.ImageResult {
	err := apperrors.New(apperrors.CategoryInput, "sketch.execute", apperrors.ErrEngineShutdown)
	return &core.ErrorResult{Req: request, Err: core.WrapRequestError(request, nil, err)}
}

// Shutdown rejects new requests, cancels in-flight ones, waits for them (or
// ctx) and closes the disk caches.
func (s *Sketch) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	for _, cancel := range s.inflight {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return apperrors.Cancelled("sketch.shutdown", ctx.Err())
	}

	var firstErr error
	for _, c := range []core.DiskCache{s.downloadCache, s.resultCache} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = apperrors.Wrap(apperrors.CategoryCache, "sketch.shutdown", err)
		}
	}
	s.logger.Debug("sketch.shutdown",
		"executed", s.executed.Load(),
		"succeeded", s.succeeded.Load(),
		"failed", s.failed.Load(),
		"cancelled", s.cancelled.Load(),
	)
	return firstErr
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Executed, Succeeded, Failed, Cancelled int64
	NetworkActive, NetworkPeak             int64
	DecodeActive, DecodePeak               int64
	MemoryCacheSize                        int64
}

// Stats returns lightweight execution statistics.
func (s *Sketch) Stats() Stats {
	st := Stats{
		Executed:      s.executed.Load(),
		Succeeded:     s.succeeded.Load(),
		Failed:        s.failed.Load(),
		Cancelled:     s.cancelled.Load(),
		NetworkActive: s.network.Active(),
		NetworkPeak:   s.network.Peak(),
		DecodeActive:  s.decode.Active(),
		DecodePeak:    s.decode.Peak(),
	}
	if s.memoryCache != nil {
		st.MemoryCacheSize = s.memoryCache.Size()
	}
	return st
}
