package core

import (
	"context"
	"io"
	"time"
)

// ── Fetch / decode ────────────────────────────────────────────────────────────

// Fetcher turns a URI into raw bytes plus a sniffed MIME type.
// Implementations live in adapters/fetcher/.
type Fetcher interface {
	Fetch(ctx context.Context) (*FetchResult, error)
}

// FetcherFactory inspects a request and returns a Fetcher, or nil to decline.
type FetcherFactory interface {
	Create(engine Engine, request *ImageRequest) Fetcher
	Key() string
}

// Decoder turns fetched bytes plus the request into a decoded image.
// Implementations live in adapters/decoder/ and adapters/vips/.
type Decoder interface {
	Decode(ctx context.Context) (*DecodeResult, error)
}

// DecoderFactory returns a Decoder for the fetch result, or nil to decline.
type DecoderFactory interface {
	Create(engine Engine, requestContext *RequestContext, fetchResult *FetchResult) Decoder
	Key() string
}

// Transformation alters a decoded image.  Transform returns a nil result to
// decline, in which case the input passes through untouched.
type Transformation interface {
	Key() string
	Transform(ctx context.Context, requestContext *RequestContext, input Image) (*TransformResult, error)
}

// ── Interceptor chains ────────────────────────────────────────────────────────

// RequestChain threads one execution through the request interceptors.
type RequestChain interface {
	Engine() Engine
	InitialRequest() *ImageRequest
	Request() *ImageRequest
	RequestContext() *RequestContext
	// Proceed invokes the next interceptor with request, which becomes the
	// current request of the RequestContext.
	Proceed(ctx context.Context, request *ImageRequest) (*ImageData, error)
}

// RequestInterceptor wraps the production of the final ImageData.
type RequestInterceptor interface {
	// Key de-duplicates interceptors on registry merge; "" never matches.
	Key() string
	// SortWeight orders interceptors ascending; must be within [0, 100].
	SortWeight() int
	Intercept(ctx context.Context, chain RequestChain) (*ImageData, error)
}

// DecodeChain threads one execution through the decode interceptors.
type DecodeChain interface {
	Engine() Engine
	Request() *ImageRequest
	RequestContext() *RequestContext
	// FetchResult is nil until something upstream fetched the data.
	FetchResult() *FetchResult
	Proceed(ctx context.Context) (*DecodeResult, error)
}

// DecodeInterceptor wraps the production of a DecodeResult.
type DecodeInterceptor interface {
	Key() string
	SortWeight() int
	Intercept(ctx context.Context, chain DecodeChain) (*DecodeResult, error)
}

// ── Caches ────────────────────────────────────────────────────────────────────

// MemoryCacheValue is one memory-cache entry.
type MemoryCacheValue struct {
	Image        Image
	ImageInfo    ImageInfo
	Resize       Resize
	Transformeds []string
	Extras       map[string]string
}

// MemoryCache is a keyed in-memory store that must support concurrent reads.
type MemoryCache interface {
	Get(key string) (*MemoryCacheValue, bool)
	Put(key string, value *MemoryCacheValue, weight int64) bool
	Remove(key string) bool
	Clear()
	Size() int64
	MaxSize() int64
}

// DiskSnapshot is a read handle on a committed disk-cache entry.
type DiskSnapshot interface {
	Data() (io.ReadCloser, error)
	Metadata() (io.ReadCloser, error)
	Close() error
}

// DiskEditor writes one disk-cache entry; nothing is visible before Commit.
// Commit fails with a cancelled error, leaving no entry, once the context
// passed to Edit is done.
type DiskEditor interface {
	Data() (io.Writer, error)
	Metadata() (io.Writer, error)
	Commit() error
	Abort() error
}

// DiskCache is a byte-oriented store keyed by string.
// OpenSnapshot returns errors.ErrCacheMiss when the key is absent.
type DiskCache interface {
	OpenSnapshot(ctx context.Context, key string) (DiskSnapshot, error)
	Edit(ctx context.Context, key string) (DiskEditor, error)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// ResultCacheEligibility decides whether a decode result may be persisted in
// the result cache.
type ResultCacheEligibility interface {
	Eligible(requestContext *RequestContext, result *DecodeResult) bool
}

// ── Transport ─────────────────────────────────────────────────────────────────

// HTTPResponse is the response of an HTTPStack call.
type HTTPResponse interface {
	Code() int
	ContentLength() int64
	ContentType() string
	Header(name string) string
	Content() io.ReadCloser
}

// HTTPStack performs HTTP GETs for fetchers.
type HTTPStack interface {
	GetResponse(ctx context.Context, request *ImageRequest, url string) (HTTPResponse, error)
}

// ── Callbacks ─────────────────────────────────────────────────────────────────

// Target receives the images to display.
type Target interface {
	OnStart(request *ImageRequest, placeholder Image)
	OnSuccess(request *ImageRequest, image Image)
	OnError(request *ImageRequest, errorImage Image)
}

// Listener observes the lifecycle of one execution.
type Listener interface {
	OnStart(request *ImageRequest)
	OnSuccess(request *ImageRequest, result *SuccessResult)
	OnError(request *ImageRequest, result *ErrorResult)
	OnCancel(request *ImageRequest)
}

// ProgressListener receives download progress.
type ProgressListener interface {
	OnUpdateProgress(request *ImageRequest, total, completed int64)
}

// ── Observability ─────────────────────────────────────────────────────────────

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// InterceptInfo describes one interceptor invocation for hooks.
type InterceptInfo struct {
	Chain       string // "request" or "decode"
	Interceptor string
	Index       int
	RequestID   string
	Request     *ImageRequest
}

// Hook is an optional observer invoked around every interceptor.
// BeforeIntercept may return a derived context that is passed to the
// interceptor and to AfterIntercept.
type Hook interface {
	BeforeIntercept(ctx context.Context, info InterceptInfo) context.Context
	AfterIntercept(ctx context.Context, info InterceptInfo, d time.Duration, err error)
}

// MetricsCollector receives performance observations from the engine.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d time.Duration)
	RecordError(stepName string, category string)
	RecordResult(from DataFrom)
}

// ── Engine ────────────────────────────────────────────────────────────────────

// Engine is what components and interceptors see of the loader.
type Engine interface {
	Components() *ComponentRegistry
	MemoryCache() MemoryCache
	DownloadCache() DiskCache
	ResultCache() DiskCache
	HTTPStack() HTTPStack
	Logger() Logger
	NetworkDispatcher() *Dispatcher
	DecodeDispatcher() *Dispatcher
	Hooks() []Hook
	ResultCacheEligibility() ResultCacheEligibility
}
