package fetcher_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/adapters/diskcache"
	"github.com/Skryldev/sketch/adapters/fetcher"
	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/hooks"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// stubEngine provides what fetchers need: a download cache, an HTTP stack
// and a logger.
type stubEngine struct {
	downloadCache core.DiskCache
	httpStack     core.HTTPStack
}

func (e *stubEngine) Components() *core.ComponentRegistry                  { return nil }
func (e *stubEngine) MemoryCache() core.MemoryCache                        { return nil }
func (e *stubEngine) DownloadCache() core.DiskCache                        { return e.downloadCache }
func (e *stubEngine) ResultCache() core.DiskCache                          { return nil }
func (e *stubEngine) HTTPStack() core.HTTPStack                            { return e.httpStack }
func (e *stubEngine) Logger() core.Logger                                  { return hooks.NopLogger() }
func (e *stubEngine) NetworkDispatcher() *core.Dispatcher                  { return nil }
func (e *stubEngine) DecodeDispatcher() *core.Dispatcher                   { return nil }
func (e *stubEngine) Hooks() []core.Hook                                   { return nil }
func (e *stubEngine) ResultCacheEligibility() core.ResultCacheEligibility { return nil }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))))
	return buf.Bytes()
}

type imageServer struct {
	*httptest.Server
	hits      atomic.Int64
	userAgent atomic.Value
	header    atomic.Value
}

func newImageServer(t *testing.T, body []byte, status int) *imageServer {
	t.Helper()
	s := &imageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.userAgent.Store(r.UserAgent())
		s.header.Store(r.Header.Get("X-Token"))
		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newEngine(t *testing.T, withCache bool) *stubEngine {
	t.Helper()
	e := &stubEngine{httpStack: fetcher.NewHTTPStack(fetcher.HTTPStackOptions{
		Timeout:   5 * time.Second,
		UserAgent: "sketch-test",
	})}
	if withCache {
		c, err := diskcache.NewLocal(t.TempDir(), 0, 0)
		require.NoError(t, err)
		e.downloadCache = c
	}
	return e
}

func fetch(t *testing.T, e core.Engine, factory core.FetcherFactory, req *core.ImageRequest) (*core.FetchResult, error) {
	t.Helper()
	f := factory.Create(e, req)
	require.NotNil(t, f, "factory %s declined %s", factory.Key(), req.URI())
	return f.Fetch(context.Background())
}

func readAll(t *testing.T, fr *core.FetchResult) []byte {
	t.Helper()
	rc, err := fr.DataSource.Open()
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	return buf.Bytes()
}

type progressRecorder struct {
	mu        sync.Mutex
	total     int64
	completed int64
	calls     int
}

func (p *progressRecorder) OnUpdateProgress(_ *core.ImageRequest, total, completed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total, p.completed = total, completed
	p.calls++
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func TestHTTPFetcher_Download(t *testing.T) {
	body := pngBytes(t)
	srv := newImageServer(t, body, http.StatusOK)
	e := newEngine(t, false)

	req := core.NewRequestBuilder(srv.URL + "/a.png").HTTPHeader("X-Token", "secret").Build()
	fr, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, req)
	require.NoError(t, err)

	assert.Equal(t, core.DataFromNetwork, fr.DataFrom())
	// The Content-Type is not an image type, so the bytes are sniffed.
	assert.Equal(t, "image/png", fr.MimeType)
	assert.Equal(t, body, readAll(t, fr))
	assert.Equal(t, "sketch-test", srv.userAgent.Load())
	assert.Equal(t, "secret", srv.header.Load())
}

func TestHTTPFetcher_FactoryDeclinesOtherSchemes(t *testing.T) {
	e := newEngine(t, false)
	for _, uri := range []string{"file:///tmp/a.png", "data:image/png;base64,AA==", "ftp://x/a.png"} {
		assert.Nil(t, fetcher.HTTPFetcherFactory{}.Create(e, core.NewRequest(uri)), uri)
	}
	assert.NotNil(t, fetcher.HTTPFetcherFactory{}.Create(e, core.NewRequest("HTTPS://example.com/a.png")))
}

func TestHTTPFetcher_DownloadCache(t *testing.T) {
	body := pngBytes(t)
	srv := newImageServer(t, body, http.StatusOK)
	e := newEngine(t, true)
	req := core.NewRequest(srv.URL + "/a.png")

	first, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, req)
	require.NoError(t, err)
	assert.Equal(t, core.DataFromNetwork, first.DataFrom())

	second, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, req)
	require.NoError(t, err)
	assert.Equal(t, core.DataFromDownloadCache, second.DataFrom())
	assert.Equal(t, "image/png", second.MimeType)
	assert.Equal(t, body, readAll(t, second))
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestHTTPFetcher_DownloadCacheDisabled(t *testing.T) {
	srv := newImageServer(t, pngBytes(t), http.StatusOK)
	e := newEngine(t, true)
	req := core.NewRequestBuilder(srv.URL + "/a.png").
		DownloadCachePolicy(core.CachePolicyDisabled).
		Build()

	for i := 0; i < 2; i++ {
		fr, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, req)
		require.NoError(t, err)
		assert.Equal(t, core.DataFromNetwork, fr.DataFrom())
	}
	assert.Equal(t, int64(2), srv.hits.Load())
}

func TestHTTPFetcher_LocalDepth(t *testing.T) {
	srv := newImageServer(t, pngBytes(t), http.StatusOK)
	e := newEngine(t, true)
	local := core.NewRequestBuilder(srv.URL+"/a.png").Depth(core.DepthLocal, "offline").Build()

	_, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, local)
	require.Error(t, err)
	assert.True(t, apperrors.IsDepthRestricted(err))
	assert.Zero(t, srv.hits.Load())

	_, err = fetch(t, e, fetcher.HTTPFetcherFactory{}, core.NewRequest(srv.URL+"/a.png"))
	require.NoError(t, err)

	fr, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, local)
	require.NoError(t, err)
	assert.Equal(t, core.DataFromDownloadCache, fr.DataFrom())
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestHTTPFetcher_StatusError(t *testing.T) {
	srv := newImageServer(t, nil, http.StatusNotFound)
	e := newEngine(t, true)

	_, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, core.NewRequest(srv.URL+"/missing.png"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryFetch))
	assert.ErrorIs(t, err, apperrors.ErrHTTPStatus)
	assert.Contains(t, err.Error(), "404")

	_, err = e.downloadCache.OpenSnapshot(context.Background(), srv.URL+"/missing.png")
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
}

func TestHTTPFetcher_Progress(t *testing.T) {
	body := pngBytes(t)
	srv := newImageServer(t, body, http.StatusOK)
	e := newEngine(t, false)
	progress := &progressRecorder{}

	req := core.NewRequestBuilder(srv.URL + "/a.png").ProgressListener(progress).Build()
	_, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, req)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, progress.calls, 1)
	assert.Equal(t, int64(len(body)), progress.completed)
	assert.Equal(t, int64(len(body)), progress.total)
}

func TestHTTPFetcher_MaxBodyBytes(t *testing.T) {
	srv := newImageServer(t, pngBytes(t), http.StatusOK)
	e := &stubEngine{httpStack: fetcher.NewHTTPStack(fetcher.HTTPStackOptions{MaxBodyBytes: 8})}

	_, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, core.NewRequest(srv.URL+"/a.png"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryFetch))
}

func TestHTTPFetcher_CancelledWritesNothing(t *testing.T) {
	srv := newImageServer(t, pngBytes(t), http.StatusOK)
	e := newEngine(t, true)
	req := core.NewRequest(srv.URL + "/a.png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.HTTPFetcherFactory{}.Create(e, req).Fetch(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))

	_, err = e.downloadCache.OpenSnapshot(context.Background(), req.DownloadCacheKey())
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
}

func TestHTTPStack_Tracing(t *testing.T) {
	srv := newImageServer(t, pngBytes(t), http.StatusOK)
	e := &stubEngine{httpStack: fetcher.NewHTTPStack(fetcher.HTTPStackOptions{Tracing: true})}

	fr, err := fetch(t, e, fetcher.HTTPFetcherFactory{}, core.NewRequest(srv.URL+"/a.png"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", fr.MimeType)
}

// ── Files ─────────────────────────────────────────────────────────────────────

func TestFileFetcher(t *testing.T) {
	body := pngBytes(t)
	path := filepath.Join(t.TempDir(), "photo.bin")
	require.NoError(t, os.WriteFile(path, body, 0o644))
	e := newEngine(t, false)

	for _, uri := range []string{path, "file://" + path} {
		fr, err := fetch(t, e, fetcher.FileFetcherFactory{}, core.NewRequest(uri))
		require.NoError(t, err, uri)
		assert.Equal(t, core.DataFromLocal, fr.DataFrom())
		assert.Equal(t, "image/png", fr.MimeType)
		assert.Equal(t, body, readAll(t, fr))
	}
}

func TestFileFetcher_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	e := newEngine(t, false)

	_, err := fetch(t, e, fetcher.FileFetcherFactory{}, core.NewRequest(empty))
	assert.ErrorIs(t, err, apperrors.ErrEmptyInput)

	_, err = fetch(t, e, fetcher.FileFetcherFactory{}, core.NewRequest(filepath.Join(dir, "missing.png")))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryFetch))

	assert.Nil(t, fetcher.FileFetcherFactory{}.Create(e, core.NewRequest("relative/a.png")))
}

// ── Data URIs ─────────────────────────────────────────────────────────────────

func TestDataURIFetcher(t *testing.T) {
	body := pngBytes(t)
	e := newEngine(t, false)
	uri := "data:;base64," + base64.StdEncoding.EncodeToString(body)

	fr, err := fetch(t, e, fetcher.DataURIFetcherFactory{}, core.NewRequest(uri))
	require.NoError(t, err)
	assert.Equal(t, core.DataFromMemory, fr.DataFrom())
	assert.Equal(t, "image/png", fr.MimeType)
	assert.Equal(t, body, readAll(t, fr))

	uri = "data:IMAGE/PNG;base64," + base64.StdEncoding.EncodeToString(body)
	fr, err = fetch(t, e, fetcher.DataURIFetcherFactory{}, core.NewRequest(uri))
	require.NoError(t, err)
	assert.Equal(t, "image/png", fr.MimeType)
}

func TestDataURIFetcher_Invalid(t *testing.T) {
	e := newEngine(t, false)
	tests := []struct {
		uri      string
		category apperrors.Category
	}{
		{uri: "data:image/png;base64", category: apperrors.CategoryInput},
		{uri: "data:image/png,rawbytes", category: apperrors.CategoryInput},
		{uri: "data:image/png;base64,!!!", category: apperrors.CategoryFetch},
	}
	for _, tt := range tests {
		_, err := fetch(t, e, fetcher.DataURIFetcherFactory{}, core.NewRequest(tt.uri))
		require.Error(t, err, tt.uri)
		assert.True(t, apperrors.IsCategory(err, tt.category), tt.uri)
	}
}
