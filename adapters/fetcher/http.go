// Package fetcher provides the built-in Fetchers: HTTP(S) with a download
// cache, local files, and data URIs.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// downloadMetadata is stored next to downloaded bytes.
type downloadMetadata struct {
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
}

// HTTPFetcherFactory creates fetchers for http:// and https:// URIs.
type HTTPFetcherFactory struct{}

func (HTTPFetcherFactory) Key() string { return "HttpFetcher" }

func (HTTPFetcherFactory) Create(engine core.Engine, request *core.ImageRequest) core.Fetcher {
	uri := request.URI()
	lower := strings.ToLower(uri)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return nil
	}
	return &HTTPFetcher{engine: engine, request: request, url: uri}
}

// HTTPFetcher downloads through the engine's HTTPStack.  The download cache,
// keyed by URI, is consulted first and populated after a successful download
// unless the execution was cancelled.
type HTTPFetcher struct {
	engine  core.Engine
	request *core.ImageRequest
	url     string
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*core.FetchResult, error) {
	cache := f.engine.DownloadCache()
	policy := f.request.DownloadCachePolicy()
	key := f.request.DownloadCacheKey()

	if cache != nil && policy.ReadEnabled() {
		result, err := f.readCache(ctx, cache, key)
		if err == nil {
			return result, nil
		}
		if apperrors.IsCancelled(err) {
			return nil, err
		}
		if !errors.Is(err, apperrors.ErrCacheMiss) {
			f.engine.Logger().Warn("download cache entry unreadable", "key", key, "error", err.Error())
		}
	}

	if d := f.request.Depth(); d == core.DepthLocal || d == core.DepthMemory {
		return nil, apperrors.DepthRestricted("http.fetch", f.request.DepthFrom())
	}

	stack := f.engine.HTTPStack()
	if stack == nil {
		return nil, apperrors.New(apperrors.CategoryFetch, "http.fetch", errors.New("engine has no HTTPStack"))
	}
	resp, err := stack.GetResponse(ctx, f.request, f.url)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "http.fetch", err)
	}
	body := resp.Content()
	defer body.Close()

	if code := resp.Code(); code < http.StatusOK || code >= http.StatusMultipleChoices {
		return nil, apperrors.New(apperrors.CategoryFetch, "http.fetch",
			fmt.Errorf("%w: %d %s", apperrors.ErrHTTPStatus, code, f.url))
	}

	total := resp.ContentLength()
	var onChunk func(int64)
	if pl := f.request.ProgressListener(); pl != nil {
		onChunk = func(completed int64) { pl.OnUpdateProgress(f.request, total, completed) }
	}
	buf, err := utils.DrainReader(ctx, body, 0, onChunk)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "http.read", err)
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	mimeType := resolveMimeType(resp.ContentType(), data, f.url)

	if cache != nil && policy.WriteEnabled() {
		f.writeCache(ctx, cache, key, data, downloadMetadata{ContentType: mimeType, ContentLength: int64(len(data))})
	}

	return &core.FetchResult{
		DataSource: &core.BytesDataSource{Bytes: data, From: core.DataFromNetwork},
		MimeType:   mimeType,
	}, nil
}

func (f *HTTPFetcher) readCache(ctx context.Context, cache core.DiskCache, key string) (*core.FetchResult, error) {
	snap, err := cache.OpenSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	var meta downloadMetadata
	if mr, err := snap.Metadata(); err == nil {
		_ = json.NewDecoder(mr).Decode(&meta)
		mr.Close()
	}
	dr, err := snap.Data()
	if err != nil {
		return nil, err
	}
	defer dr.Close()
	data, err := io.ReadAll(dr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "download_cache.read", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("download_cache.read", err)
	}
	mimeType := meta.ContentType
	if mimeType == "" {
		mimeType = resolveMimeType("", data, f.url)
	}
	return &core.FetchResult{
		DataSource: &core.BytesDataSource{Bytes: data, From: core.DataFromDownloadCache},
		MimeType:   mimeType,
	}, nil
}

// writeCache stores the download.  Failures are logged, never returned.
func (f *HTTPFetcher) writeCache(ctx context.Context, cache core.DiskCache, key string, data []byte, meta downloadMetadata) {
	if ctx.Err() != nil {
		return
	}
	editor, err := cache.Edit(ctx, key)
	if err != nil {
		f.engine.Logger().Warn("download cache edit failed", "key", key, "error", err.Error())
		return
	}
	metaJSON, _ := json.Marshal(meta)
	err = func() error {
		w, err := editor.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		mw, err := editor.Metadata()
		if err != nil {
			return err
		}
		_, err = mw.Write(metaJSON)
		return err
	}()
	if err != nil || ctx.Err() != nil {
		_ = editor.Abort()
		if err != nil {
			f.engine.Logger().Warn("download cache write failed", "key", key, "error", err.Error())
		}
		return
	}
	// The editor is bound to ctx; a cancellation racing this call rolls back.
	if err := editor.Commit(); err != nil && !apperrors.IsCancelled(err) {
		f.engine.Logger().Warn("download cache commit failed", "key", key, "error", err.Error())
	}
}

// resolveMimeType prefers an image Content-Type, then sniffing, then the
// URL extension.
func resolveMimeType(contentType string, data []byte, uri string) string {
	if ct := utils.NormalizeMimeType(contentType); strings.HasPrefix(ct, "image/") {
		return ct
	}
	if sniffed := utils.DetectMimeType(data); sniffed != "" {
		return sniffed
	}
	return utils.MimeTypeFromExtension(uri)
}
