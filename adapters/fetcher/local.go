package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// sniffLen is how many leading bytes are read to sniff a file's MIME type.
const sniffLen = 512

// ── Files ─────────────────────────────────────────────────────────────────────

// FileFetcherFactory creates fetchers for file:// URIs and absolute paths.
type FileFetcherFactory struct{}

func (FileFetcherFactory) Key() string { return "FileFetcher" }

func (FileFetcherFactory) Create(_ core.Engine, request *core.ImageRequest) core.Fetcher {
	uri := request.URI()
	switch {
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil || u.Path == "" {
			return nil
		}
		return &FileFetcher{Path: u.Path}
	case filepath.IsAbs(uri):
		return &FileFetcher{Path: uri}
	}
	return nil
}

// FileFetcher reads a local file.  The bytes stay on disk; only the MIME type
// is sniffed up front.
type FileFetcher struct {
	Path string
}

func (f *FileFetcher) Fetch(ctx context.Context) (*core.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("file.fetch", err)
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "file.fetch", err)
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "file.sniff", err)
	}
	if n == 0 {
		return nil, apperrors.New(apperrors.CategoryFetch, "file.fetch", fmt.Errorf("%w: %s", apperrors.ErrEmptyInput, f.Path))
	}
	mimeType := utils.DetectMimeType(head[:n])
	if mimeType == "" {
		mimeType = utils.MimeTypeFromExtension(f.Path)
	}
	return &core.FetchResult{
		DataSource: &core.FileDataSource{Path: f.Path, From: core.DataFromLocal},
		MimeType:   mimeType,
	}, nil
}

// ── Data URIs ─────────────────────────────────────────────────────────────────

// DataURIFetcherFactory creates fetchers for base64 data URIs.
type DataURIFetcherFactory struct{}

func (DataURIFetcherFactory) Key() string { return "DataUriFetcher" }

func (DataURIFetcherFactory) Create(_ core.Engine, request *core.ImageRequest) core.Fetcher {
	if !strings.HasPrefix(request.URI(), "data:") {
		return nil
	}
	return &DataURIFetcher{URI: request.URI()}
}

// DataURIFetcher decodes "data:<mime>;base64,<payload>".
type DataURIFetcher struct {
	URI string
}

func (f *DataURIFetcher) Fetch(ctx context.Context) (*core.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("data_uri.fetch", err)
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(f.URI, "data:"), ",")
	if !ok {
		return nil, apperrors.New(apperrors.CategoryInput, "data_uri.fetch", apperrors.ErrUriInvalid)
	}
	mimeType, params, _ := strings.Cut(header, ";")
	if params != "base64" {
		return nil, apperrors.New(apperrors.CategoryInput, "data_uri.fetch",
			fmt.Errorf("%w: only base64 data URIs are supported", apperrors.ErrUriInvalid))
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "data_uri.decode", err)
	}
	if mimeType == "" {
		mimeType = utils.DetectMimeType(data)
	}
	return &core.FetchResult{
		DataSource: &core.BytesDataSource{Bytes: data, From: core.DataFromMemory},
		MimeType:   utils.NormalizeMimeType(mimeType),
	}, nil
}
