package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ── Data sources ──────────────────────────────────────────────────────────────

// DataSource is a re-openable handle on fetched bytes.
type DataSource interface {
	Open() (io.ReadCloser, error)
	DataFrom() DataFrom
}

// BytesDataSource serves bytes held in memory.
type BytesDataSource struct {
	Bytes []byte
	From  DataFrom
}

func (b *BytesDataSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Bytes)), nil
}

func (b *BytesDataSource) DataFrom() DataFrom { return b.From }

func (b *BytesDataSource) String() string {
	return fmt.Sprintf("BytesDataSource(%d,%s)", len(b.Bytes), b.From)
}

// FileDataSource serves a local file.
type FileDataSource struct {
	Path string
	From DataFrom
}

func (f *FileDataSource) Open() (io.ReadCloser, error) { return os.Open(f.Path) }

func (f *FileDataSource) DataFrom() DataFrom {
	if f.From == "" {
		return DataFromLocal
	}
	return f.From
}

func (f *FileDataSource) String() string { return fmt.Sprintf("FileDataSource(%s)", f.Path) }

// ── Results ───────────────────────────────────────────────────────────────────

// FetchResult is what a Fetcher produces.
type FetchResult struct {
	DataSource DataSource
	MimeType   string
}

// DataFrom is the tier of the fetched bytes.
func (f *FetchResult) DataFrom() DataFrom { return f.DataSource.DataFrom() }

// DecodeResult is what a Decoder produces.
type DecodeResult struct {
	Image        Image
	ImageInfo    ImageInfo
	DataFrom     DataFrom
	Resize       Resize
	Transformeds []string
	Extras       map[string]string
}

// WithImage returns a copy carrying img.  Slices and maps are copied so the
// receiver is never mutated by later additions.
func (d *DecodeResult) WithImage(img Image) *DecodeResult {
	out := *d
	out.Image = img
	out.Transformeds = cloneStrings(d.Transformeds)
	out.Extras = cloneStringMap(d.Extras)
	return &out
}

// AddTransformed appends a transformation tag.
func (d *DecodeResult) AddTransformed(tag string) {
	d.Transformeds = append(d.Transformeds, tag)
}

// AddExtra records an extra value.
func (d *DecodeResult) AddExtra(key, value string) {
	if d.Extras == nil {
		d.Extras = make(map[string]string)
	}
	d.Extras[key] = value
}

// TransformResult is the output of one Transformation.
type TransformResult struct {
	Image       Image
	Transformed string
}

// ImageData is the final product of the request chain.
type ImageData struct {
	Image        Image
	ImageInfo    ImageInfo
	DataFrom     DataFrom
	Resize       Resize
	Transformeds []string
	Extras       map[string]string
}

// ImageDataFrom wraps a DecodeResult.
func ImageDataFrom(d *DecodeResult) *ImageData {
	return &ImageData{
		Image:        d.Image,
		ImageInfo:    d.ImageInfo,
		DataFrom:     d.DataFrom,
		Resize:       d.Resize,
		Transformeds: d.Transformeds,
		Extras:       d.Extras,
	}
}

// ── Image results ─────────────────────────────────────────────────────────────

// ImageResult is either a *SuccessResult or an *ErrorResult.
type ImageResult interface {
	Request() *ImageRequest
	isImageResult()
}

// SuccessResult carries a decoded image and its metadata.
type SuccessResult struct {
	Req          *ImageRequest
	CacheKey     string
	Image        Image
	ImageInfo    ImageInfo
	DataFrom     DataFrom
	Resize       Resize
	Transformeds []string
	Extras       map[string]string
}

func (s *SuccessResult) Request() *ImageRequest { return s.Req }
func (*SuccessResult) isImageResult()           {}

// ErrorResult carries the failure and the best-effort error image.
type ErrorResult struct {
	Req   *ImageRequest
	Image Image
	Err   error
	// Cancelled distinguishes "superseded" from "failed"; Image is always nil then.
	Cancelled bool
}

func (e *ErrorResult) Request() *ImageRequest { return e.Req }
func (*ErrorResult) isImageResult()           {}

// RequestError wraps the first failure of an execution with the last request
// state that was resolved and, when available, a partial ImageInfo.
type RequestError struct {
	Request   *ImageRequest
	ImageInfo *ImageInfo
	Err       error
}

func (e *RequestError) Error() string {
	uri := ""
	if e.Request != nil {
		uri = e.Request.URI()
	}
	return fmt.Sprintf("request %q: %v", uri, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// WrapRequestError wraps err with the request state unless it is already wrapped.
func WrapRequestError(request *ImageRequest, info *ImageInfo, err error) error {
	if err == nil {
		return nil
	}
	var re *RequestError
	if errors.As(err, &re) {
		return err
	}
	return &RequestError{Request: request, ImageInfo: info, Err: err}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
