// Package vips provides a libvips-backed DecoderFactory.  It shrinks and
// crops inside libvips, so large sources never exist as a full Go bitmap.
package vips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"runtime"
	"sync/atomic"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/sketch/adapters/decoder"
	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend owns the libvips runtime.  Safe for concurrent use.
type Backend struct {
	cfg    BackendConfig
	closed atomic.Bool
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
// Later calls are no-ops.
func (b *Backend) Shutdown() {
	if b.closed.CompareAndSwap(false, true) {
		govips.Shutdown()
	}
}

// Running reports whether the runtime is started and not yet shut down.
func (b *Backend) Running() bool { return b != nil && !b.closed.Load() }

// ─── Factory ──────────────────────────────────────────────────────────────────

// DecoderFactory creates vips decoders for JPEG, PNG, WebP, GIF and TIFF.
// Register it ahead of the bitmap decoder to take precedence.  It declines
// every request while Backend is nil or shut down, so the next decoder in the
// registry takes over.
type DecoderFactory struct {
	Backend *Backend
}

var _ core.DecoderFactory = (*DecoderFactory)(nil)

func (*DecoderFactory) Key() string { return "VipsDecoder" }

func (f *DecoderFactory) Create(_ core.Engine, rc *core.RequestContext, fr *core.FetchResult) core.Decoder {
	if !f.Backend.Running() || fr == nil || fr.DataSource == nil {
		return nil
	}
	switch utils.NormalizeMimeType(fr.MimeType) {
	case "", utils.MimeTypeJPEG, utils.MimeTypePNG, utils.MimeTypeWebP, utils.MimeTypeGIF, utils.MimeTypeTIFF:
		return &Decoder{backend: f.Backend, requestContext: rc, fetchResult: fr}
	}
	return nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder mirrors the bitmap decoder's semantics (sampling, resize mapping,
// EXIF orientation and colour type) using libvips operations.
type Decoder struct {
	backend        *Backend
	requestContext *core.RequestContext
	fetchResult    *core.FetchResult
}

func (d *Decoder) Decode(ctx context.Context) (*core.DecodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("vips.decode", err)
	}
	if !d.backend.Running() {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", errors.New("libvips backend is shut down"))
	}
	r, err := d.fetchResult.DataSource.Open()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.open", err)
	}
	buf, err := utils.DrainReader(ctx, r, 32*1024, nil)
	r.Close()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", apperrors.ErrEmptyInput)
	}

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	request := d.requestContext.Request()
	info := core.ImageInfo{
		Width:           ref.Width(),
		Height:          ref.Height(),
		MimeType:        mimeTypeOf(ref.Format()),
		ExifOrientation: ref.Orientation(),
	}
	result := &core.DecodeResult{ImageInfo: info, DataFrom: d.fetchResult.DataFrom()}

	if info.ExifOrientation > 1 && !request.IgnoreExifOrientation() {
		if err := ref.AutoRotate(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.auto_rotate", err)
		}
		result.AddTransformed(core.ExifOrientationTransformed(info.ExifOrientation))
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("vips.decode", err)
	}
	if err := d.resize(ref, request, result); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.resize", err)
	}

	img, err := toImage(ref)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.export", err)
	}
	result.Image = core.NewBitmapImage(decoder.ConvertColorType(img, request.ColorType()))
	return result, nil
}

func (d *Decoder) resize(ref *govips.ImageRef, request *core.ImageRequest, result *core.DecodeResult) error {
	target := request.Size()
	if target.IsEmpty() {
		return nil
	}
	imageSize := core.Size{Width: ref.Width(), Height: ref.Height()}
	precision := request.PrecisionDecider().Get(imageSize.Width, imageSize.Height, target.Width, target.Height)
	result.Resize = core.Resize{Size: target, Precision: precision, Scale: request.Scale()}

	if precision == core.PrecisionLessPixels {
		sampleSize := core.CalculateSampleSize(imageSize, target)
		if sampleSize <= 1 {
			return nil
		}
		dst := core.SampledSize(imageSize, sampleSize)
		if err := scaleTo(ref, imageSize, dst); err != nil {
			return err
		}
		result.AddTransformed(core.InSampledTransformed(sampleSize))
		return nil
	}

	mapping := core.CalculateResizeMapping(imageSize, target, precision, result.Resize.Scale)
	src := mapping.SrcRect
	if src == image.Rect(0, 0, imageSize.Width, imageSize.Height) && mapping.DstSize == imageSize {
		return nil
	}
	if src.Dx() != imageSize.Width || src.Dy() != imageSize.Height {
		if err := ref.ExtractArea(src.Min.X, src.Min.Y, src.Dx(), src.Dy()); err != nil {
			return err
		}
	}
	if err := scaleTo(ref, core.Size{Width: src.Dx(), Height: src.Dy()}, mapping.DstSize); err != nil {
		return err
	}
	result.AddTransformed(core.ResizeTransformed(result.Resize))
	return nil
}

func scaleTo(ref *govips.ImageRef, from, to core.Size) error {
	if from == to {
		return nil
	}
	h := float64(to.Width) / float64(from.Width)
	v := float64(to.Height) / float64(from.Height)
	return ref.ResizeWithVScale(h, v, govips.KernelLanczos3)
}

// toImage hands the pixels to Go through a fast PNG round trip.
func toImage(ref *govips.ImageRef) (image.Image, error) {
	ep := govips.NewPngExportParams()
	ep.Compression = 0
	ep.StripMetadata = true
	buf, _, err := ref.ExportPng(ep)
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(buf))
}

func mimeTypeOf(f govips.ImageType) string {
	switch f {
	case govips.ImageTypeJPEG:
		return utils.MimeTypeJPEG
	case govips.ImageTypePNG:
		return utils.MimeTypePNG
	case govips.ImageTypeWEBP:
		return utils.MimeTypeWebP
	case govips.ImageTypeGIF:
		return utils.MimeTypeGIF
	case govips.ImageTypeTIFF:
		return utils.MimeTypeTIFF
	default:
		return fmt.Sprintf("image/x-vips-%d", int(f))
	}
}
