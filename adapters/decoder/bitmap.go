package decoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// codec is one registered still-image format.
type codec struct {
	mimeType     string
	decode       func(io.Reader) (image.Image, error)
	decodeConfig func(io.Reader) (image.Config, error)
	// exif reports whether the container may carry an EXIF orientation.
	exif bool
}

var (
	codecsMu sync.RWMutex
	codecs   = map[string]codec{}
)

func registerCodec(c codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[c.mimeType] = c
}

func lookupCodec(mimeType string) (codec, bool) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[mimeType]
	return c, ok
}

// SupportedMimeTypes lists the formats BitmapDecoder understands, sorted.
func SupportedMimeTypes() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	out := make([]string, 0, len(codecs))
	for m := range codecs {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ── Factory ───────────────────────────────────────────────────────────────────

// BitmapDecoderFactory creates a BitmapDecoder for every supported MIME type.
// An empty MIME type is accepted; the decoder sniffs the bytes itself.
type BitmapDecoderFactory struct{}

var _ core.DecoderFactory = (*BitmapDecoderFactory)(nil)

func (*BitmapDecoderFactory) Key() string { return "BitmapDecoder" }

func (*BitmapDecoderFactory) Create(_ core.Engine, rc *core.RequestContext, fr *core.FetchResult) core.Decoder {
	if fr == nil || fr.DataSource == nil {
		return nil
	}
	if fr.MimeType != "" {
		if _, ok := lookupCodec(utils.NormalizeMimeType(fr.MimeType)); !ok {
			return nil
		}
	}
	return &BitmapDecoder{requestContext: rc, fetchResult: fr}
}

// ── Decoder ───────────────────────────────────────────────────────────────────

// BitmapDecoder decodes a still image with the standard library and
// golang.org/x/image codecs, then applies, in order: sampling or resize,
// EXIF orientation and colour-type conversion.
type BitmapDecoder struct {
	requestContext *core.RequestContext
	fetchResult    *core.FetchResult
}

func (d *BitmapDecoder) Decode(ctx context.Context) (*core.DecodeResult, error) {
	raw, err := d.readAll(ctx)
	if err != nil {
		return nil, err
	}

	mimeType := utils.NormalizeMimeType(d.fetchResult.MimeType)
	if mimeType == "" {
		mimeType = utils.DetectMimeType(raw)
	}
	c, ok := lookupCodec(mimeType)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "bitmap.decode",
			fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, mimeType))
	}

	cfg, err := c.decodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "bitmap.decode_config", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "bitmap.decode_config",
			fmt.Errorf("%w: invalid image size %dx%d", apperrors.ErrInvalidDimensions, cfg.Width, cfg.Height))
	}
	info := core.ImageInfo{Width: cfg.Width, Height: cfg.Height, MimeType: mimeType}
	if c.exif {
		info.ExifOrientation = utils.ReadExifOrientation(raw)
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("bitmap.decode", err)
	}
	request := d.requestContext.Request()
	img, err := c.decode(bytes.NewReader(raw))
	if err != nil {
		// The header was readable, so the failure carries the intrinsic info.
		return nil, core.WrapRequestError(request, &info,
			apperrors.New(apperrors.CategoryDecode, "bitmap.decode", err))
	}

	result := &core.DecodeResult{
		ImageInfo: info,
		DataFrom:  d.fetchResult.DataFrom(),
	}

	orientation := info.ExifOrientation
	applyExif := orientation > 1 && !request.IgnoreExifOrientation()
	// Orientations 5-8 swap the axes; resize decisions use the displayed size.
	displayed := info.Size()
	if applyExif && orientation >= 5 {
		displayed = core.Size{Width: info.Height, Height: info.Width}
	}
	if applyExif {
		img = ApplyOrientation(img, orientation)
		result.AddTransformed(core.ExifOrientationTransformed(orientation))
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("bitmap.decode", err)
	}
	img = d.resize(img, displayed, request, result)
	img = ConvertColorType(img, request.ColorType())

	result.Image = core.NewBitmapImage(img)
	return result, nil
}

func (d *BitmapDecoder) readAll(ctx context.Context) ([]byte, error) {
	r, err := d.fetchResult.DataSource.Open()
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "bitmap.open", err)
	}
	defer r.Close()
	buf, err := utils.DrainReader(ctx, r, 0, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Cancelled("bitmap.read", ctx.Err())
		}
		return nil, apperrors.New(apperrors.CategoryDecode, "bitmap.read", err)
	}
	defer utils.ReleaseBuffer(buf)
	if buf.Len() == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "bitmap.read", apperrors.ErrEmptyInput)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

// resize applies the request size.  LESS_PIXELS subsamples by a power of two
// and keeps the aspect ratio; the other precisions crop and scale through
// CalculateResizeMapping.
func (d *BitmapDecoder) resize(img image.Image, imageSize core.Size, request *core.ImageRequest, result *core.DecodeResult) image.Image {
	target := request.Size()
	if target.IsEmpty() {
		return img
	}
	precision := request.PrecisionDecider().Get(imageSize.Width, imageSize.Height, target.Width, target.Height)
	scale := request.Scale()
	result.Resize = core.Resize{Size: target, Precision: precision, Scale: scale}

	if precision == core.PrecisionLessPixels {
		sampleSize := core.CalculateSampleSize(imageSize, target)
		if sampleSize <= 1 {
			return img
		}
		dst := core.SampledSize(imageSize, sampleSize)
		result.AddTransformed(core.InSampledTransformed(sampleSize))
		return scaleTo(img, img.Bounds(), dst)
	}

	mapping := core.CalculateResizeMapping(imageSize, target, precision, scale)
	src := mapping.SrcRect.Add(img.Bounds().Min)
	if src == img.Bounds() && mapping.DstSize == imageSize {
		return img
	}
	result.AddTransformed(core.ResizeTransformed(result.Resize))
	return scaleTo(img, src, mapping.DstSize)
}

func scaleTo(img image.Image, src image.Rectangle, dst core.Size) image.Image {
	out := image.NewNRGBA(image.Rect(0, 0, dst.Width, dst.Height))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), img, src, xdraw.Src, nil)
	return out
}

// ApplyOrientation rotates and flips img so that an image tagged with the EXIF
// orientation o displays upright.  Values outside 2-8 return img unchanged.
func ApplyOrientation(img image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// ColorTypeOf names the pixel layout of img, or ColorTypeDefault for layouts
// ConvertColorType cannot produce.
func ColorTypeOf(img image.Image) core.ColorType {
	switch img.(type) {
	case *image.RGBA:
		return core.ColorTypeRGBA
	case *image.NRGBA:
		return core.ColorTypeNRGBA
	case *image.Gray:
		return core.ColorTypeGray
	}
	return core.ColorTypeDefault
}

// ConvertColorType redraws img in the requested pixel layout.
func ConvertColorType(img image.Image, ct core.ColorType) image.Image {
	var dst draw.Image
	switch ct {
	case core.ColorTypeRGBA:
		if _, ok := img.(*image.RGBA); ok {
			return img
		}
		dst = image.NewRGBA(img.Bounds())
	case core.ColorTypeNRGBA:
		if _, ok := img.(*image.NRGBA); ok {
			return img
		}
		dst = image.NewNRGBA(img.Bounds())
	case core.ColorTypeGray:
		if _, ok := img.(*image.Gray); ok {
			return img
		}
		dst = image.NewGray(img.Bounds())
	default:
		return img
	}
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}
