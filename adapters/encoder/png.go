// Package encoder serialises decoded bitmaps for the result cache.
package encoder

import (
	"context"
	"image"
	"image/png"

	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// Encoder turns a bitmap into bytes of a single format.
type Encoder interface {
	MimeType() string
	Encode(ctx context.Context, img image.Image) ([]byte, error)
}

// PNG encodes images to PNG format.  It is lossless and keeps alpha.
type PNG struct {
	CompressionLevel png.CompressionLevel
}

func NewPNG() *PNG { return &PNG{CompressionLevel: png.BestSpeed} }

func (p *PNG) MimeType() string { return utils.MimeTypePNG }

func (p *PNG) Encode(ctx context.Context, img image.Image) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "png.encode", apperrors.ErrEmptyInput)
	}

	enc := &png.Encoder{CompressionLevel: p.CompressionLevel}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := enc.Encode(buf, img); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

// ForMimeType returns the encoder for a result-cache format name or MIME type.
func ForMimeType(mimeType string, quality int) Encoder {
	switch mimeType {
	case utils.MimeTypeJPEG, "jpeg", "jpg":
		return NewJPEG(quality)
	}
	return NewPNG()
}
