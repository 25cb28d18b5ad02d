package encoder

import (
	"context"
	"image"
	"image/jpeg"

	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// JPEG encodes images to JPEG format.  Alpha is discarded.
type JPEG struct {
	Quality int
}

func NewJPEG(quality int) *JPEG {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &JPEG{Quality: quality}
}

func (j *JPEG) MimeType() string { return utils.MimeTypeJPEG }

func (j *JPEG) Encode(ctx context.Context, img image.Image) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "jpeg.encode", apperrors.ErrEmptyInput)
	}

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: j.Quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	return utils.CloneBytes(buf.Bytes()), nil
}
