// Package decoder provides the bitmap DecoderFactory: format-specific codecs
// plus the shared sampling, resize, EXIF and colour-type handling.
package decoder

import (
	"image/jpeg"

	"github.com/Skryldev/sketch/utils"
)

func init() {
	registerCodec(codec{
		mimeType:     utils.MimeTypeJPEG,
		decode:       jpeg.Decode,
		decodeConfig: jpeg.DecodeConfig,
		exif:         true,
	})
}
