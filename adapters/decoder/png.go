package decoder

import (
	"image/png"

	"github.com/Skryldev/sketch/utils"
)

func init() {
	registerCodec(codec{
		mimeType:     utils.MimeTypePNG,
		decode:       png.Decode,
		decodeConfig: png.DecodeConfig,
	})
}
