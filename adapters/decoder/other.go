package decoder

import (
	"image/gif"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Skryldev/sketch/utils"
)

func init() {
	registerCodec(codec{mimeType: utils.MimeTypeGIF, decode: gif.Decode, decodeConfig: gif.DecodeConfig})
	registerCodec(codec{mimeType: utils.MimeTypeBMP, decode: bmp.Decode, decodeConfig: bmp.DecodeConfig})
	registerCodec(codec{mimeType: utils.MimeTypeTIFF, decode: tiff.Decode, decodeConfig: tiff.DecodeConfig})
}
