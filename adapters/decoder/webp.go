package decoder

import (
	"golang.org/x/image/webp"

	"github.com/Skryldev/sketch/utils"
)

// NOTE: golang.org/x/image/webp decodes still images only; animated WebP
// yields its first frame.
func init() {
	registerCodec(codec{
		mimeType:     utils.MimeTypeWebP,
		decode:       webp.Decode,
		decodeConfig: webp.DecodeConfig,
	})
}
