package core

import (
	"fmt"
	"image"
)

// Size is a target or intrinsic pixel size.  A zero dimension means "unspecified".
type Size struct {
	Width  int
	Height int
}

// IsEmpty reports whether either dimension is unspecified.
func (s Size) IsEmpty() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Precision controls how a source image is fitted to the target size.
type Precision string

const (
	// PrecisionExactly produces exactly the target size.
	PrecisionExactly Precision = "EXACTLY"
	// PrecisionSameAspectRatio produces the target aspect ratio, no larger than the target.
	PrecisionSameAspectRatio Precision = "SAME_ASPECT_RATIO"
	// PrecisionLessPixels keeps the source aspect ratio with at most target-size pixels.
	PrecisionLessPixels Precision = "LESS_PIXELS"
)

// PrecisionKeepAspectRatio is an alias of PrecisionSameAspectRatio.
const PrecisionKeepAspectRatio = PrecisionSameAspectRatio

// Scale anchors the crop region when the source and target aspect ratios differ.
type Scale string

const (
	ScaleStartCrop  Scale = "START_CROP"
	ScaleCenterCrop Scale = "CENTER_CROP"
	ScaleEndCrop    Scale = "END_CROP"
	// ScaleFill stretches the whole source into the target without cropping.
	ScaleFill Scale = "FILL"
)

// CachePolicy controls reads and writes of one cache tier.
type CachePolicy string

const (
	CachePolicyEnabled   CachePolicy = "ENABLED"
	CachePolicyDisabled  CachePolicy = "DISABLED"
	CachePolicyReadOnly  CachePolicy = "READ_ONLY"
	CachePolicyWriteOnly CachePolicy = "WRITE_ONLY"
)

// ReadEnabled reports whether the policy permits cache reads.
func (p CachePolicy) ReadEnabled() bool {
	return p == CachePolicyEnabled || p == CachePolicyReadOnly
}

// WriteEnabled reports whether the policy permits cache writes.
func (p CachePolicy) WriteEnabled() bool {
	return p == CachePolicyEnabled || p == CachePolicyWriteOnly
}

// Depth limits how far down the tiers a request may go to find its image.
type Depth string

const (
	DepthNetwork Depth = "NETWORK"
	DepthLocal   Depth = "LOCAL"
	DepthMemory  Depth = "MEMORY"
)

// DataFrom identifies the tier the bytes of a result originated from.
type DataFrom string

const (
	DataFromNetwork       DataFrom = "NETWORK"
	DataFromDownloadCache DataFrom = "DOWNLOAD_CACHE"
	DataFromLocal         DataFrom = "LOCAL"
	DataFromMemory        DataFrom = "MEMORY"
	DataFromMemoryCache   DataFrom = "MEMORY_CACHE"
	DataFromResultCache   DataFrom = "RESULT_CACHE"
)

// ColorType is the pixel layout requested for decoded bitmaps.
type ColorType string

const (
	// ColorTypeDefault keeps whatever layout the codec produced.
	ColorTypeDefault ColorType = ""
	ColorTypeRGBA    ColorType = "RGBA"
	ColorTypeNRGBA   ColorType = "NRGBA"
	ColorTypeGray    ColorType = "GRAY"
)

// ImageInfo holds the intrinsic properties of a source image.
type ImageInfo struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MimeType string `json:"mimeType"`
	// EXIF orientation tag (1-8); 0 when absent.
	ExifOrientation int `json:"exifOrientation"`
}

// Size returns the intrinsic size.
func (i ImageInfo) Size() Size { return Size{Width: i.Width, Height: i.Height} }

func (i ImageInfo) String() string {
	return fmt.Sprintf("ImageInfo(%dx%d,%s,%d)", i.Width, i.Height, i.MimeType, i.ExifOrientation)
}

// Resize is the resize decision actually applied for one decode.
type Resize struct {
	Size      Size      `json:"size"`
	Precision Precision `json:"precision"`
	Scale     Scale     `json:"scale"`
}

// Key is the canonical form used in transformation tags and cache keys.
func (r Resize) Key() string {
	return fmt.Sprintf("Resize(%s,%s,%s)", r.Size, r.Precision, r.Scale)
}

// ── Images ────────────────────────────────────────────────────────────────────

// Image is a decoded, displayable picture.
type Image interface {
	Width() int
	Height() int
	// ByteCount is the approximate memory footprint, used as memory-cache weight.
	ByteCount() int64
	// Cacheable reports whether the image may be kept in the memory cache.
	Cacheable() bool
}

// BitmapImage is an Image backed by an in-memory image.Image.
type BitmapImage struct {
	Bitmap image.Image
}

// NewBitmapImage wraps img.
func NewBitmapImage(img image.Image) *BitmapImage { return &BitmapImage{Bitmap: img} }

func (b *BitmapImage) Width() int  { return b.Bitmap.Bounds().Dx() }
func (b *BitmapImage) Height() int { return b.Bitmap.Bounds().Dy() }
func (b *BitmapImage) Cacheable() bool {
	return true
}

func (b *BitmapImage) ByteCount() int64 {
	return int64(b.Width()) * int64(b.Height()) * bytesPerPixel(b.Bitmap)
}

func (b *BitmapImage) String() string {
	return fmt.Sprintf("BitmapImage(%dx%d,%T)", b.Width(), b.Height(), b.Bitmap)
}

// AsBitmap returns the image.Image behind img when it is a BitmapImage.
func AsBitmap(img Image) (image.Image, bool) {
	if b, ok := img.(*BitmapImage); ok && b != nil && b.Bitmap != nil {
		return b.Bitmap, true
	}
	return nil, false
}

func bytesPerPixel(img image.Image) int64 {
	switch img.(type) {
	case *image.Gray, *image.Alpha, *image.Paletted:
		return 1
	case *image.Gray16, *image.Alpha16:
		return 2
	case *image.RGBA64, *image.NRGBA64:
		return 8
	case *image.YCbCr:
		return 2
	default:
		return 4
	}
}
