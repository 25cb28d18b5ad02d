package core

import (
	"fmt"
	"image"
	"math"
)

// ── Precision deciders ────────────────────────────────────────────────────────

// PrecisionDecider picks the Precision for one decode from the intrinsic image
// size and the requested size.  Key must identify the decider's behaviour; it is
// part of the cache key.
type PrecisionDecider interface {
	Key() string
	Get(imageWidth, imageHeight, resizeWidth, resizeHeight int) Precision
}

// FixedPrecisionDecider always returns the same Precision.
type FixedPrecisionDecider Precision

func (d FixedPrecisionDecider) Key() string { return fmt.Sprintf("Fixed(%s)", Precision(d)) }

func (d FixedPrecisionDecider) Get(_, _, _, _ int) Precision { return Precision(d) }

// DefaultLongImageRatio is the aspect-ratio multiple above which an image is long.
const DefaultLongImageRatio = 2.5

// LongImagePrecisionDecider clips long images (panoramas, screenshots) to the
// target aspect ratio and keeps every other image whole.
type LongImagePrecisionDecider struct {
	LongImage  Precision
	OtherImage Precision
	MinRatio   float64
}

// NewLongImagePrecisionDecider uses SAME_ASPECT_RATIO for long images and
// LESS_PIXELS otherwise.
func NewLongImagePrecisionDecider() *LongImagePrecisionDecider {
	return &LongImagePrecisionDecider{
		LongImage:  PrecisionSameAspectRatio,
		OtherImage: PrecisionLessPixels,
		MinRatio:   DefaultLongImageRatio,
	}
}

func (d *LongImagePrecisionDecider) Key() string {
	return fmt.Sprintf("LongImageClip(%s,%s,%g)", d.LongImage, d.OtherImage, d.minRatio())
}

func (d *LongImagePrecisionDecider) Get(imageWidth, imageHeight, resizeWidth, resizeHeight int) Precision {
	if IsLongImage(imageWidth, imageHeight, resizeWidth, resizeHeight, d.minRatio()) {
		return d.LongImage
	}
	return d.OtherImage
}

func (d *LongImagePrecisionDecider) minRatio() float64 {
	if d.MinRatio <= 0 {
		return DefaultLongImageRatio
	}
	return d.MinRatio
}

// IsLongImage reports whether the image and target aspect ratios differ by at
// least minRatio.
func IsLongImage(imageWidth, imageHeight, targetWidth, targetHeight int, minRatio float64) bool {
	if imageWidth <= 0 || imageHeight <= 0 || targetWidth <= 0 || targetHeight <= 0 {
		return false
	}
	a := float64(imageWidth) / float64(imageHeight)
	b := float64(targetWidth) / float64(targetHeight)
	return math.Max(a, b)/math.Min(a, b) >= minRatio
}

// ── Sampling ──────────────────────────────────────────────────────────────────

// LessPixelsTolerance lets a sampled image exceed the target pixel count by 10%.
const LessPixelsTolerance = 1.1

// CalculateSampleSize returns the smallest power-of-two factor s such that the
// image sampled by s has at most target*LessPixelsTolerance pixels.
func CalculateSampleSize(imageSize, targetSize Size) int {
	if imageSize.IsEmpty() || targetSize.IsEmpty() {
		return 1
	}
	limit := float64(targetSize.Width) * float64(targetSize.Height) * LessPixelsTolerance
	s := 1
	for {
		sampled := SampledSize(imageSize, s)
		if float64(sampled.Width)*float64(sampled.Height) <= limit {
			return s
		}
		if sampled.Width == 1 && sampled.Height == 1 {
			return s
		}
		s *= 2
	}
}

// SampledSize is the size of an image decoded with the given sample factor.
func SampledSize(imageSize Size, sampleSize int) Size {
	if sampleSize <= 1 {
		return imageSize
	}
	return Size{
		Width:  int(math.Ceil(float64(imageSize.Width) / float64(sampleSize))),
		Height: int(math.Ceil(float64(imageSize.Height) / float64(sampleSize))),
	}
}

// ── Resize mapping ────────────────────────────────────────────────────────────

// ResizeMapping describes a crop of the source followed by a scale to DstSize.
type ResizeMapping struct {
	SrcRect image.Rectangle
	DstSize Size
}

func (m ResizeMapping) String() string {
	return fmt.Sprintf("ResizeMapping(src=%v,dst=%s)", m.SrcRect, m.DstSize)
}

// CalculateResizeMapping computes the crop and output size for EXACTLY and
// SAME_ASPECT_RATIO.  EXACTLY always outputs the target size.  SAME_ASPECT_RATIO
// outputs the target aspect ratio, never larger than the target nor the
// cropped source.  FILL uses the whole source and stretches it.
func CalculateResizeMapping(imageSize, targetSize Size, precision Precision, scale Scale) ResizeMapping {
	full := image.Rect(0, 0, imageSize.Width, imageSize.Height)
	if imageSize.IsEmpty() || targetSize.IsEmpty() {
		return ResizeMapping{SrcRect: full, DstSize: imageSize}
	}

	cropW, cropH := aspectCrop(imageSize, targetSize)

	var dst Size
	switch precision {
	case PrecisionExactly:
		dst = targetSize
	default:
		// Never upscale: fit the target ratio inside min(crop, target).
		ratio := math.Min(1, float64(cropW)/float64(targetSize.Width))
		dst = Size{
			Width:  maxInt(1, int(math.Round(float64(targetSize.Width)*ratio))),
			Height: maxInt(1, int(math.Round(float64(targetSize.Height)*ratio))),
		}
	}

	if scale == ScaleFill {
		return ResizeMapping{SrcRect: full, DstSize: dst}
	}

	var x, y int
	switch scale {
	case ScaleStartCrop:
		x, y = 0, 0
	case ScaleEndCrop:
		x, y = imageSize.Width-cropW, imageSize.Height-cropH
	default:
		x, y = (imageSize.Width-cropW)/2, (imageSize.Height-cropH)/2
	}
	return ResizeMapping{SrcRect: image.Rect(x, y, x+cropW, y+cropH), DstSize: dst}
}

// aspectCrop returns the largest region of the image with the target's aspect ratio.
func aspectCrop(imageSize, targetSize Size) (int, int) {
	imageRatio := float64(imageSize.Width) / float64(imageSize.Height)
	targetRatio := float64(targetSize.Width) / float64(targetSize.Height)
	if imageRatio > targetRatio {
		w := int(math.Round(float64(imageSize.Height) * targetRatio))
		return clampInt(w, 1, imageSize.Width), imageSize.Height
	}
	h := int(math.Round(float64(imageSize.Width) / targetRatio))
	return imageSize.Width, clampInt(h, 1, imageSize.Height)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ── Transformation tags ───────────────────────────────────────────────────────

// InSampledTransformed tags a decode that used a sample factor.
func InSampledTransformed(sampleSize int) string {
	return fmt.Sprintf("InSampledTransformed(%d)", sampleSize)
}

// ResizeTransformed tags a decode that was cropped or scaled by resize.
func ResizeTransformed(resize Resize) string {
	return fmt.Sprintf("ResizeTransformed(%s)", resize.Key())
}

// ExifOrientationTransformed tags a decode rotated or flipped by EXIF.
func ExifOrientationTransformed(orientation int) string {
	return fmt.Sprintf("ExifOrientationTransformed(%d)", orientation)
}
