package transform_test

import (
	"context"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/transform"
)

func solid(w, h int, c color.NRGBA) *core.BitmapImage {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return core.NewBitmapImage(img)
}

func bitmapOf(t *testing.T, img core.Image) image.Image {
	t.Helper()
	b, ok := core.AsBitmap(img)
	require.True(t, ok)
	return b
}

func alphaAt(img image.Image, x, y int) uint8 {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A
}

var red = color.NRGBA{R: 255, A: 255}

// notBitmap is an Image without pixels the transformations can read.
type notBitmap struct{}

func (notBitmap) Width() int       { return 1 }
func (notBitmap) Height() int      { return 1 }
func (notBitmap) ByteCount() int64 { return 0 }
func (notBitmap) Cacheable() bool  { return false }

func TestCircleCrop(t *testing.T) {
	tr := transform.NewCircleCrop(core.ScaleCenterCrop)
	assert.Equal(t, "CircleCropTransformation(CENTER_CROP)", tr.Key())

	res, err := tr.Transform(context.Background(), nil, solid(40, 20, red))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "CircleCropTransformed(CENTER_CROP)", res.Transformed)

	out := bitmapOf(t, res.Image)
	assert.Equal(t, 20, out.Bounds().Dx())
	assert.Equal(t, 20, out.Bounds().Dy())
	assert.Equal(t, uint8(0), alphaAt(out, 0, 0))
	assert.Equal(t, uint8(255), alphaAt(out, 10, 10))
}

func TestCircleCrop_FillDefaultsToCenter(t *testing.T) {
	assert.Equal(t, core.ScaleCenterCrop, transform.NewCircleCrop(core.ScaleFill).Scale)
	assert.Equal(t, core.ScaleCenterCrop, transform.NewCircleCrop("").Scale)
}

func TestRoundedCorners(t *testing.T) {
	tr := transform.NewRoundedCorners(5)
	assert.Equal(t, "RoundedCornersTransformation(5,5,5,5)", tr.Key())

	res, err := tr.Transform(context.Background(), nil, solid(20, 20, red))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "RoundedCornersTransformed(5,5,5,5)", res.Transformed)

	out := bitmapOf(t, res.Image)
	assert.Equal(t, uint8(0), alphaAt(out, 0, 0))
	assert.Equal(t, uint8(0), alphaAt(out, 19, 19))
	assert.Equal(t, uint8(255), alphaAt(out, 10, 10))
	assert.Equal(t, uint8(255), alphaAt(out, 10, 0))
}

func TestRoundedCorners_ZeroRadiusDeclines(t *testing.T) {
	res, err := transform.NewRoundedCorners(0).Transform(context.Background(), nil, solid(4, 4, red))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRotate(t *testing.T) {
	tests := []struct {
		degrees    int
		wantW      int
		wantH      int
		wantTag    string
		wantResult bool
	}{
		{degrees: 90, wantW: 10, wantH: 30, wantTag: "RotateTransformed(90)", wantResult: true},
		{degrees: 180, wantW: 30, wantH: 10, wantTag: "RotateTransformed(180)", wantResult: true},
		{degrees: -90, wantW: 10, wantH: 30, wantTag: "RotateTransformed(270)", wantResult: true},
		{degrees: 360, wantResult: false},
		{degrees: 0, wantResult: false},
	}
	for _, tt := range tests {
		tr := &transform.Rotate{Degrees: tt.degrees}
		res, err := tr.Transform(context.Background(), nil, solid(30, 10, red))
		require.NoError(t, err)
		if !tt.wantResult {
			assert.Nil(t, res, "degrees=%d", tt.degrees)
			continue
		}
		require.NotNil(t, res, "degrees=%d", tt.degrees)
		assert.Equal(t, tt.wantTag, res.Transformed)
		assert.Equal(t, tt.wantW, res.Image.Width())
		assert.Equal(t, tt.wantH, res.Image.Height())
	}
}

func TestBlur(t *testing.T) {
	mask := color.NRGBA{A: 0x80}
	tr := &transform.Blur{Radius: 2, MaskColor: &mask}
	assert.Equal(t, "BlurTransformation(2,#00000080)", tr.Key())

	res, err := tr.Transform(context.Background(), nil, solid(10, 10, red))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "BlurTransformed(2,#00000080)", res.Transformed)
	assert.Equal(t, 10, res.Image.Width())

	res, err = (&transform.Blur{}).Transform(context.Background(), nil, solid(10, 10, red))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestGrayscale(t *testing.T) {
	tr := &transform.Grayscale{}
	res, err := tr.Transform(context.Background(), nil, solid(4, 4, red))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "GrayscaleTransformed", res.Transformed)

	c := color.NRGBAModel.Convert(bitmapOf(t, res.Image).At(1, 1)).(color.NRGBA)
	assert.Equal(t, c.R, c.G)
	assert.Equal(t, c.G, c.B)

	gray := core.NewBitmapImage(image.NewGray(image.Rect(0, 0, 2, 2)))
	res, err = tr.Transform(context.Background(), nil, gray)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMask(t *testing.T) {
	tr, err := transform.NewMask("#FF000080")
	require.NoError(t, err)
	assert.Equal(t, "MaskTransformation(#ff000080)", tr.Key())

	white := solid(4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	res, err := tr.Transform(context.Background(), nil, white)
	require.NoError(t, err)
	require.NotNil(t, res)

	c := color.NRGBAModel.Convert(bitmapOf(t, res.Image).At(0, 0)).(color.NRGBA)
	assert.Equal(t, uint8(255), c.R)
	assert.Less(t, c.G, uint8(200))

	// The input is left untouched.
	orig := color.NRGBAModel.Convert(bitmapOf(t, white).At(0, 0)).(color.NRGBA)
	assert.Equal(t, uint8(255), orig.G)

	_, err = transform.NewMask("not-a-colour")
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryInput))
}

func TestWatermark(t *testing.T) {
	mark := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			mark.SetNRGBA(x, y, color.NRGBA{B: 255, A: 255})
		}
	}
	tr := &transform.Watermark{Name: "logo", Image: mark, Offset: image.Pt(3, 3)}
	assert.Regexp(t, `^WatermarkTransformation\(logo,[0-9a-f]{16},3,3\)$`, tr.Key())

	res, err := tr.Transform(context.Background(), nil, solid(6, 6, red))
	require.NoError(t, err)
	require.NotNil(t, res)
	out := bitmapOf(t, res.Image)
	r, _, b, _ := out.At(4, 4).RGBA()
	assert.Zero(t, r)
	assert.NotZero(t, b)
	r, _, _, _ = out.At(0, 0).RGBA()
	assert.NotZero(t, r)
}

func TestWatermark_KeyFollowsPixels(t *testing.T) {
	blue := solid(2, 2, color.NRGBA{B: 255, A: 255})
	green := solid(2, 2, color.NRGBA{G: 255, A: 255})

	a := &transform.Watermark{Name: "logo", Image: blue.Bitmap}
	sameName := &transform.Watermark{Name: "logo", Image: green.Bitmap}
	samePixels := &transform.Watermark{Name: "logo", Image: solid(2, 2, color.NRGBA{B: 255, A: 255}).Bitmap}

	assert.NotEqual(t, a.Key(), sameName.Key())
	assert.Equal(t, a.Key(), samePixels.Key())

	res, err := a.Transform(context.Background(), nil, solid(4, 4, red))
	require.NoError(t, err)
	assert.Contains(t, a.Key(), strings.TrimPrefix(strings.TrimSuffix(res.Transformed, ")"), "WatermarkTransformed("))

	// Bounds take part in the digest.
	wide := &transform.Watermark{Name: "logo", Image: solid(4, 1, color.NRGBA{B: 255, A: 255}).Bitmap}
	assert.NotEqual(t, a.Key(), wide.Key())
}

func TestTransform_DeclinesNonBitmap(t *testing.T) {
	transformations := []core.Transformation{
		transform.NewCircleCrop(core.ScaleCenterCrop),
		transform.NewRoundedCorners(3),
		&transform.Rotate{Degrees: 90},
		&transform.Blur{Radius: 1},
		&transform.Grayscale{},
	}
	for _, tr := range transformations {
		res, err := tr.Transform(context.Background(), nil, notBitmap{})
		require.NoError(t, err, tr.Key())
		assert.Nil(t, res, tr.Key())
	}
}

func TestTransform_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&transform.Grayscale{}).Transform(ctx, nil, solid(2, 2, red))
	assert.True(t, apperrors.IsCancelled(err))
}
