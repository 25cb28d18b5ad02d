// Package transform provides the built-in Transformations applied after decode.
package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// bitmapInput unwraps the input of a transformation.  ok is false when the
// input is not a bitmap, in which case the transformation declines.
func bitmapInput(ctx context.Context, op string, input core.Image) (image.Image, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperrors.Wrap(apperrors.CategoryTransformation, op, err)
	}
	if input == nil {
		return nil, false, apperrors.New(apperrors.CategoryTransformation, op, apperrors.ErrEmptyInput)
	}
	src, ok := core.AsBitmap(input)
	return src, ok, nil
}

func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func anchorOf(s core.Scale) imaging.Anchor {
	switch s {
	case core.ScaleStartCrop:
		return imaging.TopLeft
	case core.ScaleEndCrop:
		return imaging.BottomRight
	}
	return imaging.Center
}

// ── Circle crop ───────────────────────────────────────────────────────────────

// CircleCrop crops the largest square anchored by Scale and clears everything
// outside its inscribed circle.
type CircleCrop struct {
	Scale core.Scale
}

func NewCircleCrop(scale core.Scale) *CircleCrop {
	if scale == "" || scale == core.ScaleFill {
		scale = core.ScaleCenterCrop
	}
	return &CircleCrop{Scale: scale}
}

func (t *CircleCrop) Key() string { return fmt.Sprintf("CircleCropTransformation(%s)", t.Scale) }

func (t *CircleCrop) Transform(ctx context.Context, _ *core.RequestContext, input core.Image) (*core.TransformResult, error) {
	src, ok, err := bitmapInput(ctx, "circle_crop", input)
	if err != nil || !ok {
		return nil, err
	}
	b := src.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	square := imaging.CropAnchor(src, side, side, anchorOf(t.Scale))

	dst := image.NewNRGBA(image.Rect(0, 0, side, side))
	draw.DrawMask(dst, dst.Bounds(), square, image.Point{}, &circleMask{size: side}, image.Point{}, draw.Over)
	return &core.TransformResult{
		Image:       core.NewBitmapImage(dst),
		Transformed: fmt.Sprintf("CircleCropTransformed(%s)", t.Scale),
	}, nil
}

type circleMask struct {
	size int
}

func (m *circleMask) ColorModel() color.Model { return color.AlphaModel }
func (m *circleMask) Bounds() image.Rectangle { return image.Rect(0, 0, m.size, m.size) }
func (m *circleMask) At(x, y int) color.Color {
	r := float64(m.size) / 2
	dx, dy := float64(x)+0.5-r, float64(y)+0.5-r
	if dx*dx+dy*dy <= r*r {
		return color.Alpha{A: 0xFF}
	}
	return color.Alpha{}
}

// ── Rounded corners ───────────────────────────────────────────────────────────

// RoundedCorners clears the corners outside the given radii, in the order
// top-left, top-right, bottom-right, bottom-left.
type RoundedCorners struct {
	Radii [4]float64
}

// NewRoundedCorners uses the same radius for every corner.
func NewRoundedCorners(radius float64) *RoundedCorners {
	return &RoundedCorners{Radii: [4]float64{radius, radius, radius, radius}}
}

func (t *RoundedCorners) Key() string {
	return fmt.Sprintf("RoundedCornersTransformation(%s)", t.radiiString())
}

func (t *RoundedCorners) radiiString() string {
	parts := make([]string, len(t.Radii))
	for i, r := range t.Radii {
		parts[i] = strconv.FormatFloat(r, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (t *RoundedCorners) Transform(ctx context.Context, _ *core.RequestContext, input core.Image) (*core.TransformResult, error) {
	src, ok, err := bitmapInput(ctx, "rounded_corners", input)
	if err != nil || !ok {
		return nil, err
	}
	if t.Radii == [4]float64{} {
		return nil, nil
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	mask := &roundedMask{w: b.Dx(), h: b.Dy(), radii: t.Radii}
	draw.DrawMask(dst, dst.Bounds(), src, b.Min, mask, image.Point{}, draw.Over)
	return &core.TransformResult{
		Image:       core.NewBitmapImage(dst),
		Transformed: fmt.Sprintf("RoundedCornersTransformed(%s)", t.radiiString()),
	}, nil
}

type roundedMask struct {
	w, h  int
	radii [4]float64
}

func (m *roundedMask) ColorModel() color.Model { return color.AlphaModel }
func (m *roundedMask) Bounds() image.Rectangle { return image.Rect(0, 0, m.w, m.h) }
func (m *roundedMask) At(x, y int) color.Color {
	px, py := float64(x)+0.5, float64(y)+0.5
	w, h := float64(m.w), float64(m.h)
	corners := [4]struct{ cx, cy float64 }{
		{m.radii[0], m.radii[0]},
		{w - m.radii[1], m.radii[1]},
		{w - m.radii[2], h - m.radii[2]},
		{m.radii[3], h - m.radii[3]},
	}
	for i, c := range corners {
		r := m.radii[i]
		if r <= 0 {
			continue
		}
		inX := (i == 0 || i == 3) && px < c.cx || (i == 1 || i == 2) && px > c.cx
		inY := (i == 0 || i == 1) && py < c.cy || (i == 2 || i == 3) && py > c.cy
		if inX && inY && math.Hypot(px-c.cx, py-c.cy) > r {
			return color.Alpha{}
		}
	}
	return color.Alpha{A: 0xFF}
}

// ── Rotate ────────────────────────────────────────────────────────────────────

// Rotate turns the image counter-clockwise by Degrees.  Multiples of 360
// decline.
type Rotate struct {
	Degrees int
}

func (t *Rotate) Key() string { return fmt.Sprintf("RotateTransformation(%d)", t.Degrees) }

func (t *Rotate) Transform(ctx context.Context, _ *core.RequestContext, input core.Image) (*core.TransformResult, error) {
	src, ok, err := bitmapInput(ctx, "rotate", input)
	if err != nil || !ok {
		return nil, err
	}
	deg := ((t.Degrees % 360) + 360) % 360
	if deg == 0 {
		return nil, nil
	}
	var dst *image.NRGBA
	switch deg {
	case 90:
		dst = imaging.Rotate90(src)
	case 180:
		dst = imaging.Rotate180(src)
	case 270:
		dst = imaging.Rotate270(src)
	default:
		dst = imaging.Rotate(src, float64(deg), color.Transparent)
	}
	return &core.TransformResult{
		Image:       core.NewBitmapImage(dst),
		Transformed: fmt.Sprintf("RotateTransformed(%d)", deg),
	}, nil
}

// ── Blur ──────────────────────────────────────────────────────────────────────

// Blur applies a gaussian blur and optionally paints MaskColor over the result.
type Blur struct {
	Radius    float64
	MaskColor *color.NRGBA
}

func (t *Blur) Key() string {
	return fmt.Sprintf("BlurTransformation(%s,%s)", strconv.FormatFloat(t.Radius, 'f', -1, 64), maskString(t.MaskColor))
}

func (t *Blur) Transform(ctx context.Context, _ *core.RequestContext, input core.Image) (*core.TransformResult, error) {
	src, ok, err := bitmapInput(ctx, "blur", input)
	if err != nil || !ok {
		return nil, err
	}
	if t.Radius <= 0 && t.MaskColor == nil {
		return nil, nil
	}
	var out image.Image = src
	if t.Radius > 0 {
		out = blur.Gaussian(src, t.Radius)
	}
	if t.MaskColor != nil {
		out = overlay(out, *t.MaskColor)
	}
	return &core.TransformResult{
		Image: core.NewBitmapImage(out),
		Transformed: fmt.Sprintf("BlurTransformed(%s,%s)",
			strconv.FormatFloat(t.Radius, 'f', -1, 64), maskString(t.MaskColor)),
	}, nil
}

func maskString(c *color.NRGBA) string {
	if c == nil {
		return "nil"
	}
	return utils.FormatColor(*c)
}

// ── Grayscale ─────────────────────────────────────────────────────────────────

// Grayscale converts the image to grayscale.  Gray input declines.
type Grayscale struct{}

func (t *Grayscale) Key() string { return "GrayscaleTransformation" }

func (t *Grayscale) Transform(ctx context.Context, _ *core.RequestContext, input core.Image) (*core.TransformResult, error) {
	src, ok, err := bitmapInput(ctx, "grayscale", input)
	if err != nil || !ok {
		return nil, err
	}
	if _, gray := src.(*image.Gray); gray {
		return nil, nil
	}
	return &core.TransformResult{
		Image:       core.NewBitmapImage(effect.Grayscale(src)),
		Transformed: "GrayscaleTransformed",
	}, nil
}

// ── Mask ──────────────────────────────────────────────────────────────────────

// Mask paints a translucent colour over the image.
type Mask struct {
	Color color.NRGBA
}

// NewMask parses a "#RRGGBBAA" colour.
func NewMask(hex string) (*Mask, error) {
	c, err := utils.ParseColor(hex)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "transform.NewMask", err)
	}
	return &Mask{Color: c}, nil
}

func (t *Mask) Key() string { return "MaskTransformation(" + utils.FormatColor(t.Color) + ")" }

func (t *Mask) Transform(ctx context.Context, _ *core.RequestContext, input core.Image) (*core.TransformResult, error) {
	src, ok, err := bitmapInput(ctx, "mask", input)
	if err != nil || !ok {
		return nil, err
	}
	if t.Color.A == 0 {
		return nil, nil
	}
	return &core.TransformResult{
		Image:       core.NewBitmapImage(overlay(src, t.Color)),
		Transformed: "MaskTransformed(" + utils.FormatColor(t.Color) + ")",
	}, nil
}

func overlay(src image.Image, c color.NRGBA) *image.NRGBA {
	dst := toNRGBA(src)
	if dst == src {
		dst = imaging.Clone(src)
	}
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Over)
	return dst
}

// ── Watermark ─────────────────────────────────────────────────────────────────

// Watermark composites Image onto the input at Offset.  Name is a readable
// label; keys and tags also carry a digest of the pixels, so two marks under
// one name never share a cache entry.  Image must not change after first use.
type Watermark struct {
	Name   string
	Image  image.Image
	Offset image.Point

	digestOnce sync.Once
	digest     string
}

func (t *Watermark) Key() string {
	return fmt.Sprintf("WatermarkTransformation(%s,%s,%d,%d)", t.Name, t.imageDigest(), t.Offset.X, t.Offset.Y)
}

func (t *Watermark) imageDigest() string {
	t.digestOnce.Do(func() { t.digest = pixelDigest(t.Image) })
	return t.digest
}

// pixelDigest hashes the bounds and non-premultiplied pixels of img.
func pixelDigest(img image.Image) string {
	if img == nil {
		return "none"
	}
	h := sha256.New()
	b := img.Bounds()
	fmt.Fprintf(h, "%d,%d,%d,%d;", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
	if n, ok := img.(*image.NRGBA); ok && n.Stride == 4*b.Dx() {
		h.Write(n.Pix)
	} else {
		px := make([]byte, 4)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
				h.Write(px)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (t *Watermark) Transform(ctx context.Context, _ *core.RequestContext, input core.Image) (*core.TransformResult, error) {
	src, ok, err := bitmapInput(ctx, "watermark", input)
	if err != nil || !ok {
		return nil, err
	}
	if t.Image == nil {
		return nil, nil
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	draw.Draw(dst, t.Image.Bounds().Sub(t.Image.Bounds().Min).Add(t.Offset), t.Image, t.Image.Bounds().Min, draw.Over)
	return &core.TransformResult{
		Image:       core.NewBitmapImage(dst),
		Transformed: fmt.Sprintf("WatermarkTransformed(%s,%s,%d,%d)", t.Name, t.imageDigest(), t.Offset.X, t.Offset.Y),
	}, nil
}
