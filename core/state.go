package core

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// StateImage supplies the placeholder, error or fallback image of a request.
// GetImage may return nil when nothing is available; err is the failure being
// reported, or nil for placeholders.
type StateImage interface {
	Key() string
	GetImage(engine Engine, request *ImageRequest, err error) Image
}

// ── Colour ────────────────────────────────────────────────────────────────────

// ColorStateImage paints a solid colour at the request size (1x1 when unsized).
type ColorStateImage struct {
	Color color.NRGBA
}

// NewColorStateImage parses a "#RRGGBB" or "#RRGGBBAA" colour.
func NewColorStateImage(hex string) (*ColorStateImage, error) {
	c, err := utils.ParseColor(hex)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "state.NewColorStateImage", err)
	}
	return &ColorStateImage{Color: c}, nil
}

func (s *ColorStateImage) Key() string { return "ColorStateImage(" + utils.FormatColor(s.Color) + ")" }

func (s *ColorStateImage) GetImage(_ Engine, request *ImageRequest, _ error) Image {
	size := request.Size()
	if size.IsEmpty() {
		size = Size{Width: 1, Height: 1}
	}
	img := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: s.Color}, image.Point{}, draw.Src)
	return &stateBitmap{BitmapImage: BitmapImage{Bitmap: img}}
}

// stateBitmap is never written to the memory cache.
type stateBitmap struct {
	BitmapImage
}

func (*stateBitmap) Cacheable() bool { return false }

// ── Fixed image ───────────────────────────────────────────────────────────────

// ImageStateImage always returns the same image.  Name identifies it in keys.
type ImageStateImage struct {
	Name  string
	Image Image
}

func (s *ImageStateImage) Key() string { return "ImageStateImage(" + s.Name + ")" }

func (s *ImageStateImage) GetImage(Engine, *ImageRequest, error) Image { return s.Image }

// ── Memory cache ──────────────────────────────────────────────────────────────

// MemoryCacheStateImage shows an image already in the memory cache, typically
// a thumbnail loaded earlier, and falls back to Default.
type MemoryCacheStateImage struct {
	CacheKey string
	Default  StateImage
}

func (s *MemoryCacheStateImage) Key() string {
	return fmt.Sprintf("MemoryCacheStateImage(%s,%s)", s.CacheKey, stateKey(s.Default))
}

func (s *MemoryCacheStateImage) GetImage(engine Engine, request *ImageRequest, err error) Image {
	if engine != nil && s.CacheKey != "" && request.MemoryCachePolicy().ReadEnabled() {
		if mc := engine.MemoryCache(); mc != nil {
			if v, ok := mc.Get(s.CacheKey); ok && v.Image != nil {
				return v.Image
			}
		}
	}
	if s.Default != nil {
		return s.Default.GetImage(engine, request, err)
	}
	return nil
}

// ── Error ─────────────────────────────────────────────────────────────────────

// ErrorStateImage picks UriInvalid for empty or malformed URIs, Default otherwise.
type ErrorStateImage struct {
	Default    StateImage
	UriInvalid StateImage
}

func (s *ErrorStateImage) Key() string {
	return fmt.Sprintf("ErrorStateImage(%s,%s)", stateKey(s.Default), stateKey(s.UriInvalid))
}

func (s *ErrorStateImage) GetImage(engine Engine, request *ImageRequest, err error) Image {
	if s.UriInvalid != nil && errors.Is(err, apperrors.ErrUriInvalid) {
		return s.UriInvalid.GetImage(engine, request, err)
	}
	if s.Default != nil {
		return s.Default.GetImage(engine, request, err)
	}
	return nil
}

func stateKey(s StateImage) string {
	if s == nil {
		return "nil"
	}
	return s.Key()
}
