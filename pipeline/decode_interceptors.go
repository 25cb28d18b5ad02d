package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/Skryldev/sketch/adapters/decoder"
	"github.com/Skryldev/sketch/adapters/encoder"
	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// ResultCacheableExtra set to "false" on a DecodeResult keeps it out of the
// result cache.
const ResultCacheableExtra = "resultCacheable"

// ── Result cache ──────────────────────────────────────────────────────────────

// ResultCacheDecodeInterceptor serves decode results from the result cache,
// skipping fetch, decode and transformations, and persists eligible results.
type ResultCacheDecodeInterceptor struct {
	Encoder encoder.Encoder
}

// NewResultCacheDecodeInterceptor stores results with enc; nil means PNG.
func NewResultCacheDecodeInterceptor(enc encoder.Encoder) *ResultCacheDecodeInterceptor {
	if enc == nil {
		enc = encoder.NewPNG()
	}
	return &ResultCacheDecodeInterceptor{Encoder: enc}
}

func (*ResultCacheDecodeInterceptor) Key() string     { return "ResultCache" }
func (*ResultCacheDecodeInterceptor) SortWeight() int { return ResultCacheWeight }

// resultMetadata is the JSON stored next to the encoded pixels.
type resultMetadata struct {
	ImageInfo    core.ImageInfo    `json:"imageInfo"`
	Resize       core.Resize       `json:"resize"`
	Transformeds []string          `json:"transformeds"`
	Extras       map[string]string `json:"extras,omitempty"`
	MimeType     string            `json:"mimeType"`
	// Pixel layout of the stored result; the encoded form may decode into
	// another one.
	ColorType core.ColorType `json:"colorType,omitempty"`
}

func (i *ResultCacheDecodeInterceptor) Intercept(ctx context.Context, chain core.DecodeChain) (*core.DecodeResult, error) {
	engine := chain.Engine()
	cache := engine.ResultCache()
	policy := chain.Request().ResultCachePolicy()
	if cache == nil || policy == core.CachePolicyDisabled {
		return chain.Proceed(ctx)
	}
	rc := chain.RequestContext()
	cacheKey := rc.CacheKey()

	if policy.ReadEnabled() {
		result, err := i.read(ctx, engine, cache, cacheKey, chain.Request().ColorType())
		switch {
		case err == nil:
			engine.Logger().Debug("result cache hit", "request_id", rc.ID(), "cache_key", cacheKey)
			return result, nil
		case apperrors.IsCancelled(err):
			return nil, err
		case !isCacheMiss(err):
			engine.Logger().Warn("result cache entry unreadable, removing",
				"cache_key", cacheKey,
				"error", err.Error(),
			)
			_ = cache.Remove(ctx, cacheKey)
		}
	}

	result, err := chain.Proceed(ctx)
	if err != nil {
		return nil, err
	}

	if policy.WriteEnabled() && ctx.Err() == nil && i.eligible(engine, rc, result) {
		if err := i.write(ctx, cache, cacheKey, result); err != nil && !apperrors.IsCancelled(err) {
			engine.Logger().Warn("result cache write failed",
				"cache_key", cacheKey,
				"error", err.Error(),
			)
		}
	}
	return result, nil
}

func (i *ResultCacheDecodeInterceptor) eligible(engine core.Engine, rc *core.RequestContext, result *core.DecodeResult) bool {
	eligibility := engine.ResultCacheEligibility()
	if eligibility == nil {
		eligibility = DefaultResultCacheEligibility{}
	}
	return eligibility.Eligible(rc, result)
}

func (i *ResultCacheDecodeInterceptor) read(ctx context.Context, engine core.Engine, cache core.DiskCache, key string, ct core.ColorType) (*core.DecodeResult, error) {
	snap, err := cache.OpenSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	metaR, err := snap.Metadata()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "result_cache.metadata", err)
	}
	var meta resultMetadata
	err = json.NewDecoder(metaR).Decode(&meta)
	metaR.Close()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "result_cache.metadata", err)
	}

	dataR, err := snap.Data()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "result_cache.data", err)
	}
	defer dataR.Close()
	buf, err := utils.DrainReader(ctx, dataR, 0, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "result_cache.data", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	if ct == core.ColorTypeDefault {
		ct = meta.ColorType
	}
	img, err := core.Dispatch(ctx, engine.DecodeDispatcher(), func(ctx context.Context) (image.Image, error) {
		img, err := decodeStored(meta.MimeType, raw)
		if err != nil {
			return nil, err
		}
		return decoder.ConvertColorType(img, ct), nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "result_cache.decode", err)
	}
	return &core.DecodeResult{
		Image:        core.NewBitmapImage(img),
		ImageInfo:    meta.ImageInfo,
		DataFrom:     core.DataFromResultCache,
		Resize:       meta.Resize,
		Transformeds: meta.Transformeds,
		Extras:       meta.Extras,
	}, nil
}

func decodeStored(mimeType string, raw []byte) (image.Image, error) {
	switch mimeType {
	case utils.MimeTypeJPEG:
		return jpeg.Decode(bytes.NewReader(raw))
	case utils.MimeTypePNG, "":
		return png.Decode(bytes.NewReader(raw))
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mimeType)
}

func (i *ResultCacheDecodeInterceptor) write(ctx context.Context, cache core.DiskCache, key string, result *core.DecodeResult) error {
	bitmap, ok := core.AsBitmap(result.Image)
	if !ok {
		return nil
	}
	encoded, err := i.Encoder.Encode(ctx, bitmap)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(resultMetadata{
		ImageInfo:    result.ImageInfo,
		Resize:       result.Resize,
		Transformeds: result.Transformeds,
		Extras:       result.Extras,
		MimeType:     i.Encoder.MimeType(),
		ColorType:    decoder.ColorTypeOf(bitmap),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "result_cache.metadata", err)
	}

	editor, err := cache.Edit(ctx, key)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "result_cache.edit", err)
	}
	if err := writeEntry(editor, encoded, metaJSON); err != nil {
		_ = editor.Abort()
		return apperrors.Wrap(apperrors.CategoryCache, "result_cache.write", err)
	}
	if err := ctx.Err(); err != nil {
		_ = editor.Abort()
		return apperrors.Cancelled("result_cache.write", err)
	}
	return editor.Commit()
}

func writeEntry(editor core.DiskEditor, data, metadata []byte) error {
	w, err := editor.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	mw, err := editor.Metadata()
	if err != nil {
		return err
	}
	_, err = mw.Write(metadata)
	return err
}

func isCacheMiss(err error) bool { return errors.Is(err, apperrors.ErrCacheMiss) }

// DefaultResultCacheEligibility admits bitmap results that were resized or
// transformed, unless the decoder set the resultCacheable extra to "false".
type DefaultResultCacheEligibility struct{}

func (DefaultResultCacheEligibility) Eligible(_ *core.RequestContext, result *core.DecodeResult) bool {
	if result == nil || len(result.Transformeds) == 0 {
		return false
	}
	if _, ok := core.AsBitmap(result.Image); !ok {
		return false
	}
	return result.Extras[ResultCacheableExtra] != "false"
}

// ── Transformations ───────────────────────────────────────────────────────────

// TransformationDecodeInterceptor applies the request's transformations, in
// order, to the result produced downstream.
type TransformationDecodeInterceptor struct{}

func (*TransformationDecodeInterceptor) Key() string     { return "Transformation" }
func (*TransformationDecodeInterceptor) SortWeight() int { return TransformationWeight }

func (i *TransformationDecodeInterceptor) Intercept(ctx context.Context, chain core.DecodeChain) (*core.DecodeResult, error) {
	result, err := chain.Proceed(ctx)
	if err != nil {
		return nil, err
	}
	transformations := chain.Request().Transformations()
	if len(transformations) == 0 {
		return result, nil
	}

	rc := chain.RequestContext()
	return core.Dispatch(ctx, chain.Engine().DecodeDispatcher(), func(ctx context.Context) (*core.DecodeResult, error) {
		img := result.Image
		var tags []string
		for _, t := range transformations {
			tr, err := t.Transform(ctx, rc, img)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CategoryTransformation, t.Key(), err)
			}
			if tr == nil {
				continue
			}
			img = tr.Image
			tags = append(tags, tr.Transformed)
		}
		if len(tags) == 0 {
			return result, nil
		}
		out := result.WithImage(img)
		for _, tag := range tags {
			out.AddTransformed(tag)
		}
		return out, nil
	})
}

// ── Engine decode ─────────────────────────────────────────────────────────────

// EngineDecodeInterceptor is the terminal decode interceptor.  It fetches on
// the network dispatcher when nothing upstream did, then decodes on the decode
// dispatcher with the first decoder the registry resolves.
type EngineDecodeInterceptor struct{}

func (*EngineDecodeInterceptor) Key() string     { return "EngineDecode" }
func (*EngineDecodeInterceptor) SortWeight() int { return EngineDecodeWeight }

func (i *EngineDecodeInterceptor) Intercept(ctx context.Context, chain core.DecodeChain) (*core.DecodeResult, error) {
	engine := chain.Engine()
	rc := chain.RequestContext()
	registry := engine.Components()

	fetchResult := chain.FetchResult()
	if fetchResult == nil {
		fetcher, err := registry.NewFetcher(engine, rc.Request())
		if err != nil {
			return nil, err
		}
		fetchResult, err = core.Dispatch(ctx, engine.NetworkDispatcher(), fetcher.Fetch)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryFetch, "engine_decode.fetch", err)
		}
	}

	decoder, err := registry.NewDecoder(engine, rc, fetchResult)
	if err != nil {
		return nil, err
	}
	result, err := core.Dispatch(ctx, engine.DecodeDispatcher(), decoder.Decode)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "engine_decode.decode", err)
	}
	if result.DataFrom == "" {
		result.DataFrom = fetchResult.DataFrom()
	}
	return result, nil
}
