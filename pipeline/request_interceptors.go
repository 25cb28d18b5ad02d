package pipeline

import (
	"context"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

// Built-in interceptor weights.  User interceptors may use any weight in
// [core.MinSortWeight, core.MaxSortWeight]; equal weights keep registration order.
const (
	MemoryCacheWeight    = 90
	PlaceholderWeight    = 95
	EngineWeight         = 100
	ResultCacheWeight    = 80
	TransformationWeight = 90
	EngineDecodeWeight   = 100
)

// BuiltinRegistry holds the built-in interceptors of both chains.
func BuiltinRegistry() *core.ComponentRegistry {
	return core.NewRegistryBuilder().
		AddRequestInterceptor(
			&MemoryCacheRequestInterceptor{},
			&PlaceholderRequestInterceptor{},
			&EngineRequestInterceptor{},
		).
		AddDecodeInterceptor(
			NewResultCacheDecodeInterceptor(nil),
			&TransformationDecodeInterceptor{},
			&EngineDecodeInterceptor{},
		).
		Build()
}

// ── Memory cache ──────────────────────────────────────────────────────────────

// MemoryCacheRequestInterceptor answers from the memory cache when the policy
// allows reads, and stores the final image on the way back when it allows
// writes.  Nothing is stored once the execution is cancelled.
type MemoryCacheRequestInterceptor struct{}

func (*MemoryCacheRequestInterceptor) Key() string     { return "MemoryCache" }
func (*MemoryCacheRequestInterceptor) SortWeight() int { return MemoryCacheWeight }

func (i *MemoryCacheRequestInterceptor) Intercept(ctx context.Context, chain core.RequestChain) (*core.ImageData, error) {
	engine := chain.Engine()
	request := chain.Request()
	cache := engine.MemoryCache()
	policy := request.MemoryCachePolicy()
	cacheKey := chain.RequestContext().CacheKey()

	if cache != nil && policy.ReadEnabled() {
		if v, ok := cache.Get(cacheKey); ok && v.Image != nil {
			engine.Logger().Debug("memory cache hit",
				"request_id", chain.RequestContext().ID(),
				"cache_key", cacheKey,
			)
			return &core.ImageData{
				Image:        v.Image,
				ImageInfo:    v.ImageInfo,
				DataFrom:     core.DataFromMemoryCache,
				Resize:       v.Resize,
				Transformeds: append([]string(nil), v.Transformeds...),
				Extras:       copyExtras(v.Extras),
			}, nil
		}
	}

	data, err := chain.Proceed(ctx, request)
	if err != nil {
		return nil, err
	}

	if cache != nil && policy.WriteEnabled() && ctx.Err() == nil &&
		data.Image != nil && data.Image.Cacheable() && data.DataFrom != core.DataFromMemoryCache {
		stored := cache.Put(cacheKey, &core.MemoryCacheValue{
			Image:        data.Image,
			ImageInfo:    data.ImageInfo,
			Resize:       data.Resize,
			Transformeds: append([]string(nil), data.Transformeds...),
			Extras:       copyExtras(data.Extras),
		}, data.Image.ByteCount())
		if !stored {
			engine.Logger().Debug("memory cache rejected entry",
				"cache_key", cacheKey,
				"bytes", data.Image.ByteCount(),
			)
		}
	}
	return data, nil
}

func copyExtras(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ── Placeholder ───────────────────────────────────────────────────────────────

// PlaceholderRequestInterceptor tells the target the load has started, with
// the placeholder image when one resolves synchronously.  It never
// short-circuits.
type PlaceholderRequestInterceptor struct{}

func (*PlaceholderRequestInterceptor) Key() string     { return "Placeholder" }
func (*PlaceholderRequestInterceptor) SortWeight() int { return PlaceholderWeight }

func (i *PlaceholderRequestInterceptor) Intercept(ctx context.Context, chain core.RequestChain) (*core.ImageData, error) {
	request := chain.Request()
	if target := request.Target(); target != nil {
		var placeholder core.Image
		if s := request.Placeholder(); s != nil {
			placeholder = s.GetImage(chain.Engine(), request, nil)
		}
		target.OnStart(request, placeholder)
	}
	return chain.Proceed(ctx, request)
}

// ── Engine ────────────────────────────────────────────────────────────────────

// EngineRequestInterceptor is the terminal request interceptor: it runs the
// decode chain and wraps its result.  A request limited to MEMORY depth stops
// here with a depth-restricted error.
type EngineRequestInterceptor struct{}

func (*EngineRequestInterceptor) Key() string     { return "Engine" }
func (*EngineRequestInterceptor) SortWeight() int { return EngineWeight }

func (i *EngineRequestInterceptor) Intercept(ctx context.Context, chain core.RequestChain) (*core.ImageData, error) {
	request := chain.Request()
	if request.Depth() == core.DepthMemory {
		return nil, apperrors.DepthRestricted("engine.intercept", request.DepthFrom())
	}
	result, err := ExecuteDecodeChain(ctx, chain.Engine(), chain.RequestContext(), nil)
	if err != nil {
		return nil, err
	}
	return core.ImageDataFrom(result), nil
}
