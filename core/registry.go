package core

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Skryldev/sketch/errors"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// ComponentRegistry is an immutable, ordered set of fetcher factories, decoder
// factories and interceptors.  Build one with NewRegistryBuilder; combine
// registries with Merge.  It is safe for concurrent use.
type ComponentRegistry struct {
	fetcherFactories    []FetcherFactory
	decoderFactories    []DecoderFactory
	requestInterceptors []RequestInterceptor
	decodeInterceptors  []DecodeInterceptor
}

func (r *ComponentRegistry) FetcherFactories() []FetcherFactory {
	return append([]FetcherFactory(nil), r.fetcherFactories...)
}

func (r *ComponentRegistry) DecoderFactories() []DecoderFactory {
	return append([]DecoderFactory(nil), r.decoderFactories...)
}

// RequestInterceptors returns the request interceptors in execution order.
func (r *ComponentRegistry) RequestInterceptors() []RequestInterceptor {
	return append([]RequestInterceptor(nil), r.requestInterceptors...)
}

// DecodeInterceptors returns the decode interceptors in execution order.
func (r *ComponentRegistry) DecodeInterceptors() []DecodeInterceptor {
	return append([]DecodeInterceptor(nil), r.decodeInterceptors...)
}

// IsEmpty reports whether the registry holds no component.
func (r *ComponentRegistry) IsEmpty() bool {
	return r == nil || len(r.fetcherFactories) == 0 && len(r.decoderFactories) == 0 &&
		len(r.requestInterceptors) == 0 && len(r.decodeInterceptors) == 0
}

// Merge returns a registry holding r's components followed by other's.
// Interceptors sharing a non-empty key keep only the first occurrence; the
// result is then stably sorted by weight.  Neither input is modified.
func (r *ComponentRegistry) Merge(other *ComponentRegistry) *ComponentRegistry {
	if other.IsEmpty() {
		return r
	}
	if r.IsEmpty() {
		return other
	}
	b := r.NewBuilder()
	b.fetcherFactories = append(b.fetcherFactories, other.fetcherFactories...)
	b.decoderFactories = append(b.decoderFactories, other.decoderFactories...)
	b.requestInterceptors = append(b.requestInterceptors, other.requestInterceptors...)
	b.decodeInterceptors = append(b.decodeInterceptors, other.decodeInterceptors...)
	return b.Build()
}

// NewBuilder returns a builder seeded with r's components.
func (r *ComponentRegistry) NewBuilder() *RegistryBuilder {
	b := NewRegistryBuilder()
	if r == nil {
		return b
	}
	b.fetcherFactories = append(b.fetcherFactories, r.fetcherFactories...)
	b.decoderFactories = append(b.decoderFactories, r.decoderFactories...)
	b.requestInterceptors = append(b.requestInterceptors, r.requestInterceptors...)
	b.decodeInterceptors = append(b.decodeInterceptors, r.decodeInterceptors...)
	return b
}

// ── Resolution ────────────────────────────────────────────────────────────────

// NewFetcher returns the first fetcher a factory produces for request.
func (r *ComponentRegistry) NewFetcher(engine Engine, request *ImageRequest) (Fetcher, error) {
	for _, f := range r.fetcherFactories {
		if fetcher := f.Create(engine, request); fetcher != nil {
			return fetcher, nil
		}
	}
	return nil, apperrors.New(apperrors.CategoryNoSuitableComponent, "registry.NewFetcher",
		fmt.Errorf("%w: uri=%q factories=%s", apperrors.ErrNoSuitableFetcher, request.URI(), r.fetcherKeys()))
}

// NewDecoder returns the first decoder a factory produces for the fetch result.
func (r *ComponentRegistry) NewDecoder(engine Engine, requestContext *RequestContext, fetchResult *FetchResult) (Decoder, error) {
	for _, f := range r.decoderFactories {
		if decoder := f.Create(engine, requestContext, fetchResult); decoder != nil {
			return decoder, nil
		}
	}
	mimeType := ""
	if fetchResult != nil {
		mimeType = fetchResult.MimeType
	}
	return nil, apperrors.New(apperrors.CategoryNoSuitableComponent, "registry.NewDecoder",
		fmt.Errorf("%w: uri=%q mimeType=%q factories=%s", apperrors.ErrNoSuitableDecoder,
			requestContext.Request().URI(), mimeType, r.decoderKeys()))
}

func (r *ComponentRegistry) fetcherKeys() string {
	keys := make([]string, len(r.fetcherFactories))
	for i, f := range r.fetcherFactories {
		keys[i] = f.Key()
	}
	return "[" + strings.Join(keys, ",") + "]"
}

func (r *ComponentRegistry) decoderKeys() string {
	keys := make([]string, len(r.decoderFactories))
	for i, f := range r.decoderFactories {
		keys[i] = f.Key()
	}
	return "[" + strings.Join(keys, ",") + "]"
}

func (r *ComponentRegistry) String() string {
	return fmt.Sprintf("ComponentRegistry(fetchers=%s,decoders=%s,requestInterceptors=%d,decodeInterceptors=%d)",
		r.fetcherKeys(), r.decoderKeys(), len(r.requestInterceptors), len(r.decodeInterceptors))
}

// ── Builder ───────────────────────────────────────────────────────────────────

// MinSortWeight and MaxSortWeight bound interceptor weights.
const (
	MinSortWeight = 0
	MaxSortWeight = 100
)

// RegistryBuilder accumulates components for a ComponentRegistry.
type RegistryBuilder struct {
	fetcherFactories    []FetcherFactory
	decoderFactories    []DecoderFactory
	requestInterceptors []RequestInterceptor
	decodeInterceptors  []DecodeInterceptor
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder { return &RegistryBuilder{} }

func (b *RegistryBuilder) AddFetcher(factories ...FetcherFactory) *RegistryBuilder {
	b.fetcherFactories = append(b.fetcherFactories, factories...)
	return b
}

func (b *RegistryBuilder) AddDecoder(factories ...DecoderFactory) *RegistryBuilder {
	b.decoderFactories = append(b.decoderFactories, factories...)
	return b
}

// AddRequestInterceptor panics when an interceptor's weight is out of range.
func (b *RegistryBuilder) AddRequestInterceptor(interceptors ...RequestInterceptor) *RegistryBuilder {
	for _, i := range interceptors {
		checkSortWeight(i.Key(), i.SortWeight())
	}
	b.requestInterceptors = append(b.requestInterceptors, interceptors...)
	return b
}

// AddDecodeInterceptor panics when an interceptor's weight is out of range.
func (b *RegistryBuilder) AddDecodeInterceptor(interceptors ...DecodeInterceptor) *RegistryBuilder {
	for _, i := range interceptors {
		checkSortWeight(i.Key(), i.SortWeight())
	}
	b.decodeInterceptors = append(b.decodeInterceptors, interceptors...)
	return b
}

// Build returns the immutable registry.  The builder may be reused.
func (b *RegistryBuilder) Build() *ComponentRegistry {
	return &ComponentRegistry{
		fetcherFactories:    append([]FetcherFactory(nil), b.fetcherFactories...),
		decoderFactories:    append([]DecoderFactory(nil), b.decoderFactories...),
		requestInterceptors: sortRequestInterceptors(b.requestInterceptors),
		decodeInterceptors:  sortDecodeInterceptors(b.decodeInterceptors),
	}
}

func checkSortWeight(key string, w int) {
	if w < MinSortWeight || w > MaxSortWeight {
		panic(fmt.Sprintf("interceptor %q: sortWeight %d out of range [%d, %d]", key, w, MinSortWeight, MaxSortWeight))
	}
}

func sortRequestInterceptors(in []RequestInterceptor) []RequestInterceptor {
	seen := make(map[string]bool, len(in))
	out := make([]RequestInterceptor, 0, len(in))
	for _, i := range in {
		if k := i.Key(); k != "" {
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, i)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortWeight() < out[b].SortWeight() })
	return out
}

func sortDecodeInterceptors(in []DecodeInterceptor) []DecodeInterceptor {
	seen := make(map[string]bool, len(in))
	out := make([]DecodeInterceptor, 0, len(in))
	for _, i := range in {
		if k := i.Key(); k != "" {
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, i)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortWeight() < out[b].SortWeight() })
	return out
}
