package core

import (
	"net/http"
	"reflect"
	"sync"
)

// ImageRequest is an immutable description of one load.  Build it with
// NewRequestBuilder; refine an existing request with NewBuilder.
type ImageRequest struct {
	uri               string
	listener          Listener
	progressListener  ProgressListener
	target            Target
	lifecycleResolver LifecycleResolver
	options           *ImageOptions

	keyOnce      sync.Once
	key          string
	cacheKeyOnce sync.Once
	cacheKey     string
}

// NewRequest builds a request for uri with every option left at its default.
func NewRequest(uri string) *ImageRequest { return NewRequestBuilder(uri).Build() }

func (r *ImageRequest) URI() string                          { return r.uri }
func (r *ImageRequest) Listener() Listener                   { return r.listener }
func (r *ImageRequest) ProgressListener() ProgressListener   { return r.progressListener }
func (r *ImageRequest) Target() Target                       { return r.target }
func (r *ImageRequest) LifecycleResolver() LifecycleResolver { return r.lifecycleResolver }

// Options returns a copy of the options explicitly resolved for this request.
func (r *ImageRequest) Options() *ImageOptions { return r.options.Clone() }

func (r *ImageRequest) Depth() Depth {
	if r.options.Depth == nil {
		return DepthNetwork
	}
	return *r.options.Depth
}

func (r *ImageRequest) DepthFrom() string {
	if r.options.DepthFrom == nil {
		return ""
	}
	return *r.options.DepthFrom
}

// Extra returns the extra stored under key.
func (r *ImageRequest) Extra(key string) (Extra, bool) {
	e, ok := r.options.Extras[key]
	return e, ok
}

// HTTPHeaders returns a copy of the request headers.
func (r *ImageRequest) HTTPHeaders() map[string]string {
	out := make(map[string]string, len(r.options.HTTPHeaders))
	for k, v := range r.options.HTTPHeaders {
		out[k] = v
	}
	return out
}

func (r *ImageRequest) DownloadCachePolicy() CachePolicy {
	return policyOrDefault(r.options.DownloadCachePolicy)
}

func (r *ImageRequest) ResultCachePolicy() CachePolicy {
	return policyOrDefault(r.options.ResultCachePolicy)
}

func (r *ImageRequest) MemoryCachePolicy() CachePolicy {
	return policyOrDefault(r.options.MemoryCachePolicy)
}

// Size is the target size; an empty Size decodes at the original size.
func (r *ImageRequest) Size() Size {
	if r.options.Size == nil {
		return Size{}
	}
	return *r.options.Size
}

func (r *ImageRequest) PrecisionDecider() PrecisionDecider {
	if r.options.Precision == nil {
		return FixedPrecisionDecider(PrecisionLessPixels)
	}
	return r.options.Precision
}

func (r *ImageRequest) Scale() Scale {
	if r.options.Scale == nil {
		return ScaleCenterCrop
	}
	return *r.options.Scale
}

// Transformations returns a copy of the transformation list.
func (r *ImageRequest) Transformations() []Transformation {
	return append([]Transformation(nil), r.options.Transformations...)
}

func (r *ImageRequest) ColorType() ColorType {
	if r.options.ColorType == nil {
		return ColorTypeDefault
	}
	return *r.options.ColorType
}

func (r *ImageRequest) IgnoreExifOrientation() bool {
	return r.options.IgnoreExifOrientation != nil && *r.options.IgnoreExifOrientation
}

func (r *ImageRequest) Placeholder() StateImage { return r.options.Placeholder }
func (r *ImageRequest) ErrorState() StateImage  { return r.options.Error }
func (r *ImageRequest) Fallback() StateImage    { return r.options.Fallback }

// Equal reports whether o describes the same load as r with the same
// collaborators.  Key only records whether a listener, target or lifecycle is
// present, so their identities are compared separately.
func (r *ImageRequest) Equal(o *ImageRequest) bool {
	if r == o {
		return true
	}
	if r == nil || o == nil {
		return false
	}
	return r.Key() == o.Key() &&
		sameInstance(r.listener, o.listener) &&
		sameInstance(r.progressListener, o.progressListener) &&
		sameInstance(r.target, o.target) &&
		sameInstance(r.lifecycleResolver, o.lifecycleResolver)
}

// sameInstance compares interface values by identity without panicking on
// non-comparable dynamic types such as funcs or maps.
func sameInstance(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if ta.Comparable() {
		return a == b
	}
	return false
}

// MergedWith returns a request whose unset fields are filled from opts.
func (r *ImageRequest) MergedWith(opts *ImageOptions) *ImageRequest {
	if opts.IsEmpty() {
		return r
	}
	return r.NewBuilder().Defaults(opts).Build()
}

// NewBuilder returns a builder that starts from every field of r.
func (r *ImageRequest) NewBuilder() *RequestBuilder {
	return &RequestBuilder{
		uri:               r.uri,
		listener:          r.listener,
		progressListener:  r.progressListener,
		target:            r.target,
		lifecycleResolver: r.lifecycleResolver,
		defined:           r.options.Clone(),
	}
}

// NewRequest refines r with configure.
func (r *ImageRequest) NewRequest(configure func(b *RequestBuilder)) *ImageRequest {
	b := r.NewBuilder()
	if configure != nil {
		configure(b)
	}
	return b.Build()
}

func (r *ImageRequest) String() string { return "ImageRequest(" + r.Key() + ")" }

func policyOrDefault(p *CachePolicy) CachePolicy {
	if p == nil {
		return CachePolicyEnabled
	}
	return *p
}

// ── Builder ───────────────────────────────────────────────────────────────────

// RequestBuilder assembles an ImageRequest.  Setters return the builder for
// chaining; it is not safe for concurrent use.
type RequestBuilder struct {
	uri               string
	listener          Listener
	progressListener  ProgressListener
	target            Target
	lifecycleResolver LifecycleResolver
	defined           *ImageOptions
	defaults          []*ImageOptions
}

// NewRequestBuilder starts a request for uri.
func NewRequestBuilder(uri string) *RequestBuilder {
	return &RequestBuilder{uri: uri, defined: &ImageOptions{}}
}

func (b *RequestBuilder) URI(uri string) *RequestBuilder { b.uri = uri; return b }

func (b *RequestBuilder) Listener(l Listener) *RequestBuilder { b.listener = l; return b }

func (b *RequestBuilder) ProgressListener(l ProgressListener) *RequestBuilder {
	b.progressListener = l
	return b
}

func (b *RequestBuilder) Target(t Target) *RequestBuilder { b.target = t; return b }

func (b *RequestBuilder) Lifecycle(r LifecycleResolver) *RequestBuilder {
	b.lifecycleResolver = r
	return b
}

// Depth limits the tiers the request may use; from names who imposed it.
func (b *RequestBuilder) Depth(d Depth, from string) *RequestBuilder {
	b.defined.Depth = &d
	if from != "" {
		b.defined.DepthFrom = &from
	} else {
		b.defined.DepthFrom = nil
	}
	return b
}

func (b *RequestBuilder) Extra(key, value string, affectsCacheKey bool) *RequestBuilder {
	if b.defined.Extras == nil {
		b.defined.Extras = make(map[string]Extra)
	}
	b.defined.Extras[key] = Extra{Value: value, AffectsCacheKey: affectsCacheKey}
	return b
}

func (b *RequestBuilder) RemoveExtra(key string) *RequestBuilder {
	delete(b.defined.Extras, key)
	return b
}

func (b *RequestBuilder) HTTPHeader(name, value string) *RequestBuilder {
	if b.defined.HTTPHeaders == nil {
		b.defined.HTTPHeaders = make(map[string]string)
	}
	b.defined.HTTPHeaders[http.CanonicalHeaderKey(name)] = value
	return b
}

func (b *RequestBuilder) DownloadCachePolicy(p CachePolicy) *RequestBuilder {
	b.defined.DownloadCachePolicy = &p
	return b
}

func (b *RequestBuilder) ResultCachePolicy(p CachePolicy) *RequestBuilder {
	b.defined.ResultCachePolicy = &p
	return b
}

func (b *RequestBuilder) MemoryCachePolicy(p CachePolicy) *RequestBuilder {
	b.defined.MemoryCachePolicy = &p
	return b
}

func (b *RequestBuilder) Size(width, height int) *RequestBuilder {
	b.defined.Size = &Size{Width: width, Height: height}
	return b
}

func (b *RequestBuilder) Precision(p Precision) *RequestBuilder {
	b.defined.Precision = FixedPrecisionDecider(p)
	return b
}

func (b *RequestBuilder) PrecisionDecider(d PrecisionDecider) *RequestBuilder {
	b.defined.Precision = d
	return b
}

func (b *RequestBuilder) Scale(s Scale) *RequestBuilder { b.defined.Scale = &s; return b }

// Transformations replaces the transformation list.
func (b *RequestBuilder) Transformations(ts ...Transformation) *RequestBuilder {
	b.defined.Transformations = append([]Transformation{}, ts...)
	return b
}

// AddTransformations appends to the list, skipping keys already present.
func (b *RequestBuilder) AddTransformations(ts ...Transformation) *RequestBuilder {
	seen := make(map[string]bool, len(b.defined.Transformations))
	for _, t := range b.defined.Transformations {
		seen[t.Key()] = true
	}
	for _, t := range ts {
		if !seen[t.Key()] {
			b.defined.Transformations = append(b.defined.Transformations, t)
			seen[t.Key()] = true
		}
	}
	return b
}

func (b *RequestBuilder) ColorType(c ColorType) *RequestBuilder { b.defined.ColorType = &c; return b }

func (b *RequestBuilder) IgnoreExifOrientation(ignore bool) *RequestBuilder {
	b.defined.IgnoreExifOrientation = &ignore
	return b
}

func (b *RequestBuilder) Placeholder(s StateImage) *RequestBuilder { b.defined.Placeholder = s; return b }
func (b *RequestBuilder) ErrorState(s StateImage) *RequestBuilder  { b.defined.Error = s; return b }
func (b *RequestBuilder) Fallback(s StateImage) *RequestBuilder    { b.defined.Fallback = s; return b }

// Defaults adds a fallback ImageOptions consulted for fields left unset.
// Earlier calls take precedence over later ones.
func (b *RequestBuilder) Defaults(opts *ImageOptions) *RequestBuilder {
	if opts != nil {
		b.defaults = append(b.defaults, opts)
	}
	return b
}

// Build returns the immutable request.
func (b *RequestBuilder) Build() *ImageRequest {
	merged := b.defined.Clone()
	for _, d := range b.defaults {
		merged = merged.Merged(d)
	}
	return &ImageRequest{
		uri:               b.uri,
		listener:          b.listener,
		progressListener:  b.progressListener,
		target:            b.target,
		lifecycleResolver: b.lifecycleResolver,
		options:           merged,
	}
}
