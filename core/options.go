package core

// Extra is one entry of the opaque, string-keyed extension bag of a request.
type Extra struct {
	Value string
	// AffectsCacheKey puts the entry into the cache key as well as the key.
	AffectsCacheKey bool
}

// ImageOptions holds optional request fields.  A nil field is unset and falls
// back to the next ImageOptions in a merge, then to the built-in default.
type ImageOptions struct {
	Depth                 *Depth
	DepthFrom             *string
	Extras                map[string]Extra
	HTTPHeaders           map[string]string
	DownloadCachePolicy   *CachePolicy
	Size                  *Size
	Precision             PrecisionDecider
	Scale                 *Scale
	Transformations       []Transformation
	ColorType             *ColorType
	IgnoreExifOrientation *bool
	ResultCachePolicy     *CachePolicy
	Placeholder           StateImage
	Error                 StateImage
	Fallback              StateImage
	MemoryCachePolicy     *CachePolicy
}

// Merged returns a new ImageOptions where every unset field of o is taken from
// other.  Fields set on o always win; map fields merge key by key with o's
// entries winning.  Neither input is modified.
func (o *ImageOptions) Merged(other *ImageOptions) *ImageOptions {
	if o == nil && other == nil {
		return &ImageOptions{}
	}
	if o == nil {
		return other.Clone()
	}
	out := o.Clone()
	if other == nil {
		return out
	}
	if out.Depth == nil {
		out.Depth = other.Depth
	}
	if out.DepthFrom == nil {
		out.DepthFrom = other.DepthFrom
	}
	out.Extras = mergeExtras(out.Extras, other.Extras)
	out.HTTPHeaders = mergeHeaders(out.HTTPHeaders, other.HTTPHeaders)
	if out.DownloadCachePolicy == nil {
		out.DownloadCachePolicy = other.DownloadCachePolicy
	}
	if out.Size == nil {
		out.Size = other.Size
	}
	if out.Precision == nil {
		out.Precision = other.Precision
	}
	if out.Scale == nil {
		out.Scale = other.Scale
	}
	if out.Transformations == nil && other.Transformations != nil {
		out.Transformations = append([]Transformation(nil), other.Transformations...)
	}
	if out.ColorType == nil {
		out.ColorType = other.ColorType
	}
	if out.IgnoreExifOrientation == nil {
		out.IgnoreExifOrientation = other.IgnoreExifOrientation
	}
	if out.ResultCachePolicy == nil {
		out.ResultCachePolicy = other.ResultCachePolicy
	}
	if out.Placeholder == nil {
		out.Placeholder = other.Placeholder
	}
	if out.Error == nil {
		out.Error = other.Error
	}
	if out.Fallback == nil {
		out.Fallback = other.Fallback
	}
	if out.MemoryCachePolicy == nil {
		out.MemoryCachePolicy = other.MemoryCachePolicy
	}
	return out
}

// Clone returns a copy whose maps and slices are not shared with o.
func (o *ImageOptions) Clone() *ImageOptions {
	if o == nil {
		return &ImageOptions{}
	}
	out := *o
	if o.Extras != nil {
		out.Extras = make(map[string]Extra, len(o.Extras))
		for k, v := range o.Extras {
			out.Extras[k] = v
		}
	}
	if o.HTTPHeaders != nil {
		out.HTTPHeaders = make(map[string]string, len(o.HTTPHeaders))
		for k, v := range o.HTTPHeaders {
			out.HTTPHeaders[k] = v
		}
	}
	if o.Transformations != nil {
		out.Transformations = append([]Transformation(nil), o.Transformations...)
	}
	return &out
}

// IsEmpty reports whether no field is set.
func (o *ImageOptions) IsEmpty() bool {
	if o == nil {
		return true
	}
	return o.Depth == nil && o.DepthFrom == nil && len(o.Extras) == 0 && len(o.HTTPHeaders) == 0 &&
		o.DownloadCachePolicy == nil && o.Size == nil && o.Precision == nil && o.Scale == nil &&
		o.Transformations == nil && o.ColorType == nil && o.IgnoreExifOrientation == nil &&
		o.ResultCachePolicy == nil && o.Placeholder == nil && o.Error == nil && o.Fallback == nil &&
		o.MemoryCachePolicy == nil
}

func mergeExtras(own, other map[string]Extra) map[string]Extra {
	if len(other) == 0 {
		return own
	}
	if own == nil {
		own = make(map[string]Extra, len(other))
	}
	for k, v := range other {
		if _, ok := own[k]; !ok {
			own[k] = v
		}
	}
	return own
}

func mergeHeaders(own, other map[string]string) map[string]string {
	if len(other) == 0 {
		return own
	}
	if own == nil {
		own = make(map[string]string, len(other))
	}
	for k, v := range other {
		if _, ok := own[k]; !ok {
			own[k] = v
		}
	}
	return own
}

// Ptr returns a pointer to v; handy for building ImageOptions literals.
func Ptr[T any](v T) *T { return &v }
