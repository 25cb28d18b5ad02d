package core

import (
	"sort"
	"strconv"
	"strings"
)

// Key is the full identity of the request: every field that affects behaviour,
// in a fixed order, prefixed by the URI.  Listeners, target and lifecycle
// contribute only their presence.
func (r *ImageRequest) Key() string {
	r.keyOnce.Do(func() { r.key = r.buildKey() })
	return r.key
}

// CacheKey is the subset of Key that affects decoded pixels: URI, size,
// precision, scale, colour type, transformations, EXIF handling and extras
// marked as cache-relevant.  Cache policies, depth, headers, state images and
// listeners are excluded.
func (r *ImageRequest) CacheKey() string {
	r.cacheKeyOnce.Do(func() { r.cacheKey = r.buildCacheKey() })
	return r.cacheKey
}

// DownloadCacheKey keys the download cache by source only.
func (r *ImageRequest) DownloadCacheKey() string { return r.uri }

func (r *ImageRequest) buildKey() string {
	kb := newKeyBuilder(r.uri)
	kb.add("_depth", string(r.Depth()))
	if from := r.DepthFrom(); from != "" {
		kb.add("_depthFrom", from)
	}
	kb.addExtras(r.options.Extras, false)
	kb.addHeaders(r.options.HTTPHeaders)
	kb.add("_downloadCachePolicy", string(r.DownloadCachePolicy()))
	r.addPixelFields(kb)
	kb.add("_resultCachePolicy", string(r.ResultCachePolicy()))
	kb.addState("_placeholder", r.Placeholder())
	kb.addState("_error", r.ErrorState())
	kb.addState("_fallback", r.Fallback())
	kb.add("_memoryCachePolicy", string(r.MemoryCachePolicy()))
	kb.addPresence("_listener", r.listener != nil)
	kb.addPresence("_progressListener", r.progressListener != nil)
	kb.addPresence("_target", r.target != nil)
	kb.addPresence("_lifecycle", r.lifecycleResolver != nil)
	return kb.String()
}

func (r *ImageRequest) buildCacheKey() string {
	kb := newKeyBuilder(r.uri)
	kb.addExtras(r.options.Extras, true)
	r.addPixelFields(kb)
	return kb.String()
}

func (r *ImageRequest) addPixelFields(kb *keyBuilder) {
	kb.add("_size", r.Size().String())
	kb.add("_precision", r.PrecisionDecider().Key())
	kb.add("_scale", string(r.Scale()))
	if ts := r.options.Transformations; len(ts) > 0 {
		keys := make([]string, len(ts))
		for i, t := range ts {
			keys[i] = t.Key()
		}
		kb.add("_transformations", "["+strings.Join(keys, ",")+"]")
	}
	if c := r.ColorType(); c != ColorTypeDefault {
		kb.add("_colorType", string(c))
	}
	if r.IgnoreExifOrientation() {
		kb.add("_ignoreExifOrientation", "true")
	}
}

type keyBuilder struct {
	sb    strings.Builder
	first bool
}

func newKeyBuilder(uri string) *keyBuilder {
	kb := &keyBuilder{first: true}
	kb.sb.WriteString(uri)
	if strings.Contains(uri, "?") {
		kb.first = false
	}
	return kb
}

func (kb *keyBuilder) add(name, value string) {
	if kb.first {
		kb.sb.WriteByte('?')
		kb.first = false
	} else {
		kb.sb.WriteByte('&')
	}
	kb.sb.WriteString(name)
	kb.sb.WriteByte('=')
	kb.sb.WriteString(value)
}

func (kb *keyBuilder) addPresence(name string, present bool) {
	if present {
		kb.add(name, strconv.FormatBool(present))
	}
}

func (kb *keyBuilder) addState(name string, s StateImage) {
	if s != nil {
		kb.add(name, s.Key())
	}
}

func (kb *keyBuilder) addExtras(extras map[string]Extra, cacheOnly bool) {
	keys := make([]string, 0, len(extras))
	for k, e := range extras {
		if cacheOnly && !e.AffectsCacheKey {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + extras[k].Value
	}
	kb.add("_extras", "{"+strings.Join(parts, ",")+"}")
}

func (kb *keyBuilder) addHeaders(headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + headers[k]
	}
	kb.add("_httpHeaders", "{"+strings.Join(parts, ",")+"}")
}

func (kb *keyBuilder) String() string { return kb.sb.String() }
