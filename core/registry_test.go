package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

type stubRequestInterceptor struct {
	key    string
	weight int
}

func (s *stubRequestInterceptor) Key() string     { return s.key }
func (s *stubRequestInterceptor) SortWeight() int { return s.weight }
func (s *stubRequestInterceptor) Intercept(ctx context.Context, chain core.RequestChain) (*core.ImageData, error) {
	return chain.Proceed(ctx, chain.Request())
}

type stubDecodeInterceptor struct {
	key    string
	weight int
}

func (s *stubDecodeInterceptor) Key() string     { return s.key }
func (s *stubDecodeInterceptor) SortWeight() int { return s.weight }
func (s *stubDecodeInterceptor) Intercept(ctx context.Context, chain core.DecodeChain) (*core.DecodeResult, error) {
	return chain.Proceed(ctx)
}

type schemeFetcherFactory struct {
	key, scheme string
}

type stubFetcher struct{ from string }

func (stubFetcher) Fetch(context.Context) (*core.FetchResult, error) { return nil, nil }

func (f schemeFetcherFactory) Key() string { return f.key }
func (f schemeFetcherFactory) Create(_ core.Engine, r *core.ImageRequest) core.Fetcher {
	if len(r.URI()) >= len(f.scheme) && r.URI()[:len(f.scheme)] == f.scheme {
		return stubFetcher{from: f.key}
	}
	return nil
}

func requestKeys(r *core.ComponentRegistry) []string {
	var out []string
	for _, i := range r.RequestInterceptors() {
		out = append(out, i.Key())
	}
	return out
}

// ── Ordering ──────────────────────────────────────────────────────────────────

func TestRegistry_SortsByWeightStable(t *testing.T) {
	r := core.NewRegistryBuilder().AddRequestInterceptor(
		&stubRequestInterceptor{"c", 50},
		&stubRequestInterceptor{"a", 10},
		&stubRequestInterceptor{"b", 50},
		&stubRequestInterceptor{"d", 0},
	).Build()

	assert.Equal(t, []string{"d", "a", "c", "b"}, requestKeys(r))
}

func TestRegistry_MergeThisFirst(t *testing.T) {
	user := core.NewRegistryBuilder().
		AddFetcher(schemeFetcherFactory{"user", "https://"}).
		AddRequestInterceptor(&stubRequestInterceptor{"shared", 40}, &stubRequestInterceptor{"u", 95}).
		Build()
	defaults := core.NewRegistryBuilder().
		AddFetcher(schemeFetcherFactory{"default", "https://"}).
		AddRequestInterceptor(&stubRequestInterceptor{"x", 95}, &stubRequestInterceptor{"shared", 10}).
		Build()

	merged := user.Merge(defaults)

	// Dedupe keeps the first "shared" (weight 40); ties keep this-first order.
	assert.Equal(t, []string{"shared", "u", "x"}, requestKeys(merged))
	require.Len(t, merged.FetcherFactories(), 2)
	assert.Equal(t, "user", merged.FetcherFactories()[0].Key())

	f, err := merged.NewFetcher(nil, core.NewRequest("https://a/b.png"))
	require.NoError(t, err)
	assert.Equal(t, stubFetcher{from: "user"}, f)

	// Inputs untouched.
	assert.Len(t, user.FetcherFactories(), 1)
	assert.Len(t, defaults.RequestInterceptors(), 2)
}

func TestRegistry_MergeEmpty(t *testing.T) {
	r := core.NewRegistryBuilder().AddDecodeInterceptor(&stubDecodeInterceptor{"a", 1}).Build()
	assert.Same(t, r, r.Merge(nil))
	assert.Same(t, r, (*core.ComponentRegistry)(nil).Merge(r))
	assert.True(t, core.NewRegistryBuilder().Build().IsEmpty())
}

func TestRegistry_BuildIdempotent(t *testing.T) {
	b := core.NewRegistryBuilder().AddRequestInterceptor(&stubRequestInterceptor{"a", 3}, &stubRequestInterceptor{"b", 1})
	assert.Equal(t, requestKeys(b.Build()), requestKeys(b.Build()))
}

func TestRegistry_WeightOutOfRangePanics(t *testing.T) {
	assert.Panics(t, func() {
		core.NewRegistryBuilder().AddRequestInterceptor(&stubRequestInterceptor{"bad", 101})
	})
	assert.Panics(t, func() {
		core.NewRegistryBuilder().AddDecodeInterceptor(&stubDecodeInterceptor{"bad", -1})
	})
}

// ── Resolution ────────────────────────────────────────────────────────────────

func TestRegistry_NoSuitableFetcher(t *testing.T) {
	r := core.NewRegistryBuilder().AddFetcher(schemeFetcherFactory{"http", "http://"}).Build()

	_, err := r.NewFetcher(nil, core.NewRequest("ftp://host/a.png"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryNoSuitableComponent))
	assert.ErrorIs(t, err, apperrors.ErrNoSuitableFetcher)
	assert.Contains(t, err.Error(), "ftp://host/a.png")
}

func TestRegistry_NoSuitableDecoder(t *testing.T) {
	r := core.NewRegistryBuilder().Build()
	rc := core.NewRequestContext(core.NewRequest("file:///a.svg"))

	_, err := r.NewDecoder(nil, rc, &core.FetchResult{MimeType: "image/svg+xml"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoSuitableDecoder)
	assert.Contains(t, err.Error(), "image/svg+xml")
}
