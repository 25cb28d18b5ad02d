// Package pipeline threads executions through the request and decode
// interceptor chains, runs hooks around every interceptor, and provides the
// built-in interceptors.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

const (
	ChainRequest = "request"
	ChainDecode  = "decode"
)

// ── Request chain ─────────────────────────────────────────────────────────────

type requestChain struct {
	engine         core.Engine
	initialRequest *core.ImageRequest
	request        *core.ImageRequest
	requestContext *core.RequestContext
	interceptors   []core.RequestInterceptor
	index          int
}

// ExecuteRequestChain runs the engine's request interceptors for rc.
func ExecuteRequestChain(ctx context.Context, engine core.Engine, rc *core.RequestContext) (*core.ImageData, error) {
	return NewRequestChain(engine, rc, engine.Components().RequestInterceptors()).Proceed(ctx, rc.Request())
}

// NewRequestChain returns a chain positioned before the first interceptor.
func NewRequestChain(engine core.Engine, rc *core.RequestContext, interceptors []core.RequestInterceptor) core.RequestChain {
	return &requestChain{
		engine:         engine,
		initialRequest: rc.InitialRequest(),
		request:        rc.Request(),
		requestContext: rc,
		interceptors:   interceptors,
	}
}

func (c *requestChain) Engine() core.Engine                  { return c.engine }
func (c *requestChain) InitialRequest() *core.ImageRequest   { return c.initialRequest }
func (c *requestChain) Request() *core.ImageRequest          { return c.request }
func (c *requestChain) RequestContext() *core.RequestContext { return c.requestContext }

func (c *requestChain) Proceed(ctx context.Context, request *core.ImageRequest) (*core.ImageData, error) {
	if c.index >= len(c.interceptors) {
		return nil, apperrors.New(apperrors.CategoryNoSuitableComponent, "request_chain.proceed",
			fmt.Errorf("no request interceptor left at index %d; is the engine interceptor registered?", c.index))
	}
	c.requestContext.SetNewRequest(request)
	next := &requestChain{
		engine:         c.engine,
		initialRequest: c.initialRequest,
		request:        c.requestContext.Request(),
		requestContext: c.requestContext,
		interceptors:   c.interceptors,
		index:          c.index + 1,
	}
	interceptor := c.interceptors[c.index]
	info := core.InterceptInfo{
		Chain:       ChainRequest,
		Interceptor: interceptorName(interceptor.Key(), interceptor),
		Index:       c.index,
		RequestID:   c.requestContext.ID(),
		Request:     next.request,
	}
	return intercept(ctx, c.engine.Hooks(), info, func(ctx context.Context) (*core.ImageData, error) {
		return interceptor.Intercept(ctx, next)
	})
}

// ── Decode chain ──────────────────────────────────────────────────────────────

type decodeChain struct {
	engine         core.Engine
	requestContext *core.RequestContext
	fetchResult    *core.FetchResult
	interceptors   []core.DecodeInterceptor
	index          int
}

// ExecuteDecodeChain runs the engine's decode interceptors.  fetchResult may be
// nil, in which case the terminal interceptor fetches.
func ExecuteDecodeChain(ctx context.Context, engine core.Engine, rc *core.RequestContext, fetchResult *core.FetchResult) (*core.DecodeResult, error) {
	return NewDecodeChain(engine, rc, fetchResult, engine.Components().DecodeInterceptors()).Proceed(ctx)
}

// NewDecodeChain returns a chain positioned before the first interceptor.
func NewDecodeChain(engine core.Engine, rc *core.RequestContext, fetchResult *core.FetchResult, interceptors []core.DecodeInterceptor) core.DecodeChain {
	return &decodeChain{engine: engine, requestContext: rc, fetchResult: fetchResult, interceptors: interceptors}
}

func (c *decodeChain) Engine() core.Engine                  { return c.engine }
func (c *decodeChain) Request() *core.ImageRequest          { return c.requestContext.Request() }
func (c *decodeChain) RequestContext() *core.RequestContext { return c.requestContext }
func (c *decodeChain) FetchResult() *core.FetchResult       { return c.fetchResult }

func (c *decodeChain) Proceed(ctx context.Context) (*core.DecodeResult, error) {
	if c.index >= len(c.interceptors) {
		return nil, apperrors.New(apperrors.CategoryNoSuitableComponent, "decode_chain.proceed",
			fmt.Errorf("no decode interceptor left at index %d; is the engine decode interceptor registered?", c.index))
	}
	next := &decodeChain{
		engine:         c.engine,
		requestContext: c.requestContext,
		fetchResult:    c.fetchResult,
		interceptors:   c.interceptors,
		index:          c.index + 1,
	}
	interceptor := c.interceptors[c.index]
	info := core.InterceptInfo{
		Chain:       ChainDecode,
		Interceptor: interceptorName(interceptor.Key(), interceptor),
		Index:       c.index,
		RequestID:   c.requestContext.ID(),
		Request:     c.requestContext.Request(),
	}
	return intercept(ctx, c.engine.Hooks(), info, func(ctx context.Context) (*core.DecodeResult, error) {
		return interceptor.Intercept(ctx, next)
	})
}

// ── Hooks ─────────────────────────────────────────────────────────────────────

// intercept runs fn between the hooks.  Hooks see the interceptor's own
// duration, including everything downstream of it.
func intercept[T any](ctx context.Context, hooks []core.Hook, info core.InterceptInfo, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, apperrors.Cancelled(info.Interceptor, err)
	}
	for _, h := range hooks {
		if derived := h.BeforeIntercept(ctx, info); derived != nil {
			ctx = derived
		}
	}
	start := time.Now()
	v, err := fn(ctx)
	elapsed := time.Since(start)
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i].AfterIntercept(ctx, info, elapsed, err)
	}
	return v, err
}

func interceptorName(key string, v interface{}) string {
	if key != "" {
		return key
	}
	return fmt.Sprintf("%T", v)
}
