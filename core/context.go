package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RequestContext is the mutable state of one execution.  It is owned by that
// execution; only the reference count may be touched from other goroutines.
type RequestContext struct {
	id             string
	initialRequest *ImageRequest
	request        *ImageRequest
	requestList    []*ImageRequest

	key      string
	cacheKey string

	mu       sync.Mutex
	refCount int
	onFree   []func()
}

// NewRequestContext starts a context whose history holds request only.
func NewRequestContext(request *ImageRequest) *RequestContext {
	return &RequestContext{
		id:             uuid.NewString(),
		initialRequest: request,
		request:        request,
		requestList:    []*ImageRequest{request},
	}
}

// ID uniquely identifies the execution for logs and traces.
func (c *RequestContext) ID() string { return c.id }

func (c *RequestContext) InitialRequest() *ImageRequest { return c.initialRequest }

// Request is the current request.
func (c *RequestContext) Request() *ImageRequest { return c.request }

// RequestList returns every request version seen, oldest first.
func (c *RequestContext) RequestList() []*ImageRequest {
	return append([]*ImageRequest(nil), c.requestList...)
}

// SetNewRequest replaces the current request.  A request equal to the current
// one is ignored so the history only records real refinements.
func (c *RequestContext) SetNewRequest(request *ImageRequest) bool {
	if request == nil || request.Equal(c.request) {
		return false
	}
	c.request = request
	c.requestList = append(c.requestList, request)
	c.key = ""
	c.cacheKey = ""
	return true
}

// Key is the key of the current request.
func (c *RequestContext) Key() string {
	if c.key == "" {
		c.key = c.request.Key()
	}
	return c.key
}

// CacheKey is the cache key of the current request.
func (c *RequestContext) CacheKey() string {
	if c.cacheKey == "" {
		c.cacheKey = c.request.CacheKey()
	}
	return c.cacheKey
}

// ── Reference counting ────────────────────────────────────────────────────────

// Retain marks a resource produced by this execution as still in use.
func (c *RequestContext) Retain() {
	c.mu.Lock()
	c.refCount++
	c.mu.Unlock()
}

// Release drops one reference; when the count reaches zero every OnFree
// callback runs once.
func (c *RequestContext) Release() {
	c.mu.Lock()
	if c.refCount > 0 {
		c.refCount--
	}
	var fns []func()
	if c.refCount == 0 {
		fns, c.onFree = c.onFree, nil
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// RefCount reports the number of outstanding references.
func (c *RequestContext) RefCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refCount
}

// OnFree registers fn to run once the reference count drops to zero.
func (c *RequestContext) OnFree(fn func()) {
	c.mu.Lock()
	c.onFree = append(c.onFree, fn)
	c.mu.Unlock()
}

func (c *RequestContext) String() string {
	return fmt.Sprintf("RequestContext(%s,%d requests)", c.id, len(c.requestList))
}
