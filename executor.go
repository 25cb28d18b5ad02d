package sketch

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/pipeline"
)

// State is the position of one execution in its state machine:
// CREATED → LIFECYCLE_WAIT → RUNNING → SUCCESS | ERROR | CANCELLED.
type State int32

const (
	StateCreated State = iota
	StateLifecycleWait
	StateRunning
	StateSuccess
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateLifecycleWait:
		return "LIFECYCLE_WAIT"
	case StateRunning:
		return "RUNNING"
	case StateSuccess:
		return "SUCCESS"
	case StateError:
		return "ERROR"
	case StateCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s >= StateSuccess }

// executor runs one request.  Errors are never retried; a caller that wants
// a retry submits a fresh request.
type executor struct {
	sketch  *Sketch
	request *core.ImageRequest
	state   *atomic.Int32
}

func newExecutor(s *Sketch, request *core.ImageRequest, state *atomic.Int32) *executor {
	state.Store(int32(StateCreated))
	return &executor{sketch: s, request: request, state: state}
}

func (e *executor) setState(s State) { e.state.Store(int32(s)) }

func (e *executor) execute(ctx context.Context) core.ImageResult {
	start := time.Now()
	s := e.sketch
	s.executed.Add(1)

	rc := core.NewRequestContext(e.request)
	rc.Retain()
	defer rc.Release()

	if l := e.request.Listener(); l != nil {
		l.OnStart(e.request)
	}

	// ── LIFECYCLE_WAIT ────────────────────────────────────────────────────────
	e.setState(StateLifecycleWait)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.awaitLifecycle(ctx, cancel); err != nil {
		return e.cancelled(rc, err)
	}

	// ── RUNNING ───────────────────────────────────────────────────────────────
	e.setState(StateRunning)
	s.logger.Debug("execution.start", "request_id", rc.ID(), "uri", e.request.URI())

	if strings.TrimSpace(e.request.URI()) == "" {
		return e.failed(rc, apperrors.New(apperrors.CategoryInput, "sketch.execute", apperrors.ErrUriInvalid), start)
	}
	if !s.globalOptions.IsEmpty() {
		rc.SetNewRequest(rc.Request().MergedWith(s.globalOptions))
	}

	data, err := pipeline.ExecuteRequestChain(ctx, s, rc)
	if ctx.Err() != nil || apperrors.IsCancelled(err) {
		return e.cancelled(rc, err)
	}
	if err != nil {
		return e.failed(rc, err, start)
	}
	return e.succeeded(rc, data, start)
}

// awaitLifecycle parks until the lifecycle reaches STARTED, and arranges for
// ctx to be cancelled if it is destroyed later.
func (e *executor) awaitLifecycle(ctx context.Context, cancel context.CancelFunc) error {
	resolver := e.request.LifecycleResolver()
	if resolver == nil {
		return nil
	}
	lc, err := resolver.Lifecycle(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCancelled, "lifecycle.resolve", err)
	}
	if lc == nil {
		lc = core.GlobalLifecycle
	}
	if lc.State() == core.LifecycleDestroyed {
		return apperrors.Cancelled("lifecycle.destroyed", nil)
	}
	if destroyed := lc.Destroyed(); destroyed != nil {
		go func() {
			select {
			case <-destroyed:
				cancel()
			case <-ctx.Done():
			}
		}()
	}
	if err := lc.AwaitAtLeast(ctx, core.LifecycleStarted); err != nil {
		return apperrors.Wrap(apperrors.CategoryCancelled, "lifecycle.await", err)
	}
	return nil
}

func (e *executor) succeeded(rc *core.RequestContext, data *core.ImageData, start time.Time) core.ImageResult {
	s := e.sketch
	request := rc.Request()
	result := &core.SuccessResult{
		Req:          request,
		CacheKey:     rc.CacheKey(),
		Image:        data.Image,
		ImageInfo:    data.ImageInfo,
		DataFrom:     data.DataFrom,
		Resize:       data.Resize,
		Transformeds: data.Transformeds,
		Extras:       data.Extras,
	}
	e.setState(StateSuccess)
	s.succeeded.Add(1)
	if s.metrics != nil {
		s.metrics.RecordProcessingTime("execute", time.Since(start))
		s.metrics.RecordResult(data.DataFrom)
	}
	s.logger.Debug("execution.success",
		"request_id", rc.ID(),
		"data_from", data.DataFrom,
		"transformeds", strings.Join(data.Transformeds, ","),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if t := request.Target(); t != nil {
		t.OnSuccess(request, data.Image)
	}
	if l := request.Listener(); l != nil {
		l.OnSuccess(request, result)
	}
	return result
}

func (e *executor) failed(rc *core.RequestContext, err error, start time.Time) core.ImageResult {
	s := e.sketch
	request := rc.Request()
	err = core.WrapRequestError(request, nil, err)
	result := &core.ErrorResult{Req: request, Err: err, Image: e.errorImage(request, err)}
	e.setState(StateError)
	s.failed.Add(1)
	if s.metrics != nil {
		s.metrics.RecordProcessingTime("execute", time.Since(start))
		s.metrics.RecordError("execute", string(apperrors.CategoryOf(err)))
	}
	if apperrors.IsSoft(err) {
		s.logger.Debug("execution.stopped", "request_id", rc.ID(), "reason", err.Error())
	} else {
		s.logger.Warn("execution.error", "request_id", rc.ID(), "uri", request.URI(), "error", err.Error())
	}
	if t := request.Target(); t != nil {
		t.OnError(request, result.Image)
	}
	if l := request.Listener(); l != nil {
		l.OnError(request, result)
	}
	return result
}

// errorImage prefers Fallback for an invalid URI, then ErrorState.
func (e *executor) errorImage(request *core.ImageRequest, err error) core.Image {
	if apperrors.IsCategory(err, apperrors.CategoryInput) {
		if f := request.Fallback(); f != nil {
			if img := f.GetImage(e.sketch, request, err); img != nil {
				return img
			}
		}
	}
	if st := request.ErrorState(); st != nil {
		return st.GetImage(e.sketch, request, err)
	}
	return nil
}

// cancelled reports the distinct CANCELLED outcome: no error image is shown.
func (e *executor) cancelled(rc *core.RequestContext, cause error) core.ImageResult {
	s := e.sketch
	if cause == nil || !apperrors.IsCancelled(cause) {
		cause = apperrors.Cancelled("sketch.execute", cause)
	}
	request := rc.Request()
	e.setState(StateCancelled)
	s.cancelled.Add(1)
	s.logger.Debug("execution.cancelled", "request_id", rc.ID(), "uri", request.URI())
	if l := request.Listener(); l != nil {
		l.OnCancel(request)
	}
	return &core.ErrorResult{Req: request, Err: core.WrapRequestError(request, nil, cause), Cancelled: true}
}
