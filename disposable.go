package sketch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

// Disposable is the handle of one enqueued execution.
type Disposable struct {
	id      string
	request *core.ImageRequest
	cancel  context.CancelFunc
	state   atomic.Int32

	once   sync.Once
	done   chan struct{}
	result core.ImageResult
}

func newDisposable(request *core.ImageRequest, cancel context.CancelFunc) *Disposable {
	return &Disposable{
		id:      uuid.NewString(),
		request: request,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (d *Disposable) finish(result core.ImageResult) {
	d.once.Do(func() {
		d.result = result
		close(d.done)
	})
}

// ID identifies the execution.
func (d *Disposable) ID() string { return d.id }

// Request is the request as enqueued.
func (d *Disposable) Request() *core.ImageRequest { return d.request }

// Cancel stops the execution at its current suspension point.  Calling it
// after completion has no effect.
func (d *Disposable) Cancel() { d.cancel() }

// State is the current position in the execution state machine.
func (d *Disposable) State() State { return State(d.state.Load()) }

// IsDone reports whether the execution reached a terminal state.
func (d *Disposable) IsDone() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Done is closed once the result is available.
func (d *Disposable) Done() <-chan struct{} { return d.done }

// Result returns the result, or nil while the execution is running.
func (d *Disposable) Result() core.ImageResult {
	if !d.IsDone() {
		return nil
	}
	return d.result
}

// Wait blocks until the result is available or ctx is done.  Giving up the
// wait does not cancel the execution.
func (d *Disposable) Wait(ctx context.Context) (core.ImageResult, error) {
	select {
	case <-d.done:
		return d.result, nil
	case <-ctx.Done():
		return nil, apperrors.Cancelled("disposable.wait", ctx.Err())
	}
}
