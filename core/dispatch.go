package core

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/Skryldev/sketch/errors"
)

// Dispatcher bounds how many tasks of one kind run at once.  Callers that are
// cancelled while waiting for a slot, or while their task runs, return
// immediately; the slot is released only once the task has really finished.
type Dispatcher struct {
	name  string
	limit int64
	sem   *semaphore.Weighted

	mu     sync.Mutex
	active int64
	peak   int64
}

// NewDispatcher creates a Dispatcher allowing limit concurrent tasks.
func NewDispatcher(name string, limit int) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{name: name, limit: int64(limit), sem: semaphore.NewWeighted(int64(limit))}
}

func (d *Dispatcher) Name() string { return d.name }
func (d *Dispatcher) Limit() int   { return int(d.limit) }

// Active reports the number of running tasks.
func (d *Dispatcher) Active() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Peak reports the highest number of tasks ever running at once.
func (d *Dispatcher) Peak() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

func (d *Dispatcher) enter() {
	d.mu.Lock()
	d.active++
	if d.active > d.peak {
		d.peak = d.active
	}
	d.mu.Unlock()
}

func (d *Dispatcher) leave() {
	d.mu.Lock()
	d.active--
	d.mu.Unlock()
	d.sem.Release(1)
}

// Dispatch runs fn on d once a slot is free and waits for its result or for
// ctx to end, whichever comes first.  fn receives ctx and should honour it.
func Dispatch[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return zero, apperrors.Cancelled(d.name+".acquire", err)
	}
	if err := ctx.Err(); err != nil {
		d.sem.Release(1)
		return zero, apperrors.Cancelled(d.name+".acquire", err)
	}
	d.enter()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer d.leave()
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return zero, apperrors.Cancelled(d.name+".run", ctx.Err())
	}
}
