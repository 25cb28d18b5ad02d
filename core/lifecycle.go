package core

import (
	"context"
	"sync"

	apperrors "github.com/Skryldev/sketch/errors"
)

// LifecycleState is the state of the host component that owns a request.
type LifecycleState int

const (
	LifecycleDestroyed LifecycleState = iota - 1
	LifecycleInitialized
	LifecycleCreated
	LifecycleStarted
	LifecycleResumed
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleDestroyed:
		return "DESTROYED"
	case LifecycleInitialized:
		return "INITIALIZED"
	case LifecycleCreated:
		return "CREATED"
	case LifecycleStarted:
		return "STARTED"
	case LifecycleResumed:
		return "RESUMED"
	}
	return "UNKNOWN"
}

// AtLeast reports whether s has reached target.  DESTROYED reaches nothing.
func (s LifecycleState) AtLeast(target LifecycleState) bool {
	return s != LifecycleDestroyed && s >= target
}

// TargetLifecycle is the lifecycle a request is bound to.
type TargetLifecycle interface {
	State() LifecycleState
	// AwaitAtLeast blocks until the state reaches target.  It fails with a
	// cancelled error when the lifecycle is destroyed or ctx ends first.
	AwaitAtLeast(ctx context.Context, target LifecycleState) error
	// Destroyed is closed once the lifecycle is destroyed; nil means never.
	Destroyed() <-chan struct{}
}

// LifecycleResolver resolves the lifecycle of a request lazily.
type LifecycleResolver interface {
	Lifecycle(ctx context.Context) (TargetLifecycle, error)
}

// FixedLifecycleResolver always resolves to the same lifecycle.
type FixedLifecycleResolver struct {
	TargetLifecycle TargetLifecycle
}

func (r FixedLifecycleResolver) Lifecycle(context.Context) (TargetLifecycle, error) {
	return r.TargetLifecycle, nil
}

// ── Global lifecycle ──────────────────────────────────────────────────────────

type globalLifecycle struct{}

// GlobalLifecycle is always resumed and never destroyed.
var GlobalLifecycle TargetLifecycle = globalLifecycle{}

func (globalLifecycle) State() LifecycleState                               { return LifecycleResumed }
func (globalLifecycle) AwaitAtLeast(context.Context, LifecycleState) error { return nil }
func (globalLifecycle) Destroyed() <-chan struct{}                          { return nil }
func (globalLifecycle) String() string                                      { return "GlobalLifecycle" }

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Lifecycle is a TargetLifecycle driven by the host through SetState.
type Lifecycle struct {
	mu        sync.Mutex
	state     LifecycleState
	changed   chan struct{}
	destroyed chan struct{}
}

// NewLifecycle returns a lifecycle in the given state.
func NewLifecycle(initial LifecycleState) *Lifecycle {
	l := &Lifecycle{
		state:     initial,
		changed:   make(chan struct{}),
		destroyed: make(chan struct{}),
	}
	if initial == LifecycleDestroyed {
		close(l.destroyed)
	}
	return l
}

func (l *Lifecycle) State() LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState moves the lifecycle to s.  Once destroyed it never changes again.
func (l *Lifecycle) SetState(s LifecycleState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LifecycleDestroyed || l.state == s {
		return
	}
	l.state = s
	close(l.changed)
	l.changed = make(chan struct{})
	if s == LifecycleDestroyed {
		close(l.destroyed)
	}
}

func (l *Lifecycle) Destroyed() <-chan struct{} { return l.destroyed }

func (l *Lifecycle) AwaitAtLeast(ctx context.Context, target LifecycleState) error {
	for {
		l.mu.Lock()
		state, changed := l.state, l.changed
		l.mu.Unlock()

		if state == LifecycleDestroyed {
			return apperrors.Cancelled("lifecycle.await", apperrors.ErrCancelled)
		}
		if state.AtLeast(target) {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return apperrors.Cancelled("lifecycle.await", ctx.Err())
		}
	}
}

func (l *Lifecycle) String() string { return "Lifecycle(" + l.State().String() + ")" }
