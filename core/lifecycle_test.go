package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

func TestLifecycle_AwaitAtLeast(t *testing.T) {
	l := core.NewLifecycle(core.LifecycleCreated)
	errc := make(chan error, 1)
	go func() { errc <- l.AwaitAtLeast(context.Background(), core.LifecycleStarted) }()

	select {
	case <-errc:
		t.Fatal("returned before STARTED")
	case <-time.After(20 * time.Millisecond):
	}

	l.SetState(core.LifecycleResumed)
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitAtLeast did not return")
	}
}

func TestLifecycle_DestroyedCancels(t *testing.T) {
	l := core.NewLifecycle(core.LifecycleCreated)
	errc := make(chan error, 1)
	go func() { errc <- l.AwaitAtLeast(context.Background(), core.LifecycleStarted) }()

	l.SetState(core.LifecycleDestroyed)
	err := <-errc
	assert.True(t, apperrors.IsCancelled(err))

	select {
	case <-l.Destroyed():
	default:
		t.Fatal("Destroyed channel not closed")
	}

	// Destroyed is final.
	l.SetState(core.LifecycleResumed)
	assert.Equal(t, core.LifecycleDestroyed, l.State())
}

func TestLifecycle_ContextCancel(t *testing.T) {
	l := core.NewLifecycle(core.LifecycleInitialized)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.AwaitAtLeast(ctx, core.LifecycleStarted)
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))
}

func TestLifecycleState_AtLeast(t *testing.T) {
	assert.True(t, core.LifecycleResumed.AtLeast(core.LifecycleStarted))
	assert.False(t, core.LifecycleCreated.AtLeast(core.LifecycleStarted))
	assert.False(t, core.LifecycleDestroyed.AtLeast(core.LifecycleInitialized))
	assert.Equal(t, core.LifecycleResumed, core.GlobalLifecycle.State())
}
