package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

func TestDispatch_BoundsConcurrency(t *testing.T) {
	d := core.NewDispatcher("decode", 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.Dispatch(context.Background(), d, func(context.Context) (int, error) {
				<-release
				return 1, nil
			})
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return d.Active() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, d.Active())

	close(release)
	wg.Wait()
	assert.EqualValues(t, 0, d.Active())
	assert.EqualValues(t, 2, d.Peak())
	assert.Equal(t, 2, d.Limit())
}

func TestDispatch_ReturnsResult(t *testing.T) {
	d := core.NewDispatcher("network", 1)
	v, err := core.Dispatch(context.Background(), d, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDispatch_CancelWhileWaitingForSlot(t *testing.T) {
	d := core.NewDispatcher("network", 1)
	block := make(chan struct{})
	defer close(block)
	go core.Dispatch(context.Background(), d, func(context.Context) (int, error) { <-block; return 0, nil })
	require.Eventually(t, func() bool { return d.Active() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	_, err := core.Dispatch(ctx, d, func(context.Context) (int, error) { called = true; return 0, nil })
	assert.True(t, apperrors.IsCancelled(err))
	assert.False(t, called)
}

func TestDispatch_CancelWhileRunning(t *testing.T) {
	d := core.NewDispatcher("decode", 1)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()
	_, err := core.Dispatch(ctx, d, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.True(t, apperrors.IsCancelled(err))
	require.Eventually(t, func() bool { return d.Active() == 0 }, time.Second, 5*time.Millisecond)
}
