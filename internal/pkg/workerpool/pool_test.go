package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p, err := New(&Config{Workers: workers}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestNewRejectsEmptyPool(t *testing.T) {
	_, err := New(&Config{Workers: 0}, nil)
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	p := newPool(t, 4)

	var wg sync.WaitGroup
	var n atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(20), n.Load())
	assert.Eventually(t, func() bool { return p.Stats().Completed == 20 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(20), p.Stats().Submitted)
}

func TestGroupBoundsConcurrency(t *testing.T) {
	p := newPool(t, 16)
	g := p.NewGroup(3)

	var current, peak atomic.Int32
	for i := 0; i < 12; i++ {
		require.NoError(t, g.Go(context.Background(), func() {
			c := current.Add(1)
			for {
				old := peak.Load()
				if c <= old || peak.CompareAndSwap(old, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}))
	}
	g.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(0), current.Load())
}

func TestGroupStopsSubmittingAfterCancel(t *testing.T) {
	p := newPool(t, 2)
	g := p.NewGroup(1)

	release := make(chan struct{})
	require.NoError(t, g.Go(context.Background(), func() { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Go(ctx, func() {}), context.Canceled)

	close(release)
	g.Wait()
}

func TestPanicIsContained(t *testing.T) {
	p := newPool(t, 1)
	g := p.NewGroup(1)

	require.NoError(t, g.Go(context.Background(), func() { panic("boom") }))
	g.Wait()

	assert.Eventually(t, func() bool { return p.Stats().Panicked == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubmitAfterShutdown(t *testing.T) {
	p, err := New(&Config{Workers: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}
