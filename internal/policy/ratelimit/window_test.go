package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestWindowAdmitsUpToLimit verifies the first starts pass without waiting.
func TestWindowAdmitsUpToLimit(t *testing.T) {
	t.Parallel()

	w := NewWindow(3, time.Minute)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 3, w.InWindow())
}

// TestWindowBoundsConcurrentStarts checks the rolling cap under concurrent load.
func TestWindowBoundsConcurrentStarts(t *testing.T) {
	t.Parallel()

	const limit = 5
	period := 100 * time.Millisecond
	w := NewWindow(limit, period)

	var peak atomic.Int64
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if n := int64(w.InWindow()); n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Wait(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	close(done)

	require.GreaterOrEqual(t, time.Since(start), 2*period-10*time.Millisecond)
	require.LessOrEqual(t, peak.Load(), int64(limit))
}

// TestWindowWaitHonoursContext ensures a full window returns when ctx ends.
func TestWindowWaitHonoursContext(t *testing.T) {
	t.Parallel()

	w := NewWindow(1, time.Hour)
	require.NoError(t, w.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestWindowExpiresOldStarts uses a fake clock to verify starts leave the window.
func TestWindowExpiresOldStarts(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(2, time.Minute)
	w.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	_, ok := w.reserve()
	require.True(t, ok)
	advance(30 * time.Second)
	_, ok = w.reserve()
	require.True(t, ok)

	delay, ok := w.reserve()
	require.False(t, ok)
	require.Equal(t, 30*time.Second, delay)

	advance(30 * time.Second)
	_, ok = w.reserve()
	require.True(t, ok)
	require.Equal(t, 2, w.InWindow())
}
