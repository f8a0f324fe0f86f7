package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/topicwatch/internal/metrics"
)

// Window admits at most Max starts within any rolling Period. A caller that
// finds the window full sleeps until the oldest start leaves it.
type Window struct {
	mu     sync.Mutex
	max    int
	period time.Duration
	starts []time.Time
	now    func() time.Time
}

// NewWindow builds a Window allowing limit starts per period. A limit of
// zero or less disables limiting.
func NewWindow(limit int, period time.Duration) *Window {
	if period <= 0 {
		period = time.Minute
	}
	return &Window{max: limit, period: period, now: time.Now}
}

// Wait blocks until a start is admitted or ctx is done.
func (w *Window) Wait(ctx context.Context) error {
	if w == nil || w.max <= 0 {
		return nil
	}
	var waited time.Duration
	for {
		delay, ok := w.reserve()
		if ok {
			if waited > 0 {
				metrics.ObserveRateLimitDelay("window", waited)
			}
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
			waited += delay
		}
	}
}

// reserve records a start when the window has room, or reports how long
// until the oldest start expires.
func (w *Window) reserve() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	cutoff := now.Add(-w.period)
	drop := 0
	for drop < len(w.starts) && !w.starts[drop].After(cutoff) {
		drop++
	}
	w.starts = w.starts[drop:]
	if len(w.starts) < w.max {
		w.starts = append(w.starts, now)
		return 0, true
	}
	delay := w.starts[0].Add(w.period).Sub(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	return delay, false
}

// InWindow reports how many starts fall within the current period.
func (w *Window) InWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-w.period)
	n := 0
	for _, s := range w.starts {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}
