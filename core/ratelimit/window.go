// Package ratelimit throttles outbound sends against a shared quota.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrLimitExceeded is returned when too many requests arrive inside one window.
var ErrLimitExceeded = errors.New("rate limit exceeded")

const (
	// DefaultWindow is the gap under which requests count as a burst.
	DefaultWindow = time.Second
	// DefaultMax is the largest accepted burst.
	DefaultMax = 5
)

// Window is a global burst counter. A request arriving less than one window
// after the previous accepted request extends the burst; a slower one starts
// a new burst. More than max requests in one burst are rejected.
type Window struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	now      func() time.Time
	last     time.Time
	count    int
	rejected uint64
}

// New returns a Window; non-positive arguments fall back to the defaults.
func New(window time.Duration, max int) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &Window{window: window, max: max, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

// Allow records a request and fails with ErrLimitExceeded when the burst is
// over the limit. Rejected requests do not move the window.
func (w *Window) Allow() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	count := 1
	if !w.last.IsZero() && now.Sub(w.last) < w.window {
		count = w.count + 1
	}
	if count > w.max {
		w.rejected++
		return ErrLimitExceeded
	}
	w.count = count
	w.last = now
	return nil
}

// Stats reports the current burst size and total rejections.
func (w *Window) Stats() (inWindow int, rejected uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last.IsZero() || w.now().Sub(w.last) >= w.window {
		return 0, w.rejected
	}
	return w.count, w.rejected
}
