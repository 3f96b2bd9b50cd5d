package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestSixthRequestInWindowIsThrottled(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := New(time.Second, 5).WithClock(func() time.Time { return now })

	for i := 1; i <= 5; i++ {
		if err := w.Allow(); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		now = now.Add(100 * time.Millisecond)
	}
	if err := w.Allow(); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("6th request err = %v", err)
	}
	if inWindow, rejected := w.Stats(); inWindow != 5 || rejected != 1 {
		t.Fatalf("stats = %d/%d", inWindow, rejected)
	}

	now = now.Add(time.Second)
	for i := 1; i <= 5; i++ {
		if err := w.Allow(); err != nil {
			t.Fatalf("after window, request %d: %v", i, err)
		}
	}
}

func TestSlowRequestsNeverThrottle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := New(time.Second, 5).WithClock(func() time.Time { return now })
	for i := 0; i < 50; i++ {
		if err := w.Allow(); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		now = now.Add(time.Second)
	}
}

func TestDefaults(t *testing.T) {
	w := New(0, 0)
	if w.window != DefaultWindow || w.max != DefaultMax {
		t.Fatalf("window=%s max=%d", w.window, w.max)
	}
}
