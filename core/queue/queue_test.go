package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestRetriesUntilSuccess(t *testing.T) {
	q := New(Options{
		Workers:      1,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Retryable:    func(err error) bool { return errors.Is(err, errTransient) },
	})
	var calls atomic.Int32
	done := make(chan struct{})
	err := q.Enqueue(context.Background(), "send", "u1", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errTransient
		}
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
	q.Close()
	if calls.Load() != 3 || q.ErrorCount() != 0 || q.DoneCount() != 1 {
		t.Fatalf("calls=%d errors=%d done=%d", calls.Load(), q.ErrorCount(), q.DoneCount())
	}
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	q := New(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	_ = q.Enqueue(context.Background(), "send", "", func(context.Context) error {
		calls.Add(1)
		return errors.New("bad request")
	})
	q.Close()
	if calls.Load() != 1 || q.ErrorCount() != 1 {
		t.Fatalf("calls=%d errors=%d", calls.Load(), q.ErrorCount())
	}
}

func TestSameKeyRunsInOrder(t *testing.T) {
	q := New(Options{Workers: 4})
	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		if err := q.Enqueue(context.Background(), "receive", "user-1", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	q.Close()
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 20 {
		t.Fatalf("ran %d jobs", len(got))
	}
}

func TestEnqueueFullAndClosed(t *testing.T) {
	q := New(Options{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	_ = q.Enqueue(context.Background(), "block", "", func(context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started
	if err := q.Enqueue(context.Background(), "a", "", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := q.Enqueue(context.Background(), "b", "", func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue err = %v", err)
	}
	close(block)
	q.Close()
	if err := q.Enqueue(context.Background(), "c", "", func(context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close err = %v", err)
	}
}

func TestPanicIsRecorded(t *testing.T) {
	q := New(Options{Workers: 1})
	_ = q.Enqueue(context.Background(), "boom", "", func(context.Context) error { panic("boom") })
	q.Close()
	if q.ErrorCount() != 1 {
		t.Fatalf("errors = %d", q.ErrorCount())
	}
}

func TestJobOutlivesCallerContext(t *testing.T) {
	q := New(Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	var sawErr atomic.Value
	_ = q.Enqueue(ctx, "detached", "", func(jobCtx context.Context) error {
		sawErr.Store(jobCtx.Err() == nil)
		return nil
	})
	cancel()
	q.Close()
	if ok, _ := sawErr.Load().(bool); !ok {
		t.Fatal("job context was cancelled with the caller")
	}
}
