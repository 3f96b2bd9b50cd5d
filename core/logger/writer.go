package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBacklog = 512
	// enqueueWait bounds how long a caller blocks on a full backlog before
	// the line is dropped.
	enqueueWait = 50 * time.Millisecond
)

var errWriterClosed = errors.New("logger: writer closed")

// lineWriter hands encoded lines to a single goroutine that writes them to
// every sink. The buffer is flushed each time the backlog drains.
type lineWriter struct {
	lines   chan []byte
	flushes chan chan error
	stopped chan struct{}

	// mu guards closing lines against concurrent writes.
	mu     sync.RWMutex
	closed bool

	out *bufio.Writer

	errMu sync.Mutex
	err   error

	dropped atomic.Uint64
}

func newLineWriter(sinks []io.Writer, backlog int) *lineWriter {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	live := sinks[:0:0]
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	w := &lineWriter{
		lines:   make(chan []byte, backlog),
		flushes: make(chan chan error),
		stopped: make(chan struct{}),
		out:     bufio.NewWriterSize(io.MultiWriter(live...), 32*1024),
	}
	go w.run()
	return w
}

func (w *lineWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.record(w.out.Flush())
				return
			}
			w.record(w.write(line))
			if len(w.lines) == 0 {
				w.record(w.out.Flush())
			}
		case ack := <-w.flushes:
			ack <- w.out.Flush()
		}
	}
}

func (w *lineWriter) write(line []byte) error {
	_, err := w.out.Write(line)
	return err
}

// Write queues a copy of line. When the backlog stays full past
// enqueueWait the line is counted as dropped.
func (w *lineWriter) Write(line []byte) error {
	if err := w.Err(); err != nil {
		return err
	}
	if len(line) == 0 {
		return nil
	}
	data := append([]byte(nil), line...)
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	select {
	case w.lines <- data:
		return nil
	default:
	}
	timer := time.NewTimer(enqueueWait)
	defer timer.Stop()
	select {
	case w.lines <- data:
	case <-timer.C:
		w.dropped.Add(1)
	}
	return nil
}

// Flush blocks until queued lines reach the sinks.
func (w *lineWriter) Flush() error {
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		return <-ack
	case <-w.stopped:
		return w.Err()
	}
}

// Close drains the backlog and returns the first write error.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.lines)
	}
	w.mu.Unlock()
	<-w.stopped
	return w.Err()
}

// Dropped reports how many lines were discarded under backpressure.
func (w *lineWriter) Dropped() uint64 { return w.dropped.Load() }

// Err returns the first write error, if any.
func (w *lineWriter) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *lineWriter) record(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}
