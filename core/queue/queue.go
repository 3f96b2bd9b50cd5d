// Package queue runs background jobs on a fixed worker pool with bounded
// retries. Jobs sharing a key run on the same worker in enqueue order.
package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("queue: closed")
	// ErrQueueFull indicates the worker's buffer is saturated and the job was not accepted.
	ErrQueueFull = errors.New("queue: full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls the behaviour of a Queue.
type Options struct {
	// Name tags log records.
	Name string
	// QueueSize is the buffer of each worker.
	QueueSize  int
	Workers    int
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number.
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single job including retries.
	MaxDuration time.Duration
	// Retryable decides whether a failed run is attempted again; nil -> netutil.ShouldRetry.
	Retryable func(error) bool
}

type job struct {
	id     string
	ctx    context.Context
	action string
	key    string
	run    func(ctx context.Context) error
}

// Queue executes jobs asynchronously.
type Queue struct {
	opts   Options
	shards []chan job
	next   atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	errs atomic.Uint64
	done atomic.Uint64
}

// New starts a queue with defaults for zeroed options.
func New(opts Options) *Queue {
	if opts.Name == "" {
		opts.Name = "queue"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = time.Minute
	}
	if opts.Retryable == nil {
		opts.Retryable = netutil.ShouldRetry
	}

	q := &Queue{opts: opts, shards: make([]chan job, opts.Workers)}
	q.wg.Add(opts.Workers)
	for i := range q.shards {
		q.shards[i] = make(chan job, opts.QueueSize)
		go q.worker(q.shards[i])
	}
	return q
}

// Enqueue schedules run. Jobs with the same non-empty key are executed in
// order by one worker. The context is detached from cancellation so a job
// outlives the request that scheduled it; its values are kept for logging.
func (q *Queue) Enqueue(ctx context.Context, action, key string, run func(ctx context.Context) error) error {
	if run == nil {
		return errors.New("queue: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{
		id:     uuid.NewString(),
		ctx:    context.WithoutCancel(ctx),
		action: action,
		key:    key,
		run:    run,
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.shards[q.shard(key)] <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) shard(key string) int {
	if key == "" {
		return int(q.next.Add(1) % uint64(len(q.shards)))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// ErrorCount returns the number of failed jobs.
func (q *Queue) ErrorCount() uint64 {
	return q.errs.Load()
}

// DoneCount returns the number of jobs that finished successfully.
func (q *Queue) DoneCount() uint64 {
	return q.done.Load()
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	n := 0
	for _, ch := range q.shards {
		n += len(ch)
	}
	return n
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker(jobs <-chan job) {
	defer q.wg.Done()
	for j := range jobs {
		q.handleJob(j)
	}
}

func (q *Queue) handleJob(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, q.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	logger.Debug(ctx, q.opts.Name, "job.start", q.logAttrs(j)...)

	var lastErr error
	attempts := q.opts.MaxRetries + 1

attemptLoop:
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		err := q.safeRun(ctx, j)
		if err == nil {
			if attempt > 1 {
				logger.Info(ctx, q.opts.Name, "job.retry.success",
					append(q.logAttrs(j), slog.Int("attempt", attempt))...,
				)
			}
			logger.Debug(ctx, q.opts.Name, "job.done",
				append(q.logAttrs(j), slog.Duration("took", logger.Took(start)))...,
			)
			q.done.Add(1)
			return
		}

		lastErr = err
		if !q.opts.Retryable(err) || attempt == attempts {
			break
		}

		delay := q.opts.RetryBackoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			break attemptLoop
		case <-timer.C:
		}
		logger.Debug(ctx, q.opts.Name, "job.retry.backoff",
			append(q.logAttrs(j),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)...,
		)
	}

	q.errs.Add(1)
	logger.Error(ctx, q.opts.Name, "job.fail",
		append(q.logAttrs(j),
			slog.String("err", sanitizeErrorMessage(lastErr)),
			slog.Int("attempts", attempts),
			slog.Duration("took", logger.Took(start)),
		)...,
	)
}

func (q *Queue) safeRun(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return j.run(ctx)
}

// PanicError reports a job that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "queue: job panicked"
}

func (q *Queue) logAttrs(j job) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", j.action),
		slog.String("job_id", logger.CompactRID(j.id)),
	}
	if j.key != "" {
		attrs = append(attrs, slog.String("user", j.key))
	}
	return attrs
}

// sanitizeErrorMessage keeps Telegram bot tokens out of logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
