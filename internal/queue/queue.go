// Package queue provides the bounded, retrying, rate-limited in-process work
// queues the ingest pipelines run on. Jobs carry a typed payload and a job id;
// a failed attempt is retried with exponential backoff until the attempt
// budget is spent, then the job is dropped with an error log. Successful jobs
// leave no trace in the queue.
package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Handler processes one job payload within the per-attempt timeout. A non-nil
// error schedules a retry.
type Handler[T any] func(ctx context.Context, payload T) error

// Config sets the queue contracts.
type Config struct {
	Name       string        // queue name for logs and metrics
	Workers    int           // concurrent workers
	RatePerSec float64       // global jobs/second ceiling across all workers; <= 0 means unlimited
	Attempts   int           // total tries per job, including the first
	Backoff    time.Duration // delay before the first retry; doubles per retry
	Timeout    time.Duration // wall-clock budget per attempt
	Buffer     int           // pending-job channel capacity
}

type job[T any] struct {
	id      string
	payload T
	attempt int
}

// Queue is a bounded worker queue. Enqueue never blocks: when the buffer is
// full the job is dropped and counted, which keeps a slow store from backing
// up into the session read loop.
type Queue[T any] struct {
	cfg     Config
	handler Handler[T]
	jobs    chan job[T]
	limiter *rate.Limiter
	log     zerolog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup // admitted jobs not yet in a terminal state
	wg      sync.WaitGroup // workers
	dropped atomic.Int64

	// Hooks for metrics; may be nil.
	OnDone  func()
	OnRetry func()
	OnDrop  func(id string)
}

// New builds a queue around handler. Start must be called before jobs are
// processed; jobs enqueued earlier wait in the buffer.
func New[T any](cfg Config, log zerolog.Logger, handler Handler[T]) *Queue[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = int(cfg.RatePerSec)
	}
	return &Queue[T]{
		cfg:     cfg,
		handler: handler,
		jobs:    make(chan job[T], cfg.Buffer),
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With().Str("queue", cfg.Name).Logger(),
	}
}

// Start launches the workers. ctx is the hard-cancel path: on cancellation
// workers abandon the buffer immediately. Graceful teardown goes through Close.
func (q *Queue[T]) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue admits a job for processing. Returns false when the queue is closed
// or saturated; the job is dropped in either case.
func (q *Queue[T]) Enqueue(id string, payload T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	q.pending.Add(1)
	q.mu.Unlock()

	select {
	case q.jobs <- job[T]{id: id, payload: payload, attempt: 1}:
		return true
	default:
		q.pending.Done()
		q.dropped.Add(1)
		if q.OnDrop != nil {
			q.OnDrop(id)
		}
		q.log.Warn().Str("job", id).Msg("queue full, dropping job")
		return false
	}
}

// Close stops intake and waits for every admitted job — including scheduled
// retries — to reach a terminal state, then releases the workers. Returns
// ctx.Err() when draining outlives ctx.
func (q *Queue[T]) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(q.jobs)
	q.wg.Wait()
	return nil
}

// Depth returns the number of buffered jobs.
func (q *Queue[T]) Depth() int {
	return len(q.jobs)
}

// Dropped returns the total number of jobs dropped at enqueue or requeue.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(ctx, j)
		}
	}
}

func (q *Queue[T]) process(ctx context.Context, j job[T]) {
	if err := q.limiter.Wait(ctx); err != nil {
		// Hard cancel while throttled; the job is abandoned.
		q.pending.Done()
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	err := q.runAttempt(attemptCtx, j)
	cancel()

	if err == nil {
		if q.OnDone != nil {
			q.OnDone()
		}
		q.pending.Done()
		return
	}

	if j.attempt >= q.cfg.Attempts {
		q.log.Error().Str("job", j.id).Int("attempts", j.attempt).Err(err).
			Msg("job failed, attempts exhausted, dropping")
		q.dropped.Add(1)
		if q.OnDrop != nil {
			q.OnDrop(j.id)
		}
		q.pending.Done()
		return
	}

	delay := q.cfg.Backoff << (j.attempt - 1)
	q.log.Warn().Str("job", j.id).Int("attempt", j.attempt).Dur("retry_in", delay).Err(err).
		Msg("job failed, scheduling retry")
	if q.OnRetry != nil {
		q.OnRetry()
	}
	j.attempt++
	time.AfterFunc(delay, func() { q.requeue(j) })
}

// runAttempt invokes the handler with panic recovery so a bad payload can
// never take a worker down.
func (q *Queue[T]) runAttempt(ctx context.Context, j job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
			q.log.Error().Str("job", j.id).Interface("panic_value", r).
				Str("stack", string(debug.Stack())).Msg("worker panic recovered")
		}
	}()
	return q.handler(ctx, j.payload)
}

func (q *Queue[T]) requeue(j job[T]) {
	select {
	case q.jobs <- j:
	default:
		q.dropped.Add(1)
		if q.OnDrop != nil {
			q.OnDrop(j.id)
		}
		q.pending.Done()
		q.log.Error().Str("job", j.id).Msg("retry dropped, queue saturated")
	}
}
