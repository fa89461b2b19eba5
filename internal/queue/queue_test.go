package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig(name string) Config {
	return Config{
		Name:     name,
		Workers:  2,
		Attempts: 3,
		Backoff:  5 * time.Millisecond,
		Timeout:  time.Second,
		Buffer:   64,
	}
}

func TestQueue_ProcessesAllJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	q := New(testConfig("ticks"), zerolog.Nop(), func(ctx context.Context, id string) error {
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		if !q.Enqueue(id, id) {
			t.Fatalf("enqueue %q rejected", id)
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, id := range ids {
		if !seen[id] {
			t.Errorf("expected job %q to be processed", id)
		}
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	q := New(testConfig("ticks"), zerolog.Nop(), func(ctx context.Context, _ struct{}) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	var retries, drops atomic.Int32
	q.OnRetry = func() { retries.Add(1) }
	q.OnDrop = func(string) { drops.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Enqueue("j1", struct{}{})

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if got := retries.Load(); got != 2 {
		t.Errorf("expected 2 retries, got %d", got)
	}
	if got := drops.Load(); got != 0 {
		t.Errorf("expected 0 drops, got %d", got)
	}
}

func TestQueue_DropsAfterAttemptsExhausted(t *testing.T) {
	var calls atomic.Int32
	q := New(testConfig("ticks"), zerolog.Nop(), func(ctx context.Context, _ struct{}) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	var drops atomic.Int32
	q.OnDrop = func(string) { drops.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Enqueue("j1", struct{}{})

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	if got := drops.Load(); got != 1 {
		t.Errorf("expected 1 drop, got %d", got)
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("expected dropped counter 1, got %d", got)
	}
}

func TestQueue_ExponentialBackoffDelays(t *testing.T) {
	cfg := testConfig("ticks")
	cfg.Backoff = 30 * time.Millisecond

	var calls atomic.Int32
	start := time.Now()
	var third time.Time
	q := New(cfg, zerolog.Nop(), func(ctx context.Context, _ struct{}) error {
		if calls.Add(1) == 3 {
			third = time.Now()
			return nil
		}
		return errors.New("transient")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Enqueue("j1", struct{}{})

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Two retries: 30ms then 60ms, so the third attempt runs no earlier
	// than 90ms after the first.
	if elapsed := third.Sub(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected >= 90ms before third attempt, got %v", elapsed)
	}
}

func TestQueue_ConcurrencyCeiling(t *testing.T) {
	cfg := testConfig("ticks")
	cfg.Workers = 5
	cfg.Buffer = 128

	var inFlight, peak atomic.Int32
	q := New(cfg, zerolog.Nop(), func(ctx context.Context, _ struct{}) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	for i := 0; i < 40; i++ {
		q.Enqueue("job", struct{}{})
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if p := peak.Load(); p > 5 {
		t.Errorf("expected at most 5 concurrent jobs, got %d", p)
	}
}

func TestQueue_RateLimit(t *testing.T) {
	cfg := testConfig("ticks")
	cfg.Workers = 4
	cfg.RatePerSec = 10 // burst 10, so 15 jobs need >= ~500ms

	q := New(cfg, zerolog.Nop(), func(ctx context.Context, _ struct{}) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	start := time.Now()
	for i := 0; i < 15; i++ {
		q.Enqueue("job", struct{}{})
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("expected rate limiting to stretch processing past 300ms, got %v", elapsed)
	}
}

func TestQueue_TimeoutTriggersRetry(t *testing.T) {
	cfg := testConfig("ticks")
	cfg.Attempts = 2
	cfg.Timeout = 20 * time.Millisecond

	var calls atomic.Int32
	q := New(cfg, zerolog.Nop(), func(ctx context.Context, _ struct{}) error {
		calls.Add(1)
		<-ctx.Done() // simulate a stalled store call that honours ctx
		return ctx.Err()
	})
	var drops atomic.Int32
	q.OnDrop = func(string) { drops.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Enqueue("slow", struct{}{})

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 timed-out attempts, got %d", got)
	}
	if got := drops.Load(); got != 1 {
		t.Errorf("expected 1 drop, got %d", got)
	}
}

func TestQueue_SaturationDropsNewJobs(t *testing.T) {
	cfg := testConfig("ticks")
	cfg.Workers = 1
	cfg.Buffer = 1

	release := make(chan struct{})
	q := New(cfg, zerolog.Nop(), func(ctx context.Context, _ struct{}) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue("running", struct{}{})  // picked up by the worker
	time.Sleep(20 * time.Millisecond) // let the worker block in the handler
	q.Enqueue("buffered", struct{}{}) // fills the buffer
	if q.Enqueue("overflow", struct{}{}) {
		t.Errorf("expected enqueue on a saturated queue to be rejected")
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped job, got %d", got)
	}

	close(release)
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestQueue_PanicDoesNotKillWorker(t *testing.T) {
	var calls atomic.Int32
	q := New(testConfig("ticks"), zerolog.Nop(), func(ctx context.Context, _ struct{}) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Enqueue("j1", struct{}{})

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	// First attempt panicked, second succeeded.
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if got := q.Dropped(); got != 0 {
		t.Errorf("expected no drops, got %d", got)
	}
}

func TestQueue_EnqueueAfterCloseRejected(t *testing.T) {
	q := New(testConfig("ticks"), zerolog.Nop(), func(ctx context.Context, _ struct{}) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if q.Enqueue("late", struct{}{}) {
		t.Errorf("expected enqueue after close to be rejected")
	}
}
