package lanes

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimitBoundsConcurrency(t *testing.T) {
	lim := New(nil, map[string]Config{"llm": {MaxConcurrent: 2}})
	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lim.Limit(context.Background(), "llm", func(ctx context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("expected at most 2 concurrent admissions, saw %d", got)
	}
}

func TestLimitAdmitsInSubmissionOrder(t *testing.T) {
	lim := New(nil, map[string]Config{"source_bibliographic": {MaxConcurrent: 1}})
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = lim.Limit(context.Background(), "source_bibliographic", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = lim.Limit(context.Background(), "source_bibliographic", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
		}(i)
		// Stagger submissions so queue positions are deterministic.
		time.Sleep(20 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i, id := range order {
		if id != i {
			t.Fatalf("expected FIFO admission, got order %v", order)
		}
	}
}

func TestLimitEnforcesSpacing(t *testing.T) {
	lim := New(nil, map[string]Config{"spaced": {MaxConcurrent: 1, MinSpacing: 50 * time.Millisecond}})
	var starts []time.Time
	for i := 0; i < 3; i++ {
		_ = lim.Limit(context.Background(), "spaced", func(ctx context.Context) error {
			starts = append(starts, time.Now())
			return nil
		})
	}
	if len(starts) != 3 {
		t.Fatalf("expected 3 admissions, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < 45*time.Millisecond {
			t.Fatalf("admission %d started %v after previous, want >= 50ms", i, gap)
		}
	}
}

func TestLimitCancelledWhileQueued(t *testing.T) {
	lim := New(nil, map[string]Config{"llm": {MaxConcurrent: 1}})
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = lim.Limit(context.Background(), "llm", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- lim.Limit(ctx, "llm", func(ctx context.Context) error { return nil })
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for a cancelled waiter")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}
	close(release)
}

func TestLimitUnknownLaneRunsDirectly(t *testing.T) {
	lim := New(nil, map[string]Config{})
	ran := false
	if err := lim.Limit(context.Background(), "nope", func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run for an unknown lane")
	}
}
