package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func resultMap(results []TaskResult) map[string]error {
	m := make(map[string]error, len(results))
	for _, r := range results {
		m[r.Name] = r.Err
	}
	return m
}

func TestPoolRunsAllTasks(t *testing.T) {
	var mu sync.Mutex
	ran := make(map[string]bool)

	pool := NewPool(3)
	results := pool.Run(context.Background(), []string{"a", "b", "c", "d", "e"},
		func(ctx context.Context, name string) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			return nil
		})

	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if len(ran) != 5 {
		t.Errorf("expected all 5 tasks to run, got %d", len(ran))
	}
	for name, err := range resultMap(results) {
		if err != nil {
			t.Errorf("task %s: unexpected error %v", name, err)
		}
	}
}

func TestPoolReportsPerTaskErrors(t *testing.T) {
	failure := errors.New("install failed")

	pool := NewPool(2)
	results := pool.Run(context.Background(), []string{"ok", "bad", "ok2"},
		func(ctx context.Context, name string) error {
			if name == "bad" {
				return failure
			}
			return nil
		})

	m := resultMap(results)
	if m["ok"] != nil || m["ok2"] != nil {
		t.Error("expected successful tasks to carry no error")
	}
	if !errors.Is(m["bad"], failure) {
		t.Errorf("expected failure for bad, got %v", m["bad"])
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 2
	var active, peak int32

	pool := NewPool(workers)
	names := make([]string, 16)
	for i := range names {
		names[i] = fmt.Sprintf("ext-%d", i)
	}

	started := make(chan struct{}, len(names))
	done := make(chan struct{})
	results := make(chan []TaskResult, 1)
	go func() {
		results <- pool.Run(context.Background(), names,
			func(ctx context.Context, name string) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				started <- struct{}{}
				<-done
				atomic.AddInt32(&active, -1)
				return nil
			})
	}()

	// Let the workers pick up their first tasks, then release everyone.
	for i := 0; i < workers; i++ {
		<-started
	}
	close(done)

	<-results
	if got := atomic.LoadInt32(&peak); got > workers {
		t.Errorf("expected at most %d concurrent tasks, observed %d", workers, got)
	}
}

func TestPoolCancelledContextReportsUnstartedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(1)
	results := pool.Run(ctx, []string{"a", "b", "c"}, func(ctx context.Context, name string) error {
		t.Errorf("task %s should not run after cancellation", name)
		return nil
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("task %s: expected context.Canceled, got %v", r.Name, r.Err)
		}
	}
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	pool := NewPool(0)
	results := pool.Run(context.Background(), []string{"a"}, func(ctx context.Context, name string) error {
		return nil
	})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
}
