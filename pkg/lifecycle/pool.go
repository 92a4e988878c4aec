package lifecycle

import (
	"context"
	"sync"
)

// DefaultConcurrency is the default worker count for multi-extension
// operations.
const DefaultConcurrency = 4

// TaskResult is the outcome of one pooled task.
type TaskResult struct {
	// Name is the extension the task ran for.
	Name string

	// Err is the task error, nil on success.
	Err error
}

// Pool runs per-extension tasks with bounded concurrency. Each
// extension is handled by exactly one worker; concurrent operations
// on the same extension are not supported and the pool does not
// deduplicate names.
type Pool struct {
	workers int
}

// NewPool creates a pool with the given worker count. Non-positive
// counts fall back to DefaultConcurrency.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	return &Pool{workers: workers}
}

// Run executes fn for every name and returns one result per name, in
// completion order. Workers stop picking up new names once the
// context is cancelled; names never started are reported with the
// context error.
func (p *Pool) Run(ctx context.Context, names []string, fn func(ctx context.Context, name string) error) []TaskResult {
	if len(names) == 0 {
		return nil
	}

	workerCount := p.workers
	if len(names) < workerCount {
		workerCount = len(names)
	}

	queue := make(chan string, len(names))
	for _, name := range names {
		queue <- name
	}
	close(queue)

	results := make(chan TaskResult, len(names))
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for name := range queue {
				select {
				case <-ctx.Done():
					results <- TaskResult{Name: name, Err: ctx.Err()}
					continue
				default:
				}

				results <- TaskResult{Name: name, Err: fn(ctx, name)}
			}
		}()
	}

	wg.Wait()
	close(results)

	out := make([]TaskResult, 0, len(names))
	for r := range results {
		out = append(out, r)
	}
	return out
}
