// Package concurrency provides the autopilot's one bounded-concurrency
// fan-out primitive, used by the tick orchestrator for every per-job
// operation. A plain semaphore-guarded WaitGroup rather than
// golang.org/x/sync/errgroup: the orchestrator needs every item's result
// with per-item errors recorded individually, not errgroup's fail-fast
// single-error short-circuit.
package concurrency

import "sync"

// MapLimit applies fn to every item in items with at most limit concurrent
// calls in flight, preserving input order in the returned results slice.
// It always runs every item to completion (no fail-fast), and returns the
// first non-nil error encountered across all calls after every item has
// settled — callers that need per-item errors should capture them inside
// fn's own return value rather than relying on the aggregate error here.
func MapLimit[T, R any](limit int, items []T, fn func(item T) (R, error)) ([]R, error) {
	if limit <= 0 {
		limit = 1
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			r, err := fn(item)
			results[i] = r
			errs[i] = err
		}(i, item)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
