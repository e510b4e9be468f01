// Package health provides health checks for the external dependencies of
// the coordinator: the Debate Store database, Redis and the video provider.
package health

import (
	"context"
	"sort"
	"sync"
)

// Checker is implemented by anything that can report its health.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Result is the outcome of one named check.
type Result struct {
	Name string
	Err  error
}

// RunAll runs every checker concurrently and returns results sorted by name.
// Nil checkers are skipped.
func RunAll(ctx context.Context, checkers map[string]Checker) []Result {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
	)
	for name, c := range checkers {
		if c == nil {
			continue
		}
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			err := c.HealthCheck(ctx)
			mu.Lock()
			results = append(results, Result{Name: name, Err: err})
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}
