package engine

import (
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shelfdb/src/helpers"
)

// Executor fans a per-file operation out over a fixed pool of workers. Each
// worker owns a contiguous slice of the path list, so no two workers touch
// the same file within one call. With parallelism off the same code runs on
// the calling goroutine.
type Executor struct {
	mu       sync.RWMutex
	parallel bool
	workers  int
	logger   *zap.SugaredLogger
}

// NewExecutor creates an executor. workers <= 0 selects runtime.NumCPU().
func NewExecutor(parallel bool, workers int, logger *zap.SugaredLogger) *Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor{
		parallel: parallel,
		workers:  workers,
		logger:   helpers.LoggerOrNop(logger),
	}
}

// SetParallel toggles parallel execution.
func (e *Executor) SetParallel(on bool) {
	e.mu.Lock()
	e.parallel = on
	e.mu.Unlock()
}

// Parallel reports whether parallel execution is on.
func (e *Executor) Parallel() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parallel
}

// Workers returns the pool size used when parallel execution is on.
func (e *Executor) Workers() int {
	return e.workers
}

func (e *Executor) poolSize(n int) int {
	if !e.Parallel() || n < 2 {
		return 1
	}
	if e.workers < n {
		return e.workers
	}
	return n
}

// partition splits paths into at most n contiguous chunks of near-equal size.
func partition(paths []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if n > len(paths) {
		n = len(paths)
	}
	chunks := make([][]string, 0, n)
	size, rest := len(paths)/max(n, 1), len(paths)%max(n, 1)
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rest {
			end++
		}
		chunks = append(chunks, paths[start:end])
		start = end
	}
	return chunks
}

// MapFiles runs fn over every path and concatenates the per-worker results.
// A failing path contributes nothing; its error is collected and the rest of
// the batch continues.
func MapFiles[T any](e *Executor, paths []string, fn func(path string) ([]T, error)) ([]T, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	chunks := partition(paths, e.poolSize(len(paths)))
	results := make([][]T, len(chunks))
	failures := make([]error, len(chunks))

	run := func(w int) {
		for _, p := range chunks[w] {
			out, err := fn(p)
			if err != nil {
				e.logger.Warnw("Skipping file", "path", p, "error", err)
				failures[w] = multierr.Append(failures[w], err)
				continue
			}
			results[w] = append(results[w], out...)
		}
	}

	if len(chunks) == 1 {
		run(0)
	} else {
		var g errgroup.Group
		for w := range chunks {
			w := w
			g.Go(func() error {
				run(w)
				return nil
			})
		}
		_ = g.Wait()
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	merged := make([]T, 0, total)
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, multierr.Combine(failures...)
}

// SumFiles runs fn over every path and reduces the per-file counts by sum.
// A count returned together with an error is still added: the file was
// changed even though a follow-up step failed.
func SumFiles(e *Executor, paths []string, fn func(path string) (int, error)) (int, error) {
	type fileCount struct {
		n   int
		err error
	}
	counts, err := MapFiles(e, paths, func(p string) ([]fileCount, error) {
		n, err := fn(p)
		return []fileCount{{n: n, err: err}}, nil
	})

	sum := 0
	for _, c := range counts {
		sum += c.n
		err = multierr.Append(err, c.err)
	}
	return sum, err
}
