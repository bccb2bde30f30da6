package export

import (
	"context"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"
)

const (
	MinConcurrency = 1
	// MaxConcurrency caps parallel browser contexts to bound memory.
	MaxConcurrency = 8
)

// Outcome is the result of one job in a batch.
type Outcome struct {
	Index  int
	Job    *Job
	Result Result
	Err    error
}

// RunBatch runs independent jobs with at most concurrency of them in flight.
// Each job gets its own browser context; a failing job does not stop the
// others. Outcomes are returned in the order of jobs.
func RunBatch(ctx context.Context, e *Exporter, jobs []*Job, concurrency int) []Outcome {
	if concurrency < MinConcurrency {
		concurrency = MinConcurrency
	}

	p := pool.NewWithResults[Outcome]().WithMaxGoroutines(concurrency)
	for i, job := range jobs {
		p.Go(func() Outcome {
			if err := ctx.Err(); err != nil {
				return Outcome{Index: i, Job: job, Err: err}
			}
			res, err := e.Run(ctx, job)
			return Outcome{Index: i, Job: job, Result: res, Err: err}
		})
	}

	out := p.Wait()
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

// ResolveConcurrency picks the number of parallel jobs.
// An explicit positive value wins, otherwise half of GOMAXPROCS (which
// automaxprocs adjusts to the container quota), clamped to the limits.
func ResolveConcurrency(n int) int {
	if n > 0 {
		return n
	}
	n = runtime.GOMAXPROCS(0) / 2
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
