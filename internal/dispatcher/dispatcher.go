// Package dispatcher fans a batch of jobs out to a bounded pool of
// goroutines and joins their results.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
)

// Dispatcher runs jobs through a crawler.Processor with bounded parallelism.
type Dispatcher struct {
	processor crawler.Processor
	workers   int
}

// New creates a Dispatcher. Fewer than one worker is treated as one, which
// processes jobs strictly sequentially in input order.
func New(processor crawler.Processor, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		processor: processor,
		workers:   workers,
	}
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int { return d.workers }

// Gather processes every job and blocks until all of them reached a terminal
// state. The returned results are index-aligned with jobs. onDone, when
// non-nil, is called from the worker goroutines as each job finishes and must
// be safe for concurrent use. If ctx ends before a job is started, that job
// is reported as failed with the context error.
func (d *Dispatcher) Gather(
	ctx context.Context,
	jobs []crawler.Job,
	onDone func(index int, result crawler.Result),
) []crawler.Result {
	results := make([]crawler.Result, len(jobs))
	started := make([]bool, len(jobs))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < min(d.workers, len(jobs)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				res := d.processor.Process(ctx, jobs[idx])
				results[idx] = res
				if onDone != nil {
					onDone(idx, res)
				}
			}
		}()
	}

feed:
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case indexes <- i:
			started[i] = true
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	for i, ok := range started {
		if ok {
			continue
		}
		results[i] = crawler.Result{
			Job:   jobs[i],
			State: crawler.JobStateFailed,
			Err:   fmt.Errorf("not started: %w", context.Cause(ctx)),
		}
	}
	return results
}
