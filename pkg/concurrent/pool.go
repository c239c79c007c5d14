// pkg/concurrent/pool.go
package concurrent

import (
	"context"
	"sync"
)

// Job represents a unit of work to be done
type Job interface {
	Do(ctx context.Context) error
}

// Result is the outcome of one job.
type Result struct {
	Job Job
	Err error
}

// Pool is a worker pool that processes jobs concurrently
type Pool struct {
	workers int
	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan Job),
		results: make(chan Result, workers),
	}
}

// Start begins the worker pool
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit adds a job to the pool. It blocks until a worker is free.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Results returns a channel that receives job results. It is closed by Stop.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stop waits for submitted jobs to finish and closes Results. Results must
// be drained concurrently.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
}

// worker processes jobs from the pool. Once ctx is done remaining jobs are
// reported with ctx.Err() instead of being run.
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		if err := ctx.Err(); err != nil {
			p.results <- Result{Job: job, Err: err}
			continue
		}
		p.results <- Result{Job: job, Err: job.Do(ctx)}
	}
}

type indexedJob struct {
	Job
	index int
}

// Run executes jobs on at most workers goroutines and returns their errors
// in submission order.
func Run(ctx context.Context, workers int, jobs []Job) []error {
	p := NewPool(workers)
	p.Start(ctx)

	go func() {
		for i, job := range jobs {
			p.Submit(indexedJob{Job: job, index: i})
		}
		p.Stop()
	}()

	errs := make([]error, len(jobs))
	for r := range p.Results() {
		errs[r.Job.(indexedJob).index] = r.Err
	}
	return errs
}
