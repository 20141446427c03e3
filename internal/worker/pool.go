package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Pool manages a pool of workers that execute jobs concurrently.
// Results are drained by a collector goroutine, so Submit never waits
// on a consumer.
type Pool struct {
	workers       int
	jobQueue      chan Job
	results       chan Result
	collected     []Result
	collectorDone chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancelFunc    context.CancelFunc
	startOnce     sync.Once
	closeJobs     sync.Once
	closeOnce     sync.Once
}

// NewPoolWithContext creates a pool whose jobs stop being dispatched once
// parent is cancelled. Jobs already running see the cancellation through
// their context and decide themselves how to finish.
func NewPoolWithContext(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		workers:       workers,
		jobQueue:      make(chan Job, workers*2),
		results:       make(chan Result, workers*2),
		collectorDone: make(chan struct{}),
		ctx:           ctx,
		cancelFunc:    cancel,
	}
}

// Start starts the workers and the result collector
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		go p.collect()
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

func (p *Pool) collect() {
	defer close(p.collectorDone)
	for r := range p.results {
		p.collected = append(p.collected, r)
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		// Cancellation wins over queued work
		if p.ctx.Err() != nil {
			return
		}
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.results <- job.Execute(p.ctx)
		}
	}
}

// Submit queues a job. It returns false if the pool has been cancelled.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- job:
		return true
	}
}

// Wait closes the queue, waits for the workers and returns all results
func (p *Pool) Wait() []Result {
	p.closeJobs.Do(func() { close(p.jobQueue) })
	p.wg.Wait()
	p.closeResults()
	<-p.collectorDone
	p.cancelFunc()
	return p.collected
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
