package importqueue

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/MichaelMauderer/Gazer/importer"
)

// DefaultConcurrency is how many imports run at once unless configured.
const DefaultConcurrency = 1

// Runner executes queued imports with bounded concurrency.
type Runner struct {
	queue   *Queue
	limit   int
	mu      sync.Mutex
	running int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    sync.WaitGroup
}

// NewRunner starts listening on the queue's signal channel.
func NewRunner(queue *Queue, limit int) *Runner {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:  queue,
		limit:  limit,
		ctx:    ctx,
		cancel: cancel,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-r.queue.Signal:
				r.CheckForJobs()
			}
		}
	}()
	return r
}

// Shutdown stops accepting jobs, cancels running ones and waits for them.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()

	r.queue.mu.Lock()
	for _, job := range r.queue.Jobs {
		if job.State == StateInProgress && job.cancel != nil {
			job.cancel()
		}
	}
	r.queue.mu.Unlock()
	r.jobs.Wait()
}

// CheckForJobs starts pending jobs while below the concurrency limit.
func (r *Runner) CheckForJobs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tryFetchJobsAndRun()
}

func (r *Runner) tryFetchJobsAndRun() {
	for r.running < r.limit && r.ctx.Err() == nil {
		job := r.queue.Claim()
		if job == nil {
			return
		}
		r.runJob(job)
	}
}

func (r *Runner) runJob(j *Job) {
	r.running++
	r.jobs.Add(1)
	go func() {
		defer r.jobs.Done()
		defer func() {
			r.mu.Lock()
			r.running--
			r.tryFetchJobsAndRun()
			r.mu.Unlock()
		}()

		progress := func(p importer.Progress) { r.queue.UpdateProgress(j.ID, p) }
		s, err := j.fn(j.ctx, progress)
		if j.ctx.Err() != nil {
			// Cancel already moved the job out of progress.
			return
		}
		if err == nil && s == nil {
			err = errors.New("import produced no scene")
		}
		if err != nil {
			log.Printf("Failed to import %s: %v", j.Name, err)
			_ = r.queue.Fail(j.ID, err)
			return
		}
		if err := r.queue.Complete(j.ID, s); err != nil {
			log.Printf("Failed to complete import %s: %v", j.Name, err)
		}
	}()
}
