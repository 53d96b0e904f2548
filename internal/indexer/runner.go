package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrRunnerStopped is reported by jobs started after Shutdown. The document is left untouched.
var ErrRunnerStopped = errors.New("ingestion runner is shut down")

// Processor runs ingestion for one document.
type Processor interface {
	Process(ctx context.Context, documentID string) (*Result, error)
}

// Job is the handle for one background ingestion run.
type Job struct {
	documentID string
	done       chan struct{}
	cancel     context.CancelFunc

	result *Result
	err    error
}

// DocumentID returns the document being ingested.
func (j *Job) DocumentID() string { return j.documentID }

// Done is closed when the run has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel asks the run to stop at the next chunk boundary. The document ends in error.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the run finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Runner starts ingestion jobs in the background with at most one job per document
// in this process.
type Runner struct {
	processor Processor
	logger    *slog.Logger

	base     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	jobs     map[string]*Job
	inflight sync.WaitGroup
}

// NewRunner creates a runner over processor.
func NewRunner(processor Processor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		processor: processor,
		logger:    logger,
		base:      base,
		stop:      stop,
		jobs:      make(map[string]*Job),
	}
}

// Start launches ingestion of documentID. If a job for the same document is already
// running, that job is returned instead.
func (r *Runner) Start(documentID string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[documentID]; ok {
		return job
	}

	if r.base.Err() != nil {
		job := &Job{
			documentID: documentID,
			done:       make(chan struct{}),
			cancel:     func() {},
			err:        ErrRunnerStopped,
		}
		close(job.done)
		r.logger.Warn("Ingestion job refused after shutdown", "document", documentID)
		return job
	}

	ctx, cancel := context.WithCancel(r.base)
	job := &Job{
		documentID: documentID,
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	r.jobs[documentID] = job
	r.inflight.Add(1)

	go r.run(ctx, job)
	return job
}

func (r *Runner) run(ctx context.Context, job *Job) {
	defer r.inflight.Done()
	defer job.cancel()

	job.result, job.err = r.processor.Process(ctx, job.documentID)
	if job.err != nil {
		r.logger.Warn("Ingestion job failed", "document", job.documentID, "error", job.err)
	}

	r.mu.Lock()
	delete(r.jobs, job.documentID)
	r.mu.Unlock()
	close(job.done)
}

// Get returns the running job for documentID, if any.
func (r *Runner) Get(documentID string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[documentID]
	return job, ok
}

// Active returns the number of running jobs.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Shutdown cancels every running job and waits for them to record their final status.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()

	waited := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
