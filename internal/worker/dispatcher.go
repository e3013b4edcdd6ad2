package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Enqueue when the job cannot be accepted.
var ErrQueueFull = errors.New("dispatch queue full")

// ErrStopped is returned by Enqueue after Shutdown.
var ErrStopped = errors.New("dispatcher stopped")

// Job is a detached unit of background work. Its failure is logged and
// never reported to whoever enqueued it.
type Job struct {
	Name string
	// Fields are attached to every log line of the job.
	Fields map[string]string
	Run    func(ctx context.Context) error
}

// Dispatcher runs jobs on a fixed set of goroutines fed by a bounded queue.
type Dispatcher struct {
	queue      chan Job
	workers    int
	jobTimeout time.Duration
	log        zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Each job gets at most jobTimeout.
func NewDispatcher(workers, queueSize int, jobTimeout time.Duration, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		queue:      make(chan Job, queueSize),
		workers:    workers,
		jobTimeout: jobTimeout,
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

// Start launches the workers. Jobs run under ctx, which should not be tied
// to any request; cancelling it aborts jobs in flight.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("Dispatcher started")
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.loop(ctx, i)
	}
}

// Enqueue hands job to the workers without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- job:
		return nil
	default:
		d.log.Error().Str("job", job.Name).Msg("Dispatch queue full, dropping job")
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Capacity returns the queue size.
func (d *Dispatcher) Capacity() int {
	return cap(d.queue)
}

// Shutdown stops accepting jobs and waits for queued ones to finish, or for
// ctx to expire. Jobs still queued at that point are lost.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("Dispatcher drained")
		return nil
	case <-ctx.Done():
		d.log.Warn().Int("pending", len(d.queue)).Msg("Dispatcher shutdown timed out")
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, id, job)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, job Job) {
	logCtx := d.log.With().Str("job", job.Name).Int("worker", id)
	for k, v := range job.Fields {
		logCtx = logCtx.Str(k, v)
	}
	jobLog := logCtx.Logger()

	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	start := time.Now()
	err := safeRun(jobCtx, job)
	if err != nil {
		jobLog.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Background job failed")
		return
	}
	jobLog.Debug().Dur("elapsed", time.Since(start)).Msg("Background job finished")
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
