// Package queue implements named in-process job queues with bounded
// concurrency, retry with exponential backoff, and optional delayed start.
//
// Jobs are not persisted: the pipeline's source of truth is the offer
// state machine in storage, and scheduler sweeps re-enqueue any eligible
// entity, so work lost to a restart is picked up on the next sweep.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
)

// JobType names an independent queue with its own consumer.
type JobType string

// Queue names used by the pipeline.
const (
	JobIngest   JobType = "feed-ingest"
	JobConvert  JobType = "link-conversion"
	JobDispatch JobType = "message-dispatch"
)

// ErrQueueClosed is returned by Enqueue after Close has been called.
var ErrQueueClosed = errors.New("queue closed")

// ErrUnknownJobType is returned when no consumer is registered for a job type.
var ErrUnknownJobType = errors.New("unknown job type")

// Payload carries job input. Only the field relevant to the job type is set.
type Payload struct {
	SourceID int64 `json:"source_id,omitempty"`
	OfferID  int64 `json:"offer_id,omitempty"`
}

// Options control retry and scheduling behavior of a single job.
type Options struct {
	// Attempts is the total number of tries before the job fails
	// terminally. Values below 1 mean a single try.
	Attempts int
	// BackoffBase is the first retry delay; subsequent delays grow
	// exponentially.
	BackoffBase time.Duration
	// Delay postpones the job's first try.
	Delay time.Duration
}

// Handler processes a single job. A non-nil error triggers a retry
// until the job's attempts are exhausted.
type Handler func(ctx context.Context, p Payload) error

// Event reports a job reaching a terminal state. Err is nil for
// completed jobs and holds the last attempt's error for failed ones.
type Event struct {
	Type  JobType
	JobID string
	Err   error
}

type consumer struct {
	handler Handler
	sem     *semaphore.Weighted
}

// Queue runs registered consumers over enqueued jobs.
type Queue struct {
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	consumers map[JobType]*consumer
	closed    bool
	done      func(Event)

	wg sync.WaitGroup
}

// New creates an empty queue. Consumers must be registered before
// jobs for their type are enqueued.
func New(log *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[JobType]*consumer),
	}
}

// OnDone installs a hook invoked whenever a job reaches a terminal
// state. Intended for tests and metrics; set before enqueueing.
func (q *Queue) OnDone(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = fn
}

// Register installs the consumer for a job type with the given
// concurrency bound. Registering the same type twice is an error.
func (q *Queue) Register(t JobType, concurrency int, h Handler) error {
	if concurrency < 1 {
		return fmt.Errorf("register %s: concurrency must be positive", t)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.consumers[t]; ok {
		return fmt.Errorf("register %s: consumer already registered", t)
	}
	q.consumers[t] = &consumer{
		handler: h,
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}
	return nil
}

// Enqueue submits a job and returns its id. The job runs
// asynchronously; completion is observable through OnDone.
func (q *Queue) Enqueue(ctx context.Context, t JobType, p Payload, opts Options) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	c, ok := q.consumers[t]
	if !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("enqueue %s: %w", t, ErrUnknownJobType)
	}
	q.wg.Add(1)
	q.mu.Unlock()

	id := uuid.NewString()
	go q.run(c, t, id, p, opts)
	return id, nil
}

// Close stops intake and blocks until all in-flight jobs finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) run(c *consumer, t JobType, id string, p Payload, opts Options) {
	defer q.wg.Done()

	if opts.Delay > 0 {
		timer := time.NewTimer(opts.Delay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			q.finish(t, id, q.ctx.Err())
			return
		case <-timer.C:
		}
	}

	if err := c.sem.Acquire(q.ctx, 1); err != nil {
		q.finish(t, id, err)
		return
	}
	defer c.sem.Release(1)

	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := opts.BackoffBase
	if base <= 0 {
		base = time.Second
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	err := retry.Do(q.ctx, backoff, func(ctx context.Context) error {
		if err := c.handler(ctx, p); err != nil {
			q.log.Warn("job attempt failed", "job_type", t, "job_id", id, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})

	q.finish(t, id, err)
}

func (q *Queue) finish(t JobType, id string, err error) {
	if err != nil {
		q.log.Error("job failed", "job_type", t, "job_id", id, "error", err)
	} else {
		q.log.Debug("job completed", "job_type", t, "job_id", id)
	}
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()
	if done != nil {
		done(Event{Type: t, JobID: id, Err: err})
	}
}
