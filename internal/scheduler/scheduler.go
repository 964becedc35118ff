// Package scheduler periodically selects eligible work and enqueues
// pipeline jobs.
//
// Enqueueing is at-least-once: overlapping sweeps may enqueue duplicate
// jobs for the same entity, and the workers no-op on stale state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dealpipe/internal/model"
	"dealpipe/internal/queue"
	"dealpipe/internal/storage"
)

// Enqueuer is the queue surface the scheduler uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.JobType, p queue.Payload, opts queue.Options) (string, error)
}

// Config holds sweep intervals and batch bounds.
type Config struct {
	IngestInterval   time.Duration
	ConvertInterval  time.Duration
	DispatchInterval time.Duration
	PendingBatch     int
	ProcessingBatch  int
	DispatchStagger  time.Duration
}

// DefaultConfig mirrors the production cadence: ingest every 10
// minutes, convert every 2, dispatch every minute.
func DefaultConfig() Config {
	return Config{
		IngestInterval:   10 * time.Minute,
		ConvertInterval:  2 * time.Minute,
		DispatchInterval: 1 * time.Minute,
		PendingBatch:     50,
		ProcessingBatch:  20,
		DispatchStagger:  2 * time.Second,
	}
}

// Scheduler runs the three sweep loops.
type Scheduler struct {
	store storage.Storage
	q     Enqueuer
	clock Clock
	cfg   Config
	log   *slog.Logger
}

// New creates a Scheduler on the runtime clock.
func New(store storage.Storage, q Enqueuer, cfg Config, log *slog.Logger) *Scheduler {
	return NewWithClock(store, q, cfg, RealClock(), log)
}

// NewWithClock creates a Scheduler with a custom clock (useful for testing).
func NewWithClock(store storage.Storage, q Enqueuer, cfg Config, clock Clock, log *slog.Logger) *Scheduler {
	return &Scheduler{store: store, q: q, clock: clock, cfg: cfg, log: log}
}

// Run starts the three sweep loops, blocking until ctx is cancelled.
// Each loop runs its sweep once immediately, then on every tick. A
// sweep failure is logged and never stops the loop.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		interval time.Duration
		sweep    func(context.Context)
	}{
		{s.cfg.IngestInterval, s.sweepIngest},
		{s.cfg.ConvertInterval, s.sweepConvert},
		{s.cfg.DispatchInterval, s.sweepDispatch},
	}

	for _, l := range loops {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, l.interval, l.sweep)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	sweep(ctx)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			sweep(ctx)
		}
	}
}

func (s *Scheduler) sweepIngest(ctx context.Context) {
	sources, err := s.store.ListActiveFeedSources(ctx)
	if err != nil {
		s.log.Error("list active sources", "error", err)
		return
	}

	for _, src := range sources {
		_, err := s.q.Enqueue(ctx, queue.JobIngest, queue.Payload{SourceID: src.ID}, queue.Options{
			Attempts:    3,
			BackoffBase: 2 * time.Second,
		})
		if err != nil {
			s.log.Error("enqueue ingest", "source_id", src.ID, "error", err)
		}
	}
	if len(sources) > 0 {
		s.log.Debug("ingest sweep", "sources", len(sources))
	}
}

func (s *Scheduler) sweepConvert(ctx context.Context) {
	offers, err := s.store.ListOffersByStatus(ctx, model.StatusPending, s.cfg.PendingBatch)
	if err != nil {
		s.log.Error("list pending offers", "error", err)
		return
	}

	for _, o := range offers {
		_, err := s.q.Enqueue(ctx, queue.JobConvert, queue.Payload{OfferID: o.ID}, queue.Options{
			Attempts:    3,
			BackoffBase: 1 * time.Second,
		})
		if err != nil {
			s.log.Error("enqueue convert", "offer_id", o.ID, "error", err)
		}
	}
	if len(offers) > 0 {
		s.log.Debug("convert sweep", "offers", len(offers))
	}
}

// sweepDispatch staggers job start times so a batch does not burst the
// channel transports.
func (s *Scheduler) sweepDispatch(ctx context.Context) {
	offers, err := s.store.ListOffersByStatus(ctx, model.StatusProcessing, s.cfg.ProcessingBatch)
	if err != nil {
		s.log.Error("list processing offers", "error", err)
		return
	}

	for i, o := range offers {
		_, err := s.q.Enqueue(ctx, queue.JobDispatch, queue.Payload{OfferID: o.ID}, queue.Options{
			Attempts:    3,
			BackoffBase: 2 * time.Second,
			Delay:       time.Duration(i) * s.cfg.DispatchStagger,
		})
		if err != nil {
			s.log.Error("enqueue dispatch", "offer_id", o.ID, "error", err)
		}
	}
	if len(offers) > 0 {
		s.log.Debug("dispatch sweep", "offers", len(offers))
	}
}
