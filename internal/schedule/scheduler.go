// Package schedule coalesces bursts of raw signal events into fixed-interval
// evaluation batches. Adapters push into a bounded input queue and never
// block; a periodic tick drains a bounded number of events, routes them to
// their buffers, and runs one evaluation pass over the detectors whose
// buffers changed. A per-batch time budget drives adaptive backoff so
// detector storms stretch the interval instead of stalling the worker.
package schedule

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"velvet/internal/buffer"
	"velvet/internal/logging"
	"velvet/internal/types"
)

// ErrShuttingDown is returned for pushes after Stop begins.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Config configures one batch scheduler.
type Config struct {
	Interval          time.Duration // base tick period
	Budget            time.Duration // per-batch evaluation budget
	MaxQueueSize      int           // input queue cap; oldest dropped on overflow
	MaxEventsPerBatch int           // max events drained per tick
	MaxBackoffFactor  float64       // cap on interval stretch under load
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          100 * time.Millisecond,
		Budget:            100 * time.Millisecond,
		MaxQueueSize:      256,
		MaxEventsPerBatch: 64,
		MaxBackoffFactor:  8,
	}
}

// EvalFunc runs one evaluation pass over the detectors whose buffer keys
// appear in changed. It must be synchronous and bounded.
type EvalFunc func(changed map[string]struct{}, now time.Time)

// Scheduler owns the input queue and the tick loop for one feature instance.
type Scheduler struct {
	name  string
	cfg   Config
	clock types.Clock
	store *buffer.Store
	eval  EvalFunc

	mu      sync.Mutex
	queue   []types.RawSignalEvent
	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// interval stretches under sustained budget overruns and relaxes back
	// toward cfg.Interval when batches come in under budget.
	interval time.Duration

	// Metrics (atomic for lock-free reads)
	processed      int64
	dropped        int64
	budgetOverruns int64
	batches        int64
	latencyNanos   int64
}

// New creates a scheduler for one feature's store. A nil clock selects the
// system clock.
func New(name string, cfg Config, store *buffer.Store, eval EvalFunc, clock types.Clock) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 100 * time.Millisecond
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 256
	}
	if cfg.MaxEventsPerBatch <= 0 {
		cfg.MaxEventsPerBatch = 64
	}
	if cfg.MaxBackoffFactor < 1 {
		cfg.MaxBackoffFactor = 1
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Scheduler{
		name:     name,
		cfg:      cfg,
		clock:    clock,
		store:    store,
		eval:     eval,
		interval: cfg.Interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Push enqueues a raw event without blocking. On overflow the oldest queued
// event is dropped, never the newest.
func (s *Scheduler) Push(ev types.RawSignalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShuttingDown
	}

	if len(s.queue) >= s.cfg.MaxQueueSize {
		overflow := len(s.queue) - s.cfg.MaxQueueSize + 1
		s.queue = append(s.queue[:0], s.queue[overflow:]...)
		atomic.AddInt64(&s.dropped, int64(overflow))
		logging.SchedulerDebug("%s: queue overflow, dropped %d oldest", s.name, overflow)
	}
	s.queue = append(s.queue, ev)
	return nil
}

// Start launches the tick loop. Idempotent while running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running || s.closed {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	logging.Scheduler("%s: started interval=%s budget=%s queue_cap=%d",
		s.name, s.cfg.Interval, s.cfg.Budget, s.cfg.MaxQueueSize)

	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.Tick(s.clock.Now())
			timer.Reset(s.currentInterval())
		}
	}
}

// Tick runs one batch cycle: drain up to MaxEventsPerBatch queued events,
// route them to buffers, and evaluate detectors whose buffers changed.
// Exposed so tests drive virtual time deterministically.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	n := len(s.queue)
	if n > s.cfg.MaxEventsPerBatch {
		n = s.cfg.MaxEventsPerBatch
	}
	batch := make([]types.RawSignalEvent, n)
	copy(batch, s.queue[:n])
	s.queue = append(s.queue[:0], s.queue[n:]...)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	started := time.Now()

	changed := make(map[string]struct{}, len(batch))
	for _, ev := range batch {
		if s.store.Add(ev.Key, ev) {
			changed[ev.Key] = struct{}{}
		}
	}
	atomic.AddInt64(&s.processed, int64(len(batch)))

	if len(changed) > 0 && s.eval != nil {
		s.eval(changed, now)
	}

	elapsed := time.Since(started)
	atomic.AddInt64(&s.batches, 1)
	atomic.AddInt64(&s.latencyNanos, int64(elapsed))
	s.adjustInterval(elapsed)
}

// adjustInterval applies adaptive backoff: double on overrun up to the cap,
// halve back toward the base when under budget.
func (s *Scheduler) adjustInterval(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := time.Duration(float64(s.cfg.Interval) * s.cfg.MaxBackoffFactor)
	if elapsed > s.cfg.Budget {
		atomic.AddInt64(&s.budgetOverruns, 1)
		next := s.interval * 2
		if next > max {
			next = max
		}
		if next != s.interval {
			logging.Scheduler("%s: batch took %s (budget %s), backing off to %s",
				s.name, elapsed, s.cfg.Budget, next)
			s.interval = next
		}
		return
	}
	if s.interval > s.cfg.Interval {
		next := s.interval / 2
		if next < s.cfg.Interval {
			next = s.cfg.Interval
		}
		s.interval = next
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Interval returns the current (possibly backed-off) tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.currentInterval()
}

// Stop halts the tick loop and rejects all queued work. No evaluation runs
// after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasRunning := s.running
	s.running = false
	rejected := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	close(s.stopCh)
	if wasRunning {
		<-s.doneCh
	}

	if rejected > 0 {
		atomic.AddInt64(&s.dropped, int64(rejected))
	}
	logging.Scheduler("%s: stopped, rejected %d queued events", s.name, rejected)
}

// QueueDepth returns the number of queued events.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Metrics is a point-in-time snapshot of scheduler counters.
type Metrics struct {
	EventsProcessed int64
	EventsDropped   int64
	BudgetOverruns  int64
	Batches         int64
	AvgBatchLatency time.Duration
	Interval        time.Duration
}

// Snapshot returns current counters.
func (s *Scheduler) Snapshot() Metrics {
	batches := atomic.LoadInt64(&s.batches)
	var avg time.Duration
	if batches > 0 {
		avg = time.Duration(atomic.LoadInt64(&s.latencyNanos) / batches)
	}
	return Metrics{
		EventsProcessed: atomic.LoadInt64(&s.processed),
		EventsDropped:   atomic.LoadInt64(&s.dropped),
		BudgetOverruns:  atomic.LoadInt64(&s.budgetOverruns),
		Batches:         batches,
		AvgBatchLatency: avg,
		Interval:        s.currentInterval(),
	}
}
