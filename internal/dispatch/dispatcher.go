// Package dispatch turns detections into at most one outbound intervention
// per dedup key per cooldown window. Candidates pass a cooldown check, queue
// by priority (critical > high > medium > low, FIFO within a level), and fan
// out to subscribers in dispatch order.
package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"velvet/internal/logging"
	"velvet/internal/types"
)

// ErrShuttingDown is returned for submissions after Shutdown begins.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Config configures dispatch behavior.
type Config struct {
	Cooldown    time.Duration // default per-dedup-key suppression window
	Retention   time.Duration // how long fired entries stay in the cooldown map
	HistorySize int           // bound on the dispatched-intervention history
}

// Subscription identifies one registered sink.
type Subscription int64

// Dispatcher owns the priority queues, the cooldown map, and the subscriber
// fanout. All methods are safe for concurrent use.
type Dispatcher struct {
	mu     sync.Mutex
	cfg    Config
	clock  types.Clock
	closed bool

	// One FIFO queue per priority level, drained highest first.
	queues [4][]types.Intervention

	// dedupKey -> lastFiredAt
	cooldowns map[string]time.Time

	subscribers map[Subscription]types.InterventionSink
	subOrder    []Subscription
	nextSub     int64

	history []types.Intervention // ring of the most recent dispatches

	// Metrics
	submitted  int64
	deduped    int64
	dispatched int64
	rejected   int64 // submissions after shutdown
}

// New creates a dispatcher. A nil clock selects the system clock.
func New(cfg Config, clock types.Clock) *Dispatcher {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 60 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Dispatcher{
		cfg:         cfg,
		clock:       clock,
		cooldowns:   make(map[string]time.Time),
		subscribers: make(map[Subscription]types.InterventionSink),
	}
}

// Submit queues a candidate under the default cooldown.
func (d *Dispatcher) Submit(iv types.Intervention) error {
	return d.SubmitWithCooldown(iv, d.cfg.Cooldown)
}

// SubmitWithCooldown queues a candidate with a caller-supplied cooldown
// (features carry their own windows). A candidate whose dedup key fired
// within the cooldown is silently dropped; resubmitting inside the window is
// an idempotent no-op.
func (d *Dispatcher) SubmitWithCooldown(iv types.Intervention, cooldown time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		atomic.AddInt64(&d.rejected, 1)
		return ErrShuttingDown
	}

	now := d.clock.Now()
	if last, ok := d.cooldowns[iv.DedupKey]; ok && now.Sub(last) < cooldown {
		atomic.AddInt64(&d.deduped, 1)
		logging.DispatchDebug("dedup: %s suppressed (fired %s ago)", iv.DedupKey, now.Sub(last))
		return nil
	}

	d.cooldowns[iv.DedupKey] = now
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = now
	}

	p := iv.Priority
	if p < types.PriorityLow || p > types.PriorityCritical {
		p = types.PriorityLow
	}
	d.queues[p] = append(d.queues[p], iv)
	atomic.AddInt64(&d.submitted, 1)
	logging.DispatchDebug("queued %s priority=%s dedup=%s", iv.Type, iv.Priority, iv.DedupKey)
	return nil
}

// DispatchPending drains every queue, highest priority first, delivering to
// all subscribers in dispatch order. Returns how many were dispatched.
func (d *Dispatcher) DispatchPending() int {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0
	}

	var batch []types.Intervention
	for p := types.PriorityCritical; p >= types.PriorityLow; p-- {
		batch = append(batch, d.queues[p]...)
		d.queues[p] = nil
	}

	sinks := make([]types.InterventionSink, 0, len(d.subOrder))
	for _, id := range d.subOrder {
		if sink, ok := d.subscribers[id]; ok {
			sinks = append(sinks, sink)
		}
	}

	for _, iv := range batch {
		d.history = append(d.history, iv)
		if len(d.history) > d.cfg.HistorySize {
			d.history = d.history[len(d.history)-d.cfg.HistorySize:]
		}
	}
	d.mu.Unlock()

	for _, iv := range batch {
		atomic.AddInt64(&d.dispatched, 1)
		logging.Dispatch("dispatch %s priority=%s feature=%s", iv.Type, iv.Priority, iv.Feature)
		for _, sink := range sinks {
			sink(iv)
		}
	}
	return len(batch)
}

// Subscribe registers a sink that receives interventions in dispatch order.
func (d *Dispatcher) Subscribe(sink types.InterventionSink) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := Subscription(atomic.AddInt64(&d.nextSub, 1))
	d.subscribers[id] = sink
	d.subOrder = append(d.subOrder, id)
	return id
}

// Unsubscribe removes a sink.
func (d *Dispatcher) Unsubscribe(id Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.subscribers, id)
	for i, s := range d.subOrder {
		if s == id {
			d.subOrder = append(d.subOrder[:i], d.subOrder[i+1:]...)
			break
		}
	}
}

// PruneCooldowns drops cooldown entries older than the retention and returns
// how many were removed. Called by the resource manager.
func (d *Dispatcher) PruneCooldowns(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, firedAt := range d.cooldowns {
		if now.Sub(firedAt) > d.cfg.Retention {
			delete(d.cooldowns, key)
			removed++
		}
	}
	return removed
}

// History returns a copy of the recent dispatch history, oldest first.
func (d *Dispatcher) History() []types.Intervention {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]types.Intervention, len(d.history))
	copy(out, d.history)
	return out
}

// Shutdown stops the dispatcher. Pending queued interventions are discarded;
// nothing is dispatched after Shutdown returns.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	dropped := 0
	for p := range d.queues {
		dropped += len(d.queues[p])
		d.queues[p] = nil
	}
	if dropped > 0 {
		logging.Dispatch("shutdown: discarded %d pending interventions", dropped)
	}
}

// Metrics is a point-in-time counter snapshot.
type Metrics struct {
	Submitted  int64
	Deduped    int64
	Dispatched int64
	Rejected   int64
}

// Snapshot returns current counters.
func (d *Dispatcher) Snapshot() Metrics {
	return Metrics{
		Submitted:  atomic.LoadInt64(&d.submitted),
		Deduped:    atomic.LoadInt64(&d.deduped),
		Dispatched: atomic.LoadInt64(&d.dispatched),
		Rejected:   atomic.LoadInt64(&d.rejected),
	}
}
