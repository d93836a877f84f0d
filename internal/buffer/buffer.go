// Package buffer implements the windowed buffer store: bounded containers
// holding recent signal events per pattern key. Two variants exist, a
// fixed-capacity ring (keeps last N, evicts oldest) and a time-window buffer
// (keeps entries newer than now-window, pruned lazily). Both preserve
// insertion order and never exceed their configured bound.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"velvet/internal/logging"
	"velvet/internal/types"
)

// Buffer is one bounded event container.
type Buffer interface {
	// Add appends an event. Never panics; returns false when the event was
	// not retained (malformed).
	Add(ev types.RawSignalEvent) bool

	// Query returns a snapshot of retained events with Timestamp >= since,
	// in insertion order. The snapshot is not a live view.
	Query(since time.Time) []types.RawSignalEvent

	// Prune removes entries with Timestamp < before and reports how many
	// were removed.
	Prune(before time.Time) int

	// Len returns the current number of retained events.
	Len() int
}

// =============================================================================
// FIXED-CAPACITY RING
// =============================================================================

// Ring keeps the last N events. Add overwrites the oldest entry on overflow
// and never allocates beyond the configured capacity.
type Ring struct {
	mu    sync.Mutex
	slots []types.RawSignalEvent
	head  int // index of oldest entry
	size  int
}

// NewRing creates a ring buffer with the given capacity (min 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]types.RawSignalEvent, capacity)}
}

// Add appends an event, overwriting the oldest on overflow.
func (r *Ring) Add(ev types.RawSignalEvent) bool {
	if ev.Timestamp.IsZero() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.slots) {
		r.slots[(r.head+r.size)%len(r.slots)] = ev
		r.size++
		return true
	}

	// Full: overwrite oldest, advance head.
	r.slots[r.head] = ev
	r.head = (r.head + 1) % len(r.slots)
	return true
}

// Query returns retained events with Timestamp >= since in insertion order.
func (r *Ring) Query(since time.Time) []types.RawSignalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.RawSignalEvent, 0, r.size)
	for i := 0; i < r.size; i++ {
		ev := r.slots[(r.head+i)%len(r.slots)]
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

// Prune removes entries older than before.
func (r *Ring) Prune(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for r.size > 0 {
		oldest := r.slots[r.head]
		if !oldest.Timestamp.Before(before) {
			break
		}
		r.slots[r.head] = types.RawSignalEvent{}
		r.head = (r.head + 1) % len(r.slots)
		r.size--
		removed++
	}
	return removed
}

// Len returns the number of retained events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// =============================================================================
// TIME-WINDOW BUFFER
// =============================================================================

// Window keeps entries with Timestamp >= now-window. Stale entries are pruned
// lazily on Add and Query, and periodically by the resource manager.
type Window struct {
	mu     sync.Mutex
	window time.Duration
	clock  types.Clock
	events []types.RawSignalEvent
}

// NewWindow creates a time-window buffer.
func NewWindow(window time.Duration, clock types.Clock) *Window {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Window{window: window, clock: clock}
}

// Add appends an event, discarding anything that has already aged out.
func (w *Window) Add(ev types.RawSignalEvent) bool {
	if ev.Timestamp.IsZero() {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.clock.Now().Add(-w.window)
	w.pruneLocked(cutoff)

	if ev.Timestamp.Before(cutoff) {
		return false
	}
	w.events = append(w.events, ev)
	return true
}

// Query returns a snapshot of retained events with Timestamp >= since.
func (w *Window) Query(since time.Time) []types.RawSignalEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.clock.Now().Add(-w.window))

	out := make([]types.RawSignalEvent, 0, len(w.events))
	for _, ev := range w.events {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

// Prune removes entries older than before.
func (w *Window) Prune(before time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pruneLocked(before)
}

func (w *Window) pruneLocked(before time.Time) int {
	stale := 0
	for stale < len(w.events) && w.events[stale].Timestamp.Before(before) {
		stale++
	}
	if stale == 0 {
		return 0
	}
	w.events = append(w.events[:0], w.events[stale:]...)
	return stale
}

// Len returns the number of retained events.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// =============================================================================
// STORE
// =============================================================================

// Store owns one buffer per pattern key. Add never panics: malformed events
// (zero timestamp) are dropped and counted, not propagated.
type Store struct {
	mu      sync.RWMutex
	buffers map[string]Buffer

	rejected int64 // malformed events dropped
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{buffers: make(map[string]Buffer)}
}

// Register installs a buffer for a key. Registering twice replaces the buffer.
func (s *Store) Register(key string, buf Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[key] = buf
}

// Add routes an event to the buffer owning its key. Events for unregistered
// keys or with a zero timestamp are rejected and counted.
func (s *Store) Add(key string, ev types.RawSignalEvent) bool {
	s.mu.RLock()
	buf, ok := s.buffers[key]
	s.mu.RUnlock()

	if !ok || !buf.Add(ev) {
		atomic.AddInt64(&s.rejected, 1)
		logging.SignalsDebug("store: rejected event key=%s modality=%s", key, ev.Modality)
		return false
	}
	return true
}

// Get returns the buffer for key, or nil.
func (s *Store) Get(key string) Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[key]
}

// Query returns a snapshot of events for key with Timestamp >= since.
func (s *Store) Query(key string, since time.Time) []types.RawSignalEvent {
	buf := s.Get(key)
	if buf == nil {
		return nil
	}
	return buf.Query(since)
}

// PruneAll prunes every buffer and reports the total removed.
func (s *Store) PruneAll(before time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, buf := range s.buffers {
		total += buf.Prune(before)
	}
	return total
}

// Rejected returns the malformed-event counter.
func (s *Store) Rejected() int64 {
	return atomic.LoadInt64(&s.rejected)
}
