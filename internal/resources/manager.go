// Package resources bounds memory across the engine: a shared periodic tick
// prunes time-window buffers, expired active patterns, and stale cooldown
// entries. Every container it touches is already bounded; pruning reclaims
// space early instead of waiting for lazy eviction.
package resources

import (
	"sync"
	"sync/atomic"
	"time"

	"velvet/internal/logging"
	"velvet/internal/types"
)

// Prunable is anything the manager can reclaim on its tick. The returned
// count is how many entries were removed.
type Prunable interface {
	PruneStale(now time.Time) int
}

// PruneFunc adapts a function to the Prunable interface.
type PruneFunc func(now time.Time) int

// PruneStale calls the wrapped function.
func (f PruneFunc) PruneStale(now time.Time) int { return f(now) }

// Manager runs the shared pruning tick.
type Manager struct {
	mu       sync.Mutex
	interval time.Duration
	clock    types.Clock
	targets  []Prunable
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	pruned int64
}

// NewManager creates a manager. A nil clock selects the system clock.
func NewManager(interval time.Duration, clock types.Clock) *Manager {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Manager{
		interval: interval,
		clock:    clock,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Add registers a pruning target. Call before Start.
func (m *Manager) Add(p Prunable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, p)
}

// Start launches the pruning loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	logging.Resources("manager: started, interval=%s targets=%d", m.interval, len(m.targets))

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.PruneNow()
			}
		}
	}()
}

// PruneNow runs one pruning pass immediately. Exposed for tests and for
// shutdown cleanup.
func (m *Manager) PruneNow() int {
	m.mu.Lock()
	targets := make([]Prunable, len(m.targets))
	copy(targets, m.targets)
	m.mu.Unlock()

	now := m.clock.Now()
	total := 0
	for _, t := range targets {
		total += t.PruneStale(now)
	}
	if total > 0 {
		atomic.AddInt64(&m.pruned, int64(total))
		logging.Resources("manager: pruned %d stale entries", total)
	}
	return total
}

// Stop halts the pruning loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

// TotalPruned returns the cumulative pruned-entry count.
func (m *Manager) TotalPruned() int64 {
	return atomic.LoadInt64(&m.pruned)
}
