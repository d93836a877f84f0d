package detect

import (
	"sync"

	"velvet/internal/logging"
)

// Guard tracks evaluation errors for one feature instance and moves it into
// a disabled state once consecutive errors reach the configured maximum.
// A disabled feature keeps buffering events but produces no detections until
// explicitly re-enabled.
type Guard struct {
	mu        sync.Mutex
	feature   string
	maxErrors int
	errors    int
	disabled  bool
}

// NewGuard creates a guard for the named feature.
func NewGuard(feature string, maxErrors int) *Guard {
	if maxErrors < 1 {
		maxErrors = 1
	}
	return &Guard{feature: feature, maxErrors: maxErrors}
}

// RecordError counts one evaluation error and reports whether the guard just
// tripped into the disabled state.
func (g *Guard) RecordError() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disabled {
		return false
	}
	g.errors++
	if g.errors >= g.maxErrors {
		g.disabled = true
		logging.Detectors("guard: feature %s disabled after %d consecutive errors", g.feature, g.errors)
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-error count.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.disabled {
		g.errors = 0
	}
}

// Disabled reports whether detection is currently disabled.
func (g *Guard) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled
}

// Enable explicitly re-enables detection and clears the error count.
func (g *Guard) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled = false
	g.errors = 0
	logging.Detectors("guard: feature %s re-enabled", g.feature)
}
