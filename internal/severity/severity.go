// Package severity maps the set of currently active patterns onto a discrete
// escalation level. The level is a pure function of the active set against
// configured thresholds; it is recomputed from scratch every evaluation and
// never incremented or decremented imperatively, so replaying an identical
// active-set sequence always yields an identical level sequence.
package severity

import (
	"sync"
	"time"

	"velvet/internal/config"
	"velvet/internal/logging"
	"velvet/internal/types"
)

// =============================================================================
// ACTIVE PATTERN SET
// =============================================================================

// activeEntry tracks one triggered pattern.
type activeEntry struct {
	lastSeen   time.Time
	window     time.Duration
	confidence float64
}

// ActiveSet holds currently-triggered pattern IDs with last-seen timestamps.
// An entry expires once its own detector window elapses with no re-trigger.
type ActiveSet struct {
	mu      sync.Mutex
	entries map[string]activeEntry
}

// NewActiveSet creates an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{entries: make(map[string]activeEntry)}
}

// Touch marks a pattern active as of now, with the window after which it
// expires absent a re-trigger.
func (s *ActiveSet) Touch(patternID string, confidence float64, window time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[patternID] = activeEntry{lastSeen: now, window: window, confidence: confidence}
}

// Expire removes entries whose window has elapsed and reports how many.
func (s *ActiveSet) Expire(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if now.Sub(e.lastSeen) > e.window {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of active patterns.
func (s *ActiveSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IDs returns the active pattern IDs (unordered).
func (s *ActiveSet) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// MaxConfidence returns the strongest active confidence, or 0 when empty.
func (s *ActiveSet) MaxConfidence() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0.0
	for _, e := range s.entries {
		if e.confidence > max {
			max = e.confidence
		}
	}
	return max
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator is the severity state machine. Evaluate is stateless given the
// active count; Track additionally emits SeverityChanged exactly once per
// transition.
type Evaluator struct {
	feature      string
	gentleAt     int
	supportiveAt int
	crisisAt     int

	mu    sync.Mutex
	level types.SeverityLevel
	sink  types.SeveritySink
}

// NewEvaluator creates an evaluator with validated thresholds.
func NewEvaluator(feature string, cfg config.SeverityConfig, sink types.SeveritySink) *Evaluator {
	return &Evaluator{
		feature:      feature,
		gentleAt:     cfg.GentleAt,
		supportiveAt: cfg.SupportiveAt,
		crisisAt:     cfg.CrisisAt,
		level:        types.SeverityNormal,
		sink:         sink,
	}
}

// Evaluate maps an active-pattern count to a level. Pure function.
func (e *Evaluator) Evaluate(activeCount int) types.SeverityLevel {
	switch {
	case activeCount >= e.crisisAt:
		return types.SeverityCrisis
	case activeCount >= e.supportiveAt:
		return types.SeveritySupportive
	case activeCount >= e.gentleAt:
		return types.SeverityGentle
	default:
		return types.SeverityNormal
	}
}

// Track recomputes the level from the active count and emits a transition
// event when, and only when, the level changed.
func (e *Evaluator) Track(activeCount int, now time.Time) types.SeverityLevel {
	next := e.Evaluate(activeCount)

	e.mu.Lock()
	prev := e.level
	e.level = next
	sink := e.sink
	e.mu.Unlock()

	if next != prev {
		logging.Severity("%s: %s -> %s (active=%d)", e.feature, prev, next, activeCount)
		if sink != nil {
			sink(types.SeverityChanged{Feature: e.feature, From: prev, To: next, At: now})
		}
	}
	return next
}

// Level returns the current level.
func (e *Evaluator) Level() types.SeverityLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}
