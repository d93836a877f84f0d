// Package coordinator merges the independently-running feature instances
// (sarcasm, crisis, masking) into one unified intervention stream. It holds
// the per-feature coordination weights, re-evaluates the merged weighted
// active state, and emits its own unified intervention when the combined
// weighted confidence crosses the global threshold. The Engine facade in this
// package wires the whole pipeline together from configuration.
package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"velvet/internal/dispatch"
	"velvet/internal/logging"
	"velvet/internal/types"
)

// Coordinator holds coordination priorities and the merged cross-feature
// view. One instance serves all features of an Engine.
type Coordinator struct {
	mu         sync.RWMutex
	priorities map[string]float64 // feature id -> weight in [0,1]
	features   map[string]*Feature

	dispatcher       *dispatch.Dispatcher
	unifiedThreshold float64
	cooldown         time.Duration

	unifiedFired int64
}

func newCoordinator(priorities map[string]float64, threshold float64, cooldown time.Duration, d *dispatch.Dispatcher) *Coordinator {
	p := make(map[string]float64, len(priorities))
	for id, w := range priorities {
		p[id] = w
	}
	return &Coordinator{
		priorities:       p,
		features:         make(map[string]*Feature),
		dispatcher:       d,
		unifiedThreshold: threshold,
		cooldown:         cooldown,
	}
}

func (c *Coordinator) attach(f *Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features[f.id] = f
	if _, ok := c.priorities[f.id]; !ok {
		c.priorities[f.id] = 1.0
	}
}

// UpdatePriorities atomically replaces the per-feature weights. Weights
// outside [0,1] are clamped rather than rejected so a bad runtime update
// cannot stall coordination.
func (c *Coordinator) UpdatePriorities(weights map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]float64, len(weights))
	for id, w := range weights {
		if w < 0 {
			w = 0
		}
		if w > 1 {
			w = 1
		}
		next[id] = w
	}
	// Features absent from the update keep weight 1.0.
	for id := range c.features {
		if _, ok := next[id]; !ok {
			next[id] = 1.0
		}
	}
	c.priorities = next
	logging.Coordination("priorities updated: %v", next)
}

// Priorities returns a copy of the current weights.
func (c *Coordinator) Priorities() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]float64, len(c.priorities))
	for id, w := range c.priorities {
		out[id] = w
	}
	return out
}

// TriggerCoordination re-evaluates the merged weighted active state and
// submits a unified intervention when the combined weighted confidence
// exceeds the global threshold. The same rule serves all features instead of
// per-feature copies of it.
func (c *Coordinator) TriggerCoordination(now time.Time) {
	c.mu.RLock()
	total := 0.0
	contributing := make([]string, 0, len(c.features))
	for id, f := range c.features {
		conf := f.active.MaxConfidence()
		if conf <= 0 {
			continue
		}
		weight := c.priorities[id]
		total += weight * conf
		contributing = append(contributing, id)
	}
	threshold := c.unifiedThreshold
	c.mu.RUnlock()

	if total <= threshold {
		return
	}

	iv := types.Intervention{
		ID:       uuid.NewString(),
		Type:     "unified_support",
		Feature:  "coordinator",
		Priority: types.PriorityCritical,
		DedupKey: types.DedupKeyFor("coordinator", contributing),
		Message:  "A lot is happening at once. Pausing everything non-essential is okay.",
		Evidence: map[string]interface{}{
			"weighted_confidence": total,
			"features":            contributing,
		},
		CreatedAt: now,
	}
	if err := c.dispatcher.SubmitWithCooldown(iv, c.cooldown); err != nil {
		logging.Coordination("unified submit failed: %v", err)
		return
	}
	atomic.AddInt64(&c.unifiedFired, 1)
	logging.Coordination("unified intervention: weighted=%.2f features=%v", total, contributing)
}

// UnifiedFired returns how many unified interventions were submitted.
func (c *Coordinator) UnifiedFired() int64 {
	return atomic.LoadInt64(&c.unifiedFired)
}
