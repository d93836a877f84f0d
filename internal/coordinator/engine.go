package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"velvet/internal/config"
	"velvet/internal/dispatch"
	"velvet/internal/logging"
	"velvet/internal/resources"
	"velvet/internal/types"
)

var (
	// ErrMalformedEvent is returned for events missing a timestamp or
	// carrying an unknown modality. Counted, never fatal.
	ErrMalformedEvent = errors.New("malformed signal event")

	// ErrUnknownKey is returned when no feature owns the pattern key.
	ErrUnknownKey = errors.New("no feature owns this pattern key")

	// ErrEngineClosed is returned for pushes after Shutdown begins.
	ErrEngineClosed = errors.New("engine is shut down")
)

// Engine is the assembled pattern-detection pipeline: one dispatcher and
// coordinator shared by one feature worker per configured feature. It is the
// single construction point; everything is dependency-injected from the
// validated Config, with no ambient globals.
type Engine struct {
	cfg        *config.Config
	clock      types.Clock
	dispatcher *dispatch.Dispatcher
	coord      *Coordinator
	manager    *resources.Manager
	watcher    *PrioritiesWatcher

	features map[string]*Feature
	keyRoute map[string]*Feature // buffer key -> owning feature

	sevMu    sync.Mutex
	sevSinks []types.SeveritySink

	rejected int64 // malformed or unroutable pushes

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewEngine validates cfg and assembles the pipeline. Construction is the
// only place configuration errors are fatal. A nil clock selects the system
// clock.
func NewEngine(cfg *config.Config, clock types.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = types.SystemClock{}
	}

	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		features: make(map[string]*Feature),
		keyRoute: make(map[string]*Feature),
	}

	e.dispatcher = dispatch.New(dispatch.Config{
		Cooldown:    cfg.Dispatcher.CooldownDuration(),
		Retention:   cfg.Dispatcher.RetentionDuration(),
		HistorySize: cfg.Dispatcher.HistorySize,
	}, clock)

	e.coord = newCoordinator(
		cfg.Coordinator.Priorities,
		cfg.Coordinator.UnifiedThreshold,
		cfg.Dispatcher.CooldownDuration(),
		e.dispatcher,
	)

	for _, fc := range cfg.Features {
		if !fc.Enabled {
			continue
		}
		f, err := newFeature(fc, cfg, e.dispatcher, e.coord, e.emitSeverity, clock)
		if err != nil {
			return nil, err
		}
		e.features[f.id] = f
		e.coord.attach(f)

		for _, key := range f.Keys() {
			if other, dup := e.keyRoute[key]; dup {
				return nil, fmt.Errorf("%w: buffer key %q claimed by features %s and %s",
					config.ErrInvalidConfig, key, other.id, f.id)
			}
			e.keyRoute[key] = f
		}
	}
	if len(e.features) == 0 {
		return nil, fmt.Errorf("%w: no enabled features", config.ErrInvalidConfig)
	}

	e.manager = resources.NewManager(cfg.Resources.PruneIntervalDuration(), clock)
	for _, f := range e.features {
		e.manager.Add(f)
	}
	e.manager.Add(resources.PruneFunc(e.dispatcher.PruneCooldowns))

	if cfg.Coordinator.PrioritiesFile != "" {
		w, err := NewPrioritiesWatcher(cfg.Coordinator.PrioritiesFile, e.coord)
		if err != nil {
			return nil, fmt.Errorf("priorities watcher: %w", err)
		}
		e.watcher = w
	}

	return e, nil
}

// Start launches the feature workers, the resource manager, and the
// priorities watcher. Idempotent while running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.started {
		return nil
	}
	e.started = true

	for _, f := range e.features {
		f.scheduler.Start()
	}
	e.manager.Start()
	if e.watcher != nil {
		if err := e.watcher.Start(); err != nil {
			return err
		}
	}

	logging.Boot("engine started: features=%d unified_threshold=%.2f",
		len(e.features), e.cfg.Coordinator.UnifiedThreshold)
	return nil
}

// PushEvent is the signal ingestion API. Adapters call it and never wait for
// detection; the event lands in the owning feature's bounded input queue.
// Malformed events are dropped and counted.
func (e *Engine) PushEvent(modality types.Modality, key string, payload map[string]interface{}, ts time.Time) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEngineClosed
	}

	if ts.IsZero() || !modality.Valid() {
		atomic.AddInt64(&e.rejected, 1)
		return ErrMalformedEvent
	}

	f, ok := e.keyRoute[key]
	if !ok {
		atomic.AddInt64(&e.rejected, 1)
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	return f.Push(types.RawSignalEvent{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Modality:  modality,
		Key:       key,
		Payload:   payload,
	})
}

// Subscribe registers a sink for dispatched interventions, delivered in
// dispatch order. Multiple subscribers are allowed.
func (e *Engine) Subscribe(sink types.InterventionSink) dispatch.Subscription {
	return e.dispatcher.Subscribe(sink)
}

// Unsubscribe removes an intervention sink.
func (e *Engine) Unsubscribe(id dispatch.Subscription) {
	e.dispatcher.Unsubscribe(id)
}

// SubscribeSeverity registers a sink for severity transitions.
func (e *Engine) SubscribeSeverity(sink types.SeveritySink) {
	e.sevMu.Lock()
	defer e.sevMu.Unlock()
	e.sevSinks = append(e.sevSinks, sink)
}

func (e *Engine) emitSeverity(ch types.SeverityChanged) {
	e.sevMu.Lock()
	sinks := make([]types.SeveritySink, len(e.sevSinks))
	copy(sinks, e.sevSinks)
	e.sevMu.Unlock()

	for _, sink := range sinks {
		sink(ch)
	}
}

// UpdatePriorities atomically replaces the coordination weights.
func (e *Engine) UpdatePriorities(weights map[string]float64) {
	e.coord.UpdatePriorities(weights)
}

// Priorities returns the current coordination weights.
func (e *Engine) Priorities() map[string]float64 {
	return e.coord.Priorities()
}

// EnableFeature lifts safe mode on a feature disabled by sustained detector
// errors. Returns false when the feature is unknown.
func (e *Engine) EnableFeature(id string) bool {
	f, ok := e.features[id]
	if !ok {
		return false
	}
	f.Enable()
	return true
}

// History returns the recent dispatched-intervention history, oldest first.
func (e *Engine) History() []types.Intervention {
	return e.dispatcher.History()
}

// Shutdown stops the scheduler ticks, rejects queued work, and releases all
// timers. No intervention is dispatched after Shutdown begins.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()

	// Stop intake first so nothing new dispatches, then the workers.
	e.dispatcher.Shutdown()

	if started {
		if e.watcher != nil {
			e.watcher.Stop()
		}
		for _, f := range e.features {
			f.scheduler.Stop()
		}
		e.manager.Stop()
	}

	logging.Boot("engine shut down")
}

// =============================================================================
// TELEMETRY
// =============================================================================

// EngineMetrics is the getMetrics() snapshot for health dashboards.
type EngineMetrics struct {
	EventsProcessed         int64                     `json:"events_processed"`
	EventsDropped           int64                     `json:"events_dropped"`
	EventsRejected          int64                     `json:"events_rejected"`
	DetectionsFired         int64                     `json:"detections_fired"`
	InterventionsDispatched int64                     `json:"interventions_dispatched"`
	InterventionsDeduped    int64                     `json:"interventions_deduped"`
	UnifiedInterventions    int64                     `json:"unified_interventions"`
	EntriesPruned           int64                     `json:"entries_pruned"`
	Features                map[string]FeatureMetrics `json:"features"`
}

// GetMetrics aggregates counters across the pipeline.
func (e *Engine) GetMetrics() EngineMetrics {
	dm := e.dispatcher.Snapshot()
	m := EngineMetrics{
		EventsRejected:          atomic.LoadInt64(&e.rejected),
		InterventionsDispatched: dm.Dispatched,
		InterventionsDeduped:    dm.Deduped,
		UnifiedInterventions:    e.coord.UnifiedFired(),
		EntriesPruned:           e.manager.TotalPruned(),
		Features:                make(map[string]FeatureMetrics, len(e.features)),
	}
	for id, f := range e.features {
		fm := f.Snapshot()
		m.Features[id] = fm
		m.EventsProcessed += fm.EventsProcessed
		m.EventsDropped += fm.EventsDropped
		m.EventsRejected += fm.EventsRejected
		m.DetectionsFired += fm.DetectionsFired
	}
	return m
}
