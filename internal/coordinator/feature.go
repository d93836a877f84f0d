package coordinator

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/detect"
	"velvet/internal/dispatch"
	"velvet/internal/fusion"
	"velvet/internal/logging"
	"velvet/internal/schedule"
	"velvet/internal/severity"
	"velvet/internal/types"
)

// Feature is one independently-running detector instance (sarcasm, crisis,
// masking). It owns disjoint buffers, its own scheduler worker, and its own
// severity state; only the dispatcher and the coordinator are shared.
type Feature struct {
	id        string
	cfg       config.FeatureConfig
	clock     types.Clock
	store     *buffer.Store
	registry  *detect.Registry
	guard     *detect.Guard
	fuser     *fusion.Fuser
	active    *severity.ActiveSet
	evaluator *severity.Evaluator
	scheduler *schedule.Scheduler

	dispatcher *dispatch.Dispatcher
	coord      *Coordinator
	cooldown   time.Duration

	// pattern -> expiry window (the owning detector's window)
	patternWindows map[string]time.Duration

	detectionsFired int64
}

func newFeature(
	cfg config.FeatureConfig,
	root *config.Config,
	dispatcher *dispatch.Dispatcher,
	coord *Coordinator,
	sink types.SeveritySink,
	clock types.Clock,
) (*Feature, error) {
	f := &Feature{
		id:             cfg.ID,
		cfg:            cfg,
		clock:          clock,
		store:          buffer.NewStore(),
		registry:       detect.NewRegistry(),
		guard:          detect.NewGuard(cfg.ID, root.Coordinator.MaxDetectorErrors),
		fuser:          fusion.New(root.Fusion),
		active:         severity.NewActiveSet(),
		dispatcher:     dispatcher,
		coord:          coord,
		cooldown:       cfg.CooldownDuration(root.Dispatcher.CooldownDuration()),
		patternWindows: make(map[string]time.Duration),
	}
	f.evaluator = severity.NewEvaluator(cfg.ID, root.Severity, sink)

	for _, dc := range cfg.Detectors {
		d, err := detect.New(dc)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", cfg.ID, err)
		}
		if err := f.registry.Register(d); err != nil {
			return nil, fmt.Errorf("feature %s: %w", cfg.ID, err)
		}
		f.store.Register(d.Key(), detect.NewBuffer(dc, clock))

		// A pattern observed by several detectors expires on the longest
		// of their windows.
		if w, ok := f.patternWindows[d.Pattern()]; !ok || d.Window() > w {
			f.patternWindows[d.Pattern()] = d.Window()
		}
	}

	f.scheduler = schedule.New(cfg.ID, schedule.Config{
		Interval:          root.Scheduler.Interval(),
		Budget:            root.Scheduler.Budget(),
		MaxQueueSize:      root.Scheduler.MaxQueueSize,
		MaxEventsPerBatch: root.Scheduler.MaxEventsPerBatch,
		MaxBackoffFactor:  root.Scheduler.MaxBackoffFactor,
	}, f.store, f.evaluate, clock)

	return f, nil
}

// Push hands a raw event to this feature's input queue.
func (f *Feature) Push(ev types.RawSignalEvent) error {
	return f.scheduler.Push(ev)
}

// Keys returns the buffer keys this feature's detectors own.
func (f *Feature) Keys() []string {
	return f.registry.Keys()
}

// evaluate is the batch-tick callback: one evaluation pass over detectors
// whose buffers changed, then fusion, severity, and intervention submission.
func (f *Feature) evaluate(changed map[string]struct{}, now time.Time) {
	// Disabled by the error guard: events keep buffering, detection stops.
	if f.guard.Disabled() {
		return
	}

	byPattern := make(map[string][]types.DetectionResult)
	for key := range changed {
		buf := f.store.Get(key)
		if buf == nil {
			continue
		}
		for _, d := range f.registry.ByKey(key) {
			res, err := f.registry.SafeEvaluate(d, buf, now)
			if err != nil {
				if f.guard.RecordError() {
					logging.Detectors("%s: entering safe mode, detection disabled", f.id)
					return
				}
				continue
			}
			f.guard.RecordSuccess()
			byPattern[res.PatternID] = append(byPattern[res.PatternID], res)
		}
	}

	triggered := false
	for pattern, results := range byPattern {
		fused, ok := f.fuser.Fuse(results)
		if !ok {
			continue
		}
		logging.Fusion("%s: pattern=%s confidence=%.2f agreement=%.2f modalities=%d",
			f.id, pattern, fused.OverallConfidence, fused.AgreementScore, len(fused.ContributingModalities))

		if fused.OverallConfidence < f.cfg.ConfidenceThreshold {
			continue
		}
		atomic.AddInt64(&f.detectionsFired, 1)
		f.active.Touch(pattern, fused.OverallConfidence, f.patternWindows[pattern], now)
		triggered = true
	}

	f.active.Expire(now)
	level := f.evaluator.Track(f.active.Size(), now)

	if triggered && level > types.SeverityNormal {
		f.submitIntervention(level, now)
	}

	f.coord.TriggerCoordination(now)
	f.dispatcher.DispatchPending()
}

// submitIntervention builds the candidate for the current active set. The
// dedup key derives from the sorted active pattern IDs, so the same cause
// combination cannot re-fire within the cooldown.
func (f *Feature) submitIntervention(level types.SeverityLevel, now time.Time) {
	activeIDs := f.active.IDs()

	iv := types.Intervention{
		ID:       uuid.NewString(),
		Type:     f.cfg.Intervention.Type,
		Feature:  f.id,
		Priority: priorityFor(level),
		DedupKey: types.DedupKeyFor(f.id, activeIDs),
		Message:  f.cfg.Intervention.Message,
		Evidence: map[string]interface{}{
			"active_patterns": activeIDs,
			"severity":        level.String(),
		},
		CreatedAt: now,
	}
	if err := f.dispatcher.SubmitWithCooldown(iv, f.cooldown); err != nil {
		logging.Dispatch("%s: submit failed: %v", f.id, err)
	}
}

// priorityFor maps a severity level to dispatch priority.
func priorityFor(level types.SeverityLevel) types.InterventionPriority {
	switch level {
	case types.SeverityCrisis:
		return types.PriorityCritical
	case types.SeveritySupportive:
		return types.PriorityHigh
	case types.SeverityGentle:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// PruneStale expires active patterns and prunes this feature's buffers; the
// severity level is re-derived so it can fall back to normal during quiet
// stretches when no batch runs.
func (f *Feature) PruneStale(now time.Time) int {
	removed := f.active.Expire(now)
	f.evaluator.Track(f.active.Size(), now)

	for _, key := range f.registry.Keys() {
		owners := f.registry.ByKey(key)
		if len(owners) == 0 {
			continue
		}
		if buf := f.store.Get(key); buf != nil {
			removed += buf.Prune(now.Add(-owners[0].Window()))
		}
	}
	return removed
}

// Enable lifts safe mode after sustained detector errors.
func (f *Feature) Enable() { f.guard.Enable() }

// Disabled reports whether the feature is in safe mode.
func (f *Feature) Disabled() bool { return f.guard.Disabled() }

// FeatureMetrics is a per-feature telemetry snapshot.
type FeatureMetrics struct {
	EventsProcessed int64  `json:"events_processed"`
	EventsDropped   int64  `json:"events_dropped"`
	EventsRejected  int64  `json:"events_rejected"`
	DetectionsFired int64  `json:"detections_fired"`
	EvalErrors      int64  `json:"eval_errors"`
	QueueDepth      int    `json:"queue_depth"`
	ActivePatterns  int    `json:"active_patterns"`
	Severity        string `json:"severity"`
	Disabled        bool   `json:"disabled"`
	AvgBatchLatency string `json:"avg_batch_latency"`
	TickInterval    string `json:"tick_interval"`
}

// Snapshot returns the feature's current metrics.
func (f *Feature) Snapshot() FeatureMetrics {
	sm := f.scheduler.Snapshot()
	return FeatureMetrics{
		EventsProcessed: sm.EventsProcessed,
		EventsDropped:   sm.EventsDropped,
		EventsRejected:  f.store.Rejected(),
		DetectionsFired: atomic.LoadInt64(&f.detectionsFired),
		EvalErrors:      f.registry.EvalErrors(),
		QueueDepth:      f.scheduler.QueueDepth(),
		ActivePatterns:  f.active.Size(),
		Severity:        f.evaluator.Level().String(),
		Disabled:        f.guard.Disabled(),
		AvgBatchLatency: sm.AvgBatchLatency.String(),
		TickInterval:    sm.Interval.String(),
	}
}
