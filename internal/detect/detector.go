// Package detect implements the pluggable pattern detectors and their typed
// registry. Detectors are synchronous, bounded, and idempotent for fixed
// inputs: each reads its own buffer plus the batch timestamp and returns a
// confidence-scored DetectionResult. A panicking detector is recovered at the
// call site and treated as not-triggered for that cycle.
package detect

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/logging"
	"velvet/internal/types"
)

// Detector evaluates one behavioral pattern from one buffer.
type Detector interface {
	// ID is the unique detector identifier within its feature.
	ID() string

	// Pattern names the underlying pattern this detector observes.
	// Detectors on different modalities may share a pattern; fusion
	// combines their results.
	Pattern() string

	// Key is the buffer key this detector owns.
	Key() string

	// Modality is the signal channel this detector reads.
	Modality() types.Modality

	// Weight is the detector's contribution weight in [0,1].
	Weight() float64

	// Window is the evaluation lookback.
	Window() time.Duration

	// Evaluate inspects the buffer as of now. It must not block, perform
	// I/O, or retain references to the buffer snapshot.
	Evaluate(buf buffer.Buffer, now time.Time) types.DetectionResult
}

// =============================================================================
// TYPED REGISTRY
// =============================================================================

// Registry holds the detectors of one feature instance, indexed by buffer
// key. Registration happens once at startup.
type Registry struct {
	mu        sync.RWMutex
	detectors []Detector
	byKey     map[string][]Detector

	evalErrors int64 // recovered panics across all detectors
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string][]Detector)}
}

// Register adds a detector. Duplicate IDs are rejected.
func (r *Registry) Register(d Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.detectors {
		if existing.ID() == d.ID() {
			return fmt.Errorf("detector %q already registered", d.ID())
		}
	}
	r.detectors = append(r.detectors, d)
	r.byKey[d.Key()] = append(r.byKey[d.Key()], d)
	return nil
}

// ByKey returns the detectors owning the given buffer key.
func (r *Registry) ByKey(key string) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[key]
}

// All returns every registered detector.
func (r *Registry) All() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Detector, len(r.detectors))
	copy(out, r.detectors)
	return out
}

// Keys returns every buffer key with at least one detector.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	return keys
}

// EvalErrors returns the recovered-panic counter.
func (r *Registry) EvalErrors() int64 {
	return atomic.LoadInt64(&r.evalErrors)
}

// SafeEvaluate runs one detector, recovering panics. A recovered panic is
// logged and counted, and yields triggered:false confidence:0 so the rest of
// the batch proceeds.
func (r *Registry) SafeEvaluate(d Detector, buf buffer.Buffer, now time.Time) (res types.DetectionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			atomic.AddInt64(&r.evalErrors, 1)
			err = fmt.Errorf("detector %s panicked: %v", d.ID(), rec)
			logging.Detectors("detector %s: recovered panic: %v", d.ID(), rec)
			res = types.DetectionResult{
				PatternID: d.Pattern(),
				Modality:  d.Modality(),
				Triggered: false,
			}
		}
	}()

	res = d.Evaluate(buf, now)
	res.Confidence = types.ClampConfidence(res.Confidence)
	return res, nil
}

// =============================================================================
// FACTORY
// =============================================================================

// New builds a detector from its configuration. The kind enum is exhaustive;
// config.Validate has already rejected unknown kinds.
func New(cfg config.DetectorConfig) (Detector, error) {
	switch cfg.Kind {
	case config.KindBurstCount:
		return newBurstCount(cfg), nil
	case config.KindDwellTime:
		return newDwellTime(cfg), nil
	case config.KindLexicalMarker:
		return newLexicalMarker(cfg), nil
	case config.KindToneMismatch:
		return newToneMismatch(cfg), nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}

// NewBuffer builds the buffer a detector configuration calls for: a
// fixed-capacity ring when capacity is set, a time-window buffer otherwise.
func NewBuffer(cfg config.DetectorConfig, clock types.Clock) buffer.Buffer {
	if cfg.Capacity > 0 {
		return buffer.NewRing(cfg.Capacity)
	}
	return buffer.NewWindow(cfg.WindowDuration(), clock)
}

// base carries the fields every detector shares.
type base struct {
	id       string
	pattern  string
	key      string
	modality types.Modality
	weight   float64
	window   time.Duration
}

func newBase(cfg config.DetectorConfig, modality types.Modality) base {
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = cfg.ID
	}
	return base{
		id:       cfg.ID,
		pattern:  pattern,
		key:      cfg.Key,
		modality: modality,
		weight:   cfg.Weight,
		window:   cfg.WindowDuration(),
	}
}

func (b base) ID() string               { return b.id }
func (b base) Pattern() string          { return b.pattern }
func (b base) Key() string              { return b.key }
func (b base) Modality() types.Modality { return b.modality }
func (b base) Weight() float64          { return b.weight }
func (b base) Window() time.Duration    { return b.window }

func (b base) result(triggered bool, confidence float64, evidence map[string]interface{}) types.DetectionResult {
	return types.DetectionResult{
		PatternID:  b.pattern,
		Modality:   b.modality,
		Triggered:  triggered,
		Confidence: types.ClampConfidence(confidence),
		Evidence:   evidence,
	}
}
