package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"velvet/internal/config"
	"velvet/internal/types"
)

// fakeClock is a hand-advanced Clock so cooldowns and window math are
// deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// tick drives one batch cycle for a feature without starting its loop.
func tick(t *testing.T, e *Engine, feature string, now time.Time) {
	t.Helper()
	f, ok := e.features[feature]
	if !ok {
		t.Fatalf("no feature %q", feature)
	}
	f.scheduler.Tick(now)
}

func pushSarcasm(t *testing.T, e *Engine, now time.Time) {
	t.Helper()
	if err := e.PushEvent(types.ModalityText, "sarcasm_text", map[string]interface{}{
		"text": "Sure, that's fine, whatever works.",
	}, now); err != nil {
		t.Fatalf("push text: %v", err)
	}
	if err := e.PushEvent(types.ModalityAudio, "sarcasm_audio", map[string]interface{}{
		"flatness":       0.8,
		"energy":         0.2,
		"pitch_variance": 0.1,
		"positive_text":  true,
	}, now); err != nil {
		t.Fatalf("push audio: %v", err)
	}
}

func pushStorm(t *testing.T, e *Engine, now time.Time) {
	t.Helper()
	for i := 0; i < 20; i++ {
		err := e.PushEvent(types.ModalityWindow, "window_focus", map[string]interface{}{
			"app": fmt.Sprintf("app-%d", i),
		}, now.Add(-time.Duration(20-i)*5*time.Second))
		if err != nil {
			t.Fatalf("push focus %d: %v", i, err)
		}
	}
}

func TestEngine_SarcasmEndToEnd(t *testing.T) {
	clock := newFakeClock()
	e, err := NewEngine(config.DefaultConfig(), clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var got []types.Intervention
	e.Subscribe(func(iv types.Intervention) { got = append(got, iv) })
	var sev []types.SeverityChanged
	e.SubscribeSeverity(func(ch types.SeverityChanged) { sev = append(sev, ch) })

	now := clock.Now()
	pushSarcasm(t, e, now)
	tick(t, e, "sarcasm", now)

	if len(got) != 1 {
		t.Fatalf("dispatched %d interventions, want 1", len(got))
	}
	iv := got[0]
	if iv.Type != "sarcasm_decode" {
		t.Fatalf("Type = %q, want sarcasm_decode", iv.Type)
	}
	// One active pattern: gentle severity, medium priority.
	if iv.Priority != types.PriorityMedium {
		t.Fatalf("Priority = %s, want medium", iv.Priority)
	}
	if iv.DedupKey != "sarcasm:sarcasm" {
		t.Fatalf("DedupKey = %q", iv.DedupKey)
	}

	if len(sev) != 1 || sev[0].From != types.SeverityNormal || sev[0].To != types.SeverityGentle {
		t.Fatalf("severity transitions = %+v", sev)
	}

	m := e.GetMetrics()
	if m.EventsProcessed != 2 {
		t.Fatalf("EventsProcessed = %d, want 2", m.EventsProcessed)
	}
	if m.DetectionsFired != 1 {
		t.Fatalf("DetectionsFired = %d, want 1", m.DetectionsFired)
	}
	if len(e.History()) != 1 {
		t.Fatalf("History length = %d, want 1", len(e.History()))
	}
}

func TestEngine_TextAloneStillDetects(t *testing.T) {
	clock := newFakeClock()
	e, err := NewEngine(config.DefaultConfig(), clock)
	if err != nil {
		t.Fatal(err)
	}

	var got []types.Intervention
	e.Subscribe(func(iv types.Intervention) { got = append(got, iv) })

	now := clock.Now()
	// Text only: the lexical score 0.65 passes through fusion unchanged and
	// clears the 0.6 feature threshold.
	if err := e.PushEvent(types.ModalityText, "sarcasm_text", map[string]interface{}{
		"text": "sure, fine, whatever",
	}, now); err != nil {
		t.Fatal(err)
	}
	tick(t, e, "sarcasm", now)

	if len(got) != 1 {
		t.Fatalf("dispatched %d, want 1", len(got))
	}
}

func TestEngine_CooldownDedupsRepeatCause(t *testing.T) {
	clock := newFakeClock()
	e, err := NewEngine(config.DefaultConfig(), clock)
	if err != nil {
		t.Fatal(err)
	}

	var got []types.Intervention
	e.Subscribe(func(iv types.Intervention) { got = append(got, iv) })

	pushSarcasm(t, e, clock.Now())
	tick(t, e, "sarcasm", clock.Now())

	// Same cause again inside the 30s feature cooldown.
	clock.Advance(5 * time.Second)
	pushSarcasm(t, e, clock.Now())
	tick(t, e, "sarcasm", clock.Now())

	if len(got) != 1 {
		t.Fatalf("dispatched %d, want 1 (second suppressed)", len(got))
	}
	if m := e.GetMetrics(); m.InterventionsDeduped != 1 {
		t.Fatalf("InterventionsDeduped = %d, want 1", m.InterventionsDeduped)
	}

	// Outside the cooldown it fires again.
	clock.Advance(31 * time.Second)
	pushSarcasm(t, e, clock.Now())
	tick(t, e, "sarcasm", clock.Now())

	if len(got) != 2 {
		t.Fatalf("dispatched %d after cooldown, want 2", len(got))
	}
}

func TestEngine_UnifiedInterventionAboveThreshold(t *testing.T) {
	clock := newFakeClock()
	e, err := NewEngine(config.DefaultConfig(), clock)
	if err != nil {
		t.Fatal(err)
	}

	var got []types.Intervention
	e.Subscribe(func(iv types.Intervention) { got = append(got, iv) })

	now := clock.Now()

	// Sarcasm alone: weighted confidence 1.0, below the 1.5 threshold.
	pushSarcasm(t, e, now)
	tick(t, e, "sarcasm", now)
	if m := e.GetMetrics(); m.UnifiedInterventions != 0 {
		t.Fatalf("unified fired at weighted 1.0: %d", m.UnifiedInterventions)
	}

	// Crisis joins: 1.0 + 1.0 crosses it.
	pushStorm(t, e, now)
	tick(t, e, "crisis", now)

	m := e.GetMetrics()
	if m.UnifiedInterventions != 1 {
		t.Fatalf("UnifiedInterventions = %d, want 1", m.UnifiedInterventions)
	}

	var unified *types.Intervention
	for i := range got {
		if got[i].Feature == "coordinator" {
			unified = &got[i]
		}
	}
	if unified == nil {
		t.Fatal("no coordinator intervention dispatched")
	}
	if unified.Priority != types.PriorityCritical {
		t.Fatalf("unified Priority = %s, want critical", unified.Priority)
	}
	if unified.Type != "unified_support" {
		t.Fatalf("unified Type = %q", unified.Type)
	}
}

func TestEngine_PrioritiesScaleCoordination(t *testing.T) {
	clock := newFakeClock()
	e, err := NewEngine(config.DefaultConfig(), clock)
	if err != nil {
		t.Fatal(err)
	}

	// Downweight both features so their combined confidence stays under the
	// threshold.
	e.UpdatePriorities(map[string]float64{"sarcasm": 0.5, "crisis": 0.5})

	now := clock.Now()
	pushSarcasm(t, e, now)
	tick(t, e, "sarcasm", now)
	pushStorm(t, e, now)
	tick(t, e, "crisis", now)

	if m := e.GetMetrics(); m.UnifiedInterventions != 0 {
		t.Fatalf("unified fired despite downweighting: %d", m.UnifiedInterventions)
	}

	p := e.Priorities()
	if p["sarcasm"] != 0.5 || p["crisis"] != 0.5 {
		t.Fatalf("Priorities() = %v", p)
	}
	// Features absent from the update keep weight 1.0.
	if p["masking"] != 1.0 {
		t.Fatalf("masking weight = %v, want 1.0", p["masking"])
	}
}

func TestEngine_UpdatePrioritiesClamps(t *testing.T) {
	e, err := NewEngine(config.DefaultConfig(), newFakeClock())
	if err != nil {
		t.Fatal(err)
	}

	e.UpdatePriorities(map[string]float64{"sarcasm": 7.0, "crisis": -2.0})

	p := e.Priorities()
	if p["sarcasm"] != 1.0 {
		t.Fatalf("sarcasm weight = %v, want clamped to 1.0", p["sarcasm"])
	}
	if p["crisis"] != 0.0 {
		t.Fatalf("crisis weight = %v, want clamped to 0.0", p["crisis"])
	}
}

func TestEngine_RejectsMalformedEvents(t *testing.T) {
	e, err := NewEngine(config.DefaultConfig(), newFakeClock())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	if err := e.PushEvent(types.ModalityText, "sarcasm_text", nil, time.Time{}); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("zero timestamp: %v, want ErrMalformedEvent", err)
	}
	if err := e.PushEvent("smell", "sarcasm_text", nil, now); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("bad modality: %v, want ErrMalformedEvent", err)
	}
	if err := e.PushEvent(types.ModalityText, "who_knows", nil, now); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("unknown key: %v, want ErrUnknownKey", err)
	}

	if m := e.GetMetrics(); m.EventsRejected != 3 {
		t.Fatalf("EventsRejected = %d, want 3", m.EventsRejected)
	}
}

func TestEngine_SafeModeKeepsBufferingStopsDetecting(t *testing.T) {
	clock := newFakeClock()
	cfg := config.DefaultConfig()
	e, err := NewEngine(cfg, clock)
	if err != nil {
		t.Fatal(err)
	}

	var got []types.Intervention
	e.Subscribe(func(iv types.Intervention) { got = append(got, iv) })

	f := e.features["sarcasm"]
	for i := 0; i < cfg.Coordinator.MaxDetectorErrors; i++ {
		f.guard.RecordError()
	}
	if !f.Disabled() {
		t.Fatal("guard not disabled")
	}

	now := clock.Now()
	pushSarcasm(t, e, now)
	tick(t, e, "sarcasm", now)

	if len(got) != 0 {
		t.Fatalf("disabled feature dispatched %d interventions", len(got))
	}
	// Events were still buffered while detection was off.
	if f.store.Get("sarcasm_text").Len() != 1 {
		t.Fatal("disabled feature did not buffer the event")
	}

	if !e.EnableFeature("sarcasm") {
		t.Fatal("EnableFeature(sarcasm) = false")
	}
	if e.EnableFeature("nope") {
		t.Fatal("EnableFeature(nope) = true")
	}

	clock.Advance(time.Second)
	pushSarcasm(t, e, clock.Now())
	tick(t, e, "sarcasm", clock.Now())

	if len(got) != 1 {
		t.Fatalf("re-enabled feature dispatched %d, want 1", len(got))
	}
}

func TestEngine_PruneRelaxesSeverity(t *testing.T) {
	clock := newFakeClock()
	e, err := NewEngine(config.DefaultConfig(), clock)
	if err != nil {
		t.Fatal(err)
	}

	var sev []types.SeverityChanged
	e.SubscribeSeverity(func(ch types.SeverityChanged) { sev = append(sev, ch) })

	pushSarcasm(t, e, clock.Now())
	tick(t, e, "sarcasm", clock.Now())
	if len(sev) != 1 || sev[0].To != types.SeverityGentle {
		t.Fatalf("setup transitions = %+v", sev)
	}

	// Quiet stretch past the 30s detector window: the manager's prune pass
	// expires the active pattern and the level falls back to normal.
	clock.Advance(time.Minute)
	e.manager.PruneNow()

	if len(sev) != 2 || sev[1].To != types.SeverityNormal {
		t.Fatalf("transitions after prune = %+v", sev)
	}
	if m := e.GetMetrics(); m.EntriesPruned == 0 {
		t.Fatal("EntriesPruned = 0, want > 0")
	}
}

func TestEngine_DisabledFeatureOwnsNoKeys(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Features[1].Enabled = false // crisis off

	e, err := NewEngine(cfg, newFakeClock())
	if err != nil {
		t.Fatal(err)
	}

	if err := e.PushEvent(types.ModalityWindow, "window_focus", map[string]interface{}{"app": "x"}, time.Now()); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("push to disabled feature: %v, want ErrUnknownKey", err)
	}
}

func TestNewEngine_RejectsDuplicateBufferKeys(t *testing.T) {
	cfg := config.DefaultConfig()
	// Give masking a detector claiming a sarcasm key.
	cfg.Features[2].Detectors[0].Key = "sarcasm_text"

	if _, err := NewEngine(cfg, nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("NewEngine = %v, want ErrInvalidConfig", err)
	}
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Fusion.MaxAgreementBonus = 2.0

	if _, err := NewEngine(cfg, nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("NewEngine = %v, want ErrInvalidConfig", err)
	}
}

func TestEngine_ShutdownIsFinal(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, err := NewEngine(config.DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(); err != nil { // idempotent
		t.Fatalf("second Start: %v", err)
	}

	e.Shutdown()
	e.Shutdown() // idempotent

	if err := e.PushEvent(types.ModalityText, "sarcasm_text", nil, time.Now()); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("push after Shutdown = %v, want ErrEngineClosed", err)
	}
	if err := e.Start(); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("Start after Shutdown = %v, want ErrEngineClosed", err)
	}
}

func TestEngine_ShutdownDiscardsQueuedWork(t *testing.T) {
	clock := newFakeClock()
	e, err := NewEngine(config.DefaultConfig(), clock)
	if err != nil {
		t.Fatal(err)
	}

	delivered := 0
	e.Subscribe(func(types.Intervention) { delivered++ })

	// Events queued but never ticked; the engine shuts down with work pending.
	pushSarcasm(t, e, clock.Now())
	e.Shutdown()

	for _, f := range e.features {
		f.scheduler.Tick(clock.Now())
	}
	if delivered != 0 {
		t.Fatalf("delivered %d after Shutdown, want 0", delivered)
	}
}
