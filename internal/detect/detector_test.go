package detect

import (
	"testing"
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/types"
)

// panicky implements Detector and always panics, standing in for a broken
// detector plugin.
type panicky struct{ base }

func (p *panicky) Evaluate(buf buffer.Buffer, now time.Time) types.DetectionResult {
	panic("detector bug")
}

func TestRegistry_RejectsDuplicateIDs(t *testing.T) {
	r := NewRegistry()
	d := newLexicalMarker(sarcasmMarkers())

	if err := r.Register(d); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(newLexicalMarker(sarcasmMarkers())); err == nil {
		t.Fatal("duplicate ID accepted")
	}
}

func TestRegistry_ByKey(t *testing.T) {
	r := NewRegistry()
	lex := newLexicalMarker(sarcasmMarkers())
	tone := newToneMismatch(toneConfig())
	if err := r.Register(lex); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(tone); err != nil {
		t.Fatal(err)
	}

	if got := r.ByKey("sarcasm_text"); len(got) != 1 || got[0].ID() != "sarcasm_markers" {
		t.Fatalf("ByKey(sarcasm_text) = %v", got)
	}
	if got := r.ByKey("nothing"); got != nil {
		t.Fatalf("ByKey(nothing) = %v, want nil", got)
	}
	if len(r.Keys()) != 2 {
		t.Fatalf("Keys() = %v", r.Keys())
	}
}

func TestRegistry_SafeEvaluateRecoversPanic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry()
	d := &panicky{base: newBase(config.DetectorConfig{
		ID:     "broken",
		Key:    "k",
		Window: "1m",
	}, types.ModalityText)}
	if err := r.Register(d); err != nil {
		t.Fatal(err)
	}

	res, err := r.SafeEvaluate(d, buffer.NewRing(4), now)
	if err == nil {
		t.Fatal("SafeEvaluate returned nil error for a panicking detector")
	}
	if res.Triggered {
		t.Fatal("recovered result is triggered")
	}
	if r.EvalErrors() != 1 {
		t.Fatalf("EvalErrors() = %d, want 1", r.EvalErrors())
	}

	// A second panic is independent; the registry keeps counting.
	if _, err := r.SafeEvaluate(d, buffer.NewRing(4), now); err == nil {
		t.Fatal("second SafeEvaluate returned nil error")
	}
	if r.EvalErrors() != 2 {
		t.Fatalf("EvalErrors() = %d, want 2", r.EvalErrors())
	}
}

func TestRegistry_SafeEvaluateClampsConfidence(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry()
	d := newBurstCount(stormConfig())
	buf := buffer.NewRing(64)
	for i := 0; i < 40; i++ {
		buf.Add(focusEvent(now.Add(-time.Duration(40-i)*time.Second), string(rune('a'+i))))
	}

	res, err := r.SafeEvaluate(d, buf, now)
	if err != nil {
		t.Fatalf("SafeEvaluate: %v", err)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Fatalf("Confidence = %.2f outside [0,1]", res.Confidence)
	}
}

func TestNew_BuildsEveryKind(t *testing.T) {
	cases := []config.DetectorConfig{
		stormConfig(),
		hoverConfig(),
		sarcasmMarkers(),
		toneConfig(),
	}
	for _, cfg := range cases {
		d, err := New(cfg)
		if err != nil {
			t.Fatalf("New(%s): %v", cfg.Kind, err)
		}
		if d.ID() != cfg.ID {
			t.Fatalf("ID() = %q, want %q", d.ID(), cfg.ID)
		}
	}

	if _, err := New(config.DetectorConfig{ID: "x", Kind: "telepathy"}); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestNew_PatternDefaultsToID(t *testing.T) {
	cfg := stormConfig() // no Pattern set
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if d.Pattern() != cfg.ID {
		t.Fatalf("Pattern() = %q, want %q", d.Pattern(), cfg.ID)
	}

	lex, err := New(sarcasmMarkers()) // Pattern "sarcasm" set explicitly
	if err != nil {
		t.Fatal(err)
	}
	if lex.Pattern() != "sarcasm" {
		t.Fatalf("Pattern() = %q, want sarcasm", lex.Pattern())
	}
}

func TestNewBuffer_SelectsRingOrWindow(t *testing.T) {
	clock := types.SystemClock{}

	if _, ok := NewBuffer(stormConfig(), clock).(*buffer.Ring); !ok {
		t.Fatal("capacity>0 did not build a ring")
	}
	if _, ok := NewBuffer(sarcasmMarkers(), clock).(*buffer.Window); !ok {
		t.Fatal("capacity==0 did not build a window buffer")
	}
}

func TestGuard_DisablesAfterConsecutiveErrors(t *testing.T) {
	g := NewGuard("crisis", 3)

	if g.RecordError() || g.RecordError() {
		t.Fatal("guard tripped early")
	}
	if !g.RecordError() {
		t.Fatal("guard did not trip at the limit")
	}
	if !g.Disabled() {
		t.Fatal("Disabled() = false after trip")
	}
	// Tripping again reports false; the transition fires once.
	if g.RecordError() {
		t.Fatal("guard reported a second transition")
	}

	g.Enable()
	if g.Disabled() {
		t.Fatal("Enable did not lift safe mode")
	}
}

func TestGuard_SuccessResetsCount(t *testing.T) {
	g := NewGuard("crisis", 3)
	g.RecordError()
	g.RecordError()
	g.RecordSuccess()
	g.RecordError()
	g.RecordError()
	if g.Disabled() {
		t.Fatal("guard tripped despite interleaved success")
	}
	if !g.RecordError() {
		t.Fatal("guard did not trip after three consecutive errors")
	}
}
