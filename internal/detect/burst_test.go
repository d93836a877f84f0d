package detect

import (
	"fmt"
	"testing"
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/types"
)

func focusEvent(ts time.Time, app string) types.RawSignalEvent {
	return types.RawSignalEvent{
		ID:        app,
		Timestamp: ts,
		Modality:  types.ModalityWindow,
		Key:       "window_focus",
		Payload:   map[string]interface{}{"app": app},
	}
}

func stormConfig() config.DetectorConfig {
	return config.DetectorConfig{
		ID:             "app_switching_storm",
		Kind:           config.KindBurstCount,
		Key:            "window_focus",
		Weight:         1.0,
		Window:         "5m",
		Capacity:       64,
		Threshold:      20,
		MinUniqueRatio: 0.7,
		SubKeyField:    "app",
	}
}

func TestBurstCount_AppSwitchingStorm(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newBurstCount(stormConfig())
	buf := buffer.NewRing(64)

	// 20 focus changes across 20 distinct apps inside the window.
	for i := 0; i < 20; i++ {
		buf.Add(focusEvent(now.Add(-time.Duration(20-i)*10*time.Second), fmt.Sprintf("app-%d", i)))
	}

	res := d.Evaluate(buf, now)
	if !res.Triggered {
		t.Fatal("storm not triggered")
	}
	if res.Confidence < 0.7 {
		t.Fatalf("Confidence = %.2f, want >= 0.7", res.Confidence)
	}
	if res.PatternID != "app_switching_storm" {
		t.Fatalf("PatternID = %q", res.PatternID)
	}
	if res.Evidence["unique_subkeys"] != 20 {
		t.Fatalf("unique_subkeys = %v, want 20", res.Evidence["unique_subkeys"])
	}
}

func TestBurstCount_BelowThreshold(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newBurstCount(stormConfig())
	buf := buffer.NewRing(64)

	for i := 0; i < 19; i++ {
		buf.Add(focusEvent(now.Add(-time.Duration(19-i)*10*time.Second), fmt.Sprintf("app-%d", i)))
	}

	if res := d.Evaluate(buf, now); res.Triggered {
		t.Fatalf("19 events triggered, want not triggered (confidence %.2f)", res.Confidence)
	}
}

func TestBurstCount_OneAppRepeatingDoesNotTrip(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newBurstCount(stormConfig())
	buf := buffer.NewRing(64)

	// 30 focus events but all from one app regaining focus.
	for i := 0; i < 30; i++ {
		buf.Add(focusEvent(now.Add(-time.Duration(30-i)*time.Second), "slack"))
	}

	if res := d.Evaluate(buf, now); res.Triggered {
		t.Fatal("single-app repetition triggered the storm detector")
	}
}

func TestBurstCount_IgnoresEventsOutsideWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newBurstCount(stormConfig())
	buf := buffer.NewRing(64)

	// All the volume is older than the 5m window.
	for i := 0; i < 25; i++ {
		buf.Add(focusEvent(now.Add(-10*time.Minute), fmt.Sprintf("app-%d", i)))
	}

	if res := d.Evaluate(buf, now); res.Triggered {
		t.Fatal("stale events triggered the detector")
	}
}

func TestBurstCount_NoSubkeyCountsVolume(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newBurstCount(config.DetectorConfig{
		ID:        "document_spiral",
		Kind:      config.KindBurstCount,
		Key:       "doc_edits",
		Weight:    0.9,
		Window:    "3m",
		Threshold: 15,
	})
	buf := buffer.NewRing(64)

	for i := 0; i < 15; i++ {
		buf.Add(types.RawSignalEvent{
			ID:        fmt.Sprintf("e%d", i),
			Timestamp: now.Add(-time.Duration(15-i) * time.Second),
			Modality:  types.ModalityWindow,
			Key:       "doc_edits",
		})
	}

	res := d.Evaluate(buf, now)
	if !res.Triggered {
		t.Fatal("document spiral not triggered at threshold")
	}
	// Exactly at threshold the confidence floor applies.
	if res.Confidence != 0.7 {
		t.Fatalf("Confidence = %.2f, want 0.70", res.Confidence)
	}
}
