package detect

import (
	"fmt"
	"testing"
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/types"
)

func cursorEvent(ts time.Time, x, y float64) types.RawSignalEvent {
	return types.RawSignalEvent{
		ID:        fmt.Sprintf("c-%d", ts.UnixNano()),
		Timestamp: ts,
		Modality:  types.ModalityCursor,
		Key:       "cursor",
		Payload:   map[string]interface{}{"x": x, "y": y},
	}
}

func hoverConfig() config.DetectorConfig {
	return config.DetectorConfig{
		ID:            "hover_paralysis",
		Kind:          config.KindDwellTime,
		Key:           "cursor",
		Weight:        0.8,
		Window:        "2m",
		Capacity:      128,
		EpsilonPx:     12,
		DwellDuration: "45s",
	}
}

func TestDwellTime_TriggersOnLongHover(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newDwellTime(hoverConfig())
	buf := buffer.NewRing(128)

	// Cursor parked at (100,100) +- a couple px for 60 seconds.
	for i := 0; i <= 12; i++ {
		ts := now.Add(-time.Duration(60-i*5) * time.Second)
		buf.Add(cursorEvent(ts, 100+float64(i%3), 100-float64(i%2)))
	}

	res := d.Evaluate(buf, now)
	if !res.Triggered {
		t.Fatal("60s hover with 45s dwell not triggered")
	}
	if res.Confidence < 0.6 {
		t.Fatalf("Confidence = %.2f, want >= 0.6", res.Confidence)
	}
}

func TestDwellTime_DoesNotRefireSameHover(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newDwellTime(hoverConfig())
	buf := buffer.NewRing(128)

	for i := 0; i <= 12; i++ {
		ts := now.Add(-time.Duration(60-i*5) * time.Second)
		buf.Add(cursorEvent(ts, 100, 100))
	}

	if res := d.Evaluate(buf, now); !res.Triggered {
		t.Fatal("first evaluation did not trigger")
	}
	// Same buffer, next batch tick: the anchor advanced past the hover.
	if res := d.Evaluate(buf, now.Add(100*time.Millisecond)); res.Triggered {
		t.Fatal("ongoing hover re-fired on the next cycle")
	}
}

func TestDwellTime_MovementResetsSpan(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newDwellTime(hoverConfig())
	buf := buffer.NewRing(128)

	// Still for 30s, a big jump, then still for 20s: neither span reaches 45s.
	for i := 0; i <= 6; i++ {
		buf.Add(cursorEvent(now.Add(-time.Duration(60-i*5)*time.Second), 100, 100))
	}
	for i := 0; i <= 4; i++ {
		buf.Add(cursorEvent(now.Add(-time.Duration(20-i*5)*time.Second), 500, 400))
	}

	if res := d.Evaluate(buf, now); res.Triggered {
		t.Fatal("interrupted hover triggered")
	}
}

func TestDwellTime_TooFewSamples(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newDwellTime(hoverConfig())
	buf := buffer.NewRing(128)
	buf.Add(cursorEvent(now, 100, 100))

	if res := d.Evaluate(buf, now); res.Triggered {
		t.Fatal("single sample triggered")
	}
}

func TestDwellTime_MissingCoordinates(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := newDwellTime(hoverConfig())
	buf := buffer.NewRing(128)
	for i := 0; i < 4; i++ {
		buf.Add(types.RawSignalEvent{
			ID:        fmt.Sprintf("bad-%d", i),
			Timestamp: now.Add(-time.Duration(60-i*15) * time.Second),
			Modality:  types.ModalityCursor,
			Key:       "cursor",
			Payload:   map[string]interface{}{"idle": true},
		})
	}

	if res := d.Evaluate(buf, now); res.Triggered {
		t.Fatal("coordinate-less samples triggered")
	}
}
