package detect

import (
	"math"
	"sync"
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/types"
)

// DwellTime triggers when cursor movement stays within epsilon of its latest
// position for at least the dwell duration (hover/avoidance paralysis).
// On trigger the anchor advances past the samples that fired, so an ongoing
// hover does not re-fire every cycle; the next trigger needs a fresh dwell
// span. The anchor is the detector's only state beyond its buffer.
type DwellTime struct {
	base
	epsilon float64
	dwell   time.Duration

	mu     sync.Mutex
	anchor time.Time // samples at or before this are spent
}

func newDwellTime(cfg config.DetectorConfig) *DwellTime {
	return &DwellTime{
		base:    newBase(cfg, types.ModalityCursor),
		epsilon: cfg.EpsilonPx,
		dwell:   cfg.Dwell(),
	}
}

// Evaluate measures the still span ending at the newest cursor sample.
func (d *DwellTime) Evaluate(buf buffer.Buffer, now time.Time) types.DetectionResult {
	d.mu.Lock()
	anchor := d.anchor
	d.mu.Unlock()

	since := now.Add(-d.window)
	if anchor.After(since) {
		since = anchor.Add(time.Nanosecond)
	}

	samples := buf.Query(since)
	if len(samples) < 2 {
		return d.result(false, 0, nil)
	}

	last := samples[len(samples)-1]
	lx, okX := last.FloatPayload("x")
	ly, okY := last.FloatPayload("y")
	if !okX || !okY {
		return d.result(false, 0, nil)
	}

	// Walk backwards while samples stay within epsilon of the latest
	// position. The still span is bounded by the first sample that moved.
	stillSince := last.Timestamp
	for i := len(samples) - 2; i >= 0; i-- {
		x, okX := samples[i].FloatPayload("x")
		y, okY := samples[i].FloatPayload("y")
		if !okX || !okY {
			break
		}
		if math.Hypot(x-lx, y-ly) >= d.epsilon {
			break
		}
		stillSince = samples[i].Timestamp
	}

	span := last.Timestamp.Sub(stillSince)
	if span < d.dwell {
		return d.result(false, 0, nil)
	}

	// Advance the anchor so this dwell cannot re-fire.
	d.mu.Lock()
	d.anchor = last.Timestamp
	d.mu.Unlock()

	strength := math.Min(1, float64(span)/float64(2*d.dwell))
	return d.result(true, 0.6+0.4*strength, map[string]interface{}{
		"dwell_ms": span.Milliseconds(),
		"x":        lx,
		"y":        ly,
	})
}
