package detect

import (
	"strings"
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/types"
)

// LexicalMarker scans the newest text event for weighted marker phrases.
// The score is the sum of matched marker weights clamped to 1.0; the detector
// is single-shot and independent of earlier buffer contents.
type LexicalMarker struct {
	base
	markers  map[string]float64
	minScore float64
}

func newLexicalMarker(cfg config.DetectorConfig) *LexicalMarker {
	minScore := cfg.MinScore
	if minScore == 0 {
		minScore = 0.3
	}
	return &LexicalMarker{
		base:     newBase(cfg, types.ModalityText),
		markers:  cfg.Markers,
		minScore: minScore,
	}
}

// Evaluate scores the most recent text payload in the window.
func (d *LexicalMarker) Evaluate(buf buffer.Buffer, now time.Time) types.DetectionResult {
	events := buf.Query(now.Add(-d.window))

	var text string
	for i := len(events) - 1; i >= 0; i-- {
		if t, ok := events[i].TextPayload(); ok && t != "" {
			text = t
			break
		}
	}
	if text == "" {
		return d.result(false, 0, nil)
	}

	lower := strings.ToLower(text)
	score := 0.0
	matched := make([]string, 0, 4)
	for marker, weight := range d.markers {
		if strings.Contains(lower, marker) {
			score += weight
			matched = append(matched, marker)
		}
	}
	score = types.ClampConfidence(score)

	if score < d.minScore {
		return d.result(false, 0, nil)
	}
	return d.result(true, score, map[string]interface{}{
		"matched": matched,
		"text":    text,
	})
}
