package detect

import (
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/types"
)

// ToneMismatch compares a lexical positivity flag against acoustic features
// (flatness, energy, pitch variance) supplied by the audio adapter. Positive
// words delivered flat score higher than flat delivery alone: the mismatch is
// the signal.
type ToneMismatch struct {
	base
	flatnessThreshold float64
}

func newToneMismatch(cfg config.DetectorConfig) *ToneMismatch {
	return &ToneMismatch{
		base:              newBase(cfg, types.ModalityAudio),
		flatnessThreshold: cfg.FlatnessThreshold,
	}
}

// Evaluate inspects the newest audio-feature event in the window.
func (d *ToneMismatch) Evaluate(buf buffer.Buffer, now time.Time) types.DetectionResult {
	events := buf.Query(now.Add(-d.window))
	if len(events) == 0 {
		return d.result(false, 0, nil)
	}
	ev := events[len(events)-1]

	flatness, ok := ev.FloatPayload("flatness")
	if !ok {
		return d.result(false, 0, nil)
	}
	energy, _ := ev.FloatPayload("energy")
	pitchVar, _ := ev.FloatPayload("pitch_variance")
	positiveText, _ := ev.BoolPayload("positive_text")

	// Delivery reads flat when spectral flatness crosses the threshold, or
	// when both energy and pitch variance are depressed.
	flat := flatness >= d.flatnessThreshold || (energy < 0.3 && pitchVar < 0.2)
	if !flat {
		return d.result(false, 0, nil)
	}

	evidence := map[string]interface{}{
		"flatness":       flatness,
		"energy":         energy,
		"pitch_variance": pitchVar,
		"positive_text":  positiveText,
	}

	if positiveText {
		// Positive words, flat delivery: the strongest cue.
		return d.result(true, 0.65+0.3*flatness, evidence)
	}
	// Flat delivery alone is ambiguous.
	return d.result(true, 0.4+0.25*flatness, evidence)
}
