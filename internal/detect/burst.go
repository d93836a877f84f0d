package detect

import (
	"time"

	"velvet/internal/buffer"
	"velvet/internal/config"
	"velvet/internal/types"
)

// BurstCount triggers when the buffer holds at least threshold events inside
// the window. When a subkey field is configured it additionally requires
// unique subkeys / threshold >= minUniqueRatio, so one source repeating
// rapidly (the same app regaining focus) cannot trip it alone. This covers
// both app-switching storms and document spirals.
type BurstCount struct {
	base
	threshold      int
	minUniqueRatio float64
	subKeyField    string
}

func newBurstCount(cfg config.DetectorConfig) *BurstCount {
	return &BurstCount{
		base:           newBase(cfg, types.ModalityWindow),
		threshold:      cfg.Threshold,
		minUniqueRatio: cfg.MinUniqueRatio,
		subKeyField:    cfg.SubKeyField,
	}
}

// Evaluate counts events inside the window.
func (d *BurstCount) Evaluate(buf buffer.Buffer, now time.Time) types.DetectionResult {
	events := buf.Query(now.Add(-d.window))
	count := len(events)
	if count < d.threshold {
		return d.result(false, 0, nil)
	}

	evidence := map[string]interface{}{
		"count":     count,
		"threshold": d.threshold,
	}

	// Uniqueness requirement: ratio of distinct subkeys to threshold.
	uniqueRatio := 1.0
	if d.subKeyField != "" {
		unique := make(map[string]struct{}, count)
		for _, ev := range events {
			if sub, ok := ev.StringPayload(d.subKeyField); ok {
				unique[sub] = struct{}{}
			}
		}
		uniqueRatio = float64(len(unique)) / float64(d.threshold)
		evidence["unique_subkeys"] = len(unique)
		if uniqueRatio < d.minUniqueRatio {
			return d.result(false, 0, nil)
		}
	}

	// Confidence starts at 0.7 on trigger and grows with how decisively
	// the evidence exceeds the bar.
	var strength float64
	if d.subKeyField != "" {
		if uniqueRatio > 1 {
			uniqueRatio = 1
		}
		strength = uniqueRatio
	} else {
		strength = float64(count-d.threshold) / float64(d.threshold)
		if strength > 1 {
			strength = 1
		}
	}
	return d.result(true, 0.7+0.3*strength, evidence)
}
