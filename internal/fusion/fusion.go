// Package fusion combines detection results from independent modalities into
// one confidence score. The rule is shared by every feature instance instead
// of being re-implemented per feature: a single modality passes through
// unchanged; two or more agreeing modalities boost the strongest confidence
// by an agreement bonus; disagreement applies a penalty. Output confidence is
// always re-clamped to [0,1].
package fusion

import (
	"velvet/internal/config"
	"velvet/internal/types"
)

// Fuser applies the agreement rule.
type Fuser struct {
	maxBonus float64 // in [1.0, 1.3]
	penalty  float64 // in (0, 1.0]
}

// New creates a Fuser from validated config.
func New(cfg config.FusionConfig) *Fuser {
	return &Fuser{
		maxBonus: cfg.MaxAgreementBonus,
		penalty:  cfg.DisagreementPenalty,
	}
}

// Fuse combines results that refer to the same pattern. Untriggered results
// count as disagreeing modalities. Returns false when nothing triggered.
func (f *Fuser) Fuse(results []types.DetectionResult) (types.FusedAnalysis, bool) {
	if len(results) == 0 {
		return types.FusedAnalysis{}, false
	}

	patternID := results[0].PatternID
	modalities := make([]types.Modality, 0, len(results))
	triggered := make([]types.DetectionResult, 0, len(results))

	for _, r := range results {
		if r.Triggered {
			triggered = append(triggered, r)
			modalities = append(modalities, r.Modality)
		}
	}
	if len(triggered) == 0 {
		return types.FusedAnalysis{PatternID: patternID}, false
	}

	agreement := float64(len(triggered)) / float64(len(results))

	// Single reporting modality: pass the confidence through.
	if len(results) == 1 {
		return types.FusedAnalysis{
			PatternID:              patternID,
			OverallConfidence:      types.ClampConfidence(triggered[0].Confidence),
			ContributingModalities: modalities,
			AgreementScore:         agreement,
		}, true
	}

	maxConf, minConf := triggered[0].Confidence, triggered[0].Confidence
	for _, r := range triggered[1:] {
		if r.Confidence > maxConf {
			maxConf = r.Confidence
		}
		if r.Confidence < minConf {
			minConf = r.Confidence
		}
	}

	var bonus float64
	if agreement == 1 {
		// Full cross-modal agreement. The bonus grows with how strongly
		// the weaker modality backs the stronger one.
		support := 0.0
		if maxConf > 0 {
			support = minConf / maxConf
		}
		bonus = 1.0 + (f.maxBonus-1.0)*support
	} else {
		// Some modality evaluated and did not trigger.
		bonus = f.penalty
	}

	return types.FusedAnalysis{
		PatternID:              patternID,
		OverallConfidence:      types.ClampConfidence(maxConf * bonus),
		ContributingModalities: modalities,
		AgreementScore:         agreement,
	}, true
}
