package config

// FeatureConfig describes one detector instance (sarcasm, crisis, masking).
// Each feature owns disjoint buffers and its own thresholds; the source
// product tuned these per feature (0.6-0.9) with no documented derivation,
// so they stay plain configuration values.
type FeatureConfig struct {
	ID      string `yaml:"id"`
	Enabled bool   `yaml:"enabled"`

	// ConfidenceThreshold gates fused confidence before an intervention
	// candidate is built.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Cooldown overrides the dispatcher default for this feature's
	// interventions when set.
	Cooldown string `yaml:"cooldown,omitempty"`

	Detectors    []DetectorConfig   `yaml:"detectors"`
	Intervention InterventionConfig `yaml:"intervention"`
}

// InterventionConfig is the outbound template for a feature's interventions.
type InterventionConfig struct {
	Type    string `yaml:"type"`
	Message string `yaml:"message"`
}

// DetectorKind enumerates the built-in detector strategies.
type DetectorKind string

const (
	KindBurstCount    DetectorKind = "burst_count"
	KindDwellTime     DetectorKind = "dwell_time"
	KindLexicalMarker DetectorKind = "lexical_marker"
	KindToneMismatch  DetectorKind = "tone_mismatch"
)

// DetectorConfig configures one detector. Kind selects the strategy; the
// remaining fields are kind-specific and ignored by other kinds.
type DetectorConfig struct {
	ID     string       `yaml:"id"`
	Kind   DetectorKind `yaml:"kind"`
	Key    string       `yaml:"key"`    // buffer key this detector owns
	Weight float64      `yaml:"weight"` // contribution weight in [0,1]
	Window string       `yaml:"window"` // evaluation window, e.g. "5m"

	// Pattern groups detectors that observe the same underlying pattern
	// across modalities (fusion combines their results). Defaults to ID.
	Pattern string `yaml:"pattern,omitempty"`

	// Buffer sizing. Capacity > 0 selects a fixed-capacity ring; otherwise
	// a time-window buffer sized by Window is used.
	Capacity int `yaml:"capacity,omitempty"`

	// burst_count
	Threshold      int     `yaml:"threshold,omitempty"`        // min events in window
	MinUniqueRatio float64 `yaml:"min_unique_ratio,omitempty"` // unique subkeys / threshold
	SubKeyField    string  `yaml:"subkey_field,omitempty"`     // payload field holding the subkey

	// dwell_time
	EpsilonPx     float64 `yaml:"epsilon_px,omitempty"`     // max movement to count as dwelling
	DwellDuration string  `yaml:"dwell_duration,omitempty"` // e.g. "45s"

	// lexical_marker
	Markers  map[string]float64 `yaml:"markers,omitempty"`   // marker -> weight
	MinScore float64            `yaml:"min_score,omitempty"` // trigger floor for the summed marker score

	// tone_mismatch
	FlatnessThreshold float64 `yaml:"flatness_threshold,omitempty"` // acoustic flatness above which delivery reads flat
}

// DefaultFeatures returns the three stock feature instances.
func DefaultFeatures() []FeatureConfig {
	return []FeatureConfig{
		{
			ID:                  "sarcasm",
			Enabled:             true,
			ConfidenceThreshold: 0.6,
			Cooldown:            "30s",
			Detectors: []DetectorConfig{
				{
					ID:       "sarcasm_markers",
					Kind:     KindLexicalMarker,
					Key:      "sarcasm_text",
					Pattern:  "sarcasm",
					Weight:   0.8,
					Window:   "30s",
					MinScore: 0.3,
					Markers: map[string]float64{
						"sure":          0.2,
						"fine":          0.2,
						"whatever":      0.25,
						"totally":       0.2,
						"obviously":     0.2,
						"great":         0.15,
						"good for you":  0.35,
						"no offense":    0.3,
						"if you say so": 0.35,
					},
				},
				{
					ID:                "sarcasm_tone",
					Kind:              KindToneMismatch,
					Key:               "sarcasm_audio",
					Pattern:           "sarcasm",
					Weight:            0.9,
					Window:            "30s",
					Capacity:          16,
					FlatnessThreshold: 0.6,
				},
			},
			Intervention: InterventionConfig{
				Type:    "sarcasm_decode",
				Message: "Heads up - that might be sarcasm, not a literal compliment.",
			},
		},
		{
			ID:                  "crisis",
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			Cooldown:            "2m",
			Detectors: []DetectorConfig{
				{
					ID:             "app_switching_storm",
					Kind:           KindBurstCount,
					Key:            "window_focus",
					Weight:         1.0,
					Window:         "5m",
					Capacity:       64,
					Threshold:      20,
					MinUniqueRatio: 0.7,
					SubKeyField:    "app",
				},
				{
					ID:        "document_spiral",
					Kind:      KindBurstCount,
					Key:       "doc_edits",
					Weight:    0.9,
					Window:    "3m",
					Capacity:  64,
					Threshold: 15,
				},
				{
					ID:            "hover_paralysis",
					Kind:          KindDwellTime,
					Key:           "cursor",
					Weight:        0.8,
					Window:        "2m",
					Capacity:      128,
					EpsilonPx:     12,
					DwellDuration: "45s",
				},
			},
			Intervention: InterventionConfig{
				Type:    "crisis_grounding",
				Message: "Take a breath. One small step is enough right now.",
			},
		},
		{
			ID:                  "masking",
			Enabled:             true,
			ConfidenceThreshold: 0.65,
			Cooldown:            "5m",
			Detectors: []DetectorConfig{
				{
					ID:       "masking_language",
					Kind:     KindLexicalMarker,
					Key:      "masking_text",
					Pattern:  "masking_fatigue",
					Weight:   0.7,
					Window:   "1m",
					MinScore: 0.35,
					Markers: map[string]float64{
						"of course":         0.25,
						"absolutely":        0.2,
						"no problem at all": 0.3,
						"happy to":          0.25,
						"apologies":         0.25,
						"sounds good":       0.2,
					},
				},
				{
					ID:                "masking_tone",
					Kind:              KindToneMismatch,
					Key:               "masking_audio",
					Pattern:           "masking_fatigue",
					Weight:            0.75,
					Window:            "1m",
					Capacity:          16,
					FlatnessThreshold: 0.55,
				},
			},
			Intervention: InterventionConfig{
				Type:    "unmask_safe",
				Message: "You're home. You're safe to unmask.",
			},
		},
	}
}
