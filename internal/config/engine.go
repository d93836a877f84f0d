package config

// SchedulerConfig configures the batch scheduler.
type SchedulerConfig struct {
	// BatchInterval is the tick period between evaluation passes.
	BatchInterval string `yaml:"batch_interval"` // e.g. "100ms"

	// MaxQueueSize caps the raw-event input queue; oldest entries are
	// dropped on overflow.
	MaxQueueSize int `yaml:"max_queue_size"`

	// MaxEventsPerBatch bounds how many queued events one tick drains.
	MaxEventsPerBatch int `yaml:"max_events_per_batch"`

	// BatchBudget is the evaluation-time budget per batch; overruns
	// trigger adaptive backoff.
	BatchBudget string `yaml:"batch_budget"` // e.g. "100ms"

	// MaxBackoffFactor caps how far the interval can stretch under load.
	MaxBackoffFactor float64 `yaml:"max_backoff_factor"`
}

// DispatcherConfig configures intervention dispatch.
type DispatcherConfig struct {
	// Cooldown is the per-dedup-key suppression window.
	Cooldown string `yaml:"cooldown"` // e.g. "2s"

	// CooldownRetention is how long fired entries stay in the cooldown
	// map before pruning.
	CooldownRetention string `yaml:"cooldown_retention"` // e.g. "60s"

	// HistorySize bounds the dispatched-intervention history ring.
	HistorySize int `yaml:"history_size"`
}

// SeverityConfig configures the severity state machine. Thresholds are the
// minimum number of active patterns for each level.
type SeverityConfig struct {
	GentleAt     int `yaml:"gentle_at"`
	SupportiveAt int `yaml:"supportive_at"`
	CrisisAt     int `yaml:"crisis_at"`
}

// CoordinatorConfig configures cross-feature coordination.
type CoordinatorConfig struct {
	// UnifiedThreshold is the combined weighted confidence above which the
	// coordinator emits its own unified intervention.
	UnifiedThreshold float64 `yaml:"unified_threshold"`

	// Priorities are the initial per-feature weights in [0,1].
	Priorities map[string]float64 `yaml:"priorities"`

	// PrioritiesFile, when set, is watched for runtime weight updates.
	PrioritiesFile string `yaml:"priorities_file"`

	// MaxDetectorErrors disables a feature's detection after this many
	// consecutive evaluation errors (buffering continues).
	MaxDetectorErrors int `yaml:"max_detector_errors"`
}

// FusionConfig configures multimodal fusion.
type FusionConfig struct {
	// MaxAgreementBonus scales confidence up on full cross-modal
	// agreement; must be in [1.0, 1.3].
	MaxAgreementBonus float64 `yaml:"max_agreement_bonus"`

	// DisagreementPenalty scales confidence down when modalities
	// disagree; must be in (0, 1.0].
	DisagreementPenalty float64 `yaml:"disagreement_penalty"`
}

// ResourcesConfig configures periodic pruning.
type ResourcesConfig struct {
	PruneInterval string `yaml:"prune_interval"` // e.g. "10s"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "velvet",
		Version: "0.4.0",

		Features: DefaultFeatures(),

		Scheduler: SchedulerConfig{
			BatchInterval:     "100ms",
			MaxQueueSize:      256,
			MaxEventsPerBatch: 64,
			BatchBudget:       "100ms",
			MaxBackoffFactor:  8.0,
		},

		Dispatcher: DispatcherConfig{
			Cooldown:          "30s",
			CooldownRetention: "60s",
			HistorySize:       100,
		},

		Severity: SeverityConfig{
			GentleAt:     1,
			SupportiveAt: 2,
			CrisisAt:     3,
		},

		Coordinator: CoordinatorConfig{
			UnifiedThreshold: 1.5,
			Priorities: map[string]float64{
				"sarcasm": 1.0,
				"crisis":  1.0,
				"masking": 0.8,
			},
			MaxDetectorErrors: 5,
		},

		Fusion: FusionConfig{
			MaxAgreementBonus:   1.3,
			DisagreementPenalty: 0.85,
		},

		Resources: ResourcesConfig{
			PruneInterval: "10s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}
