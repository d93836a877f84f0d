package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every validation failure. Construction rejects a
// Config that fails Validate; nothing else in the pipeline is fatal.
var ErrInvalidConfig = errors.New("invalid config")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks every threshold, weight, window, and cap. It is the only
// place configuration errors surface; components may assume validated input.
func (c *Config) Validate() error {
	if len(c.Features) == 0 {
		return invalidf("at least one feature must be configured")
	}

	seen := make(map[string]bool)
	for _, f := range c.Features {
		if f.ID == "" {
			return invalidf("feature with empty id")
		}
		if seen[f.ID] {
			return invalidf("duplicate feature id %q", f.ID)
		}
		seen[f.ID] = true

		if f.ConfidenceThreshold < 0 || f.ConfidenceThreshold > 1 {
			return invalidf("feature %s: confidence_threshold %.2f outside [0,1]", f.ID, f.ConfidenceThreshold)
		}
		if _, err := parseDuration(f.Cooldown, 0); err != nil {
			return invalidf("feature %s: bad cooldown: %v", f.ID, err)
		}
		if len(f.Detectors) == 0 {
			return invalidf("feature %s: no detectors", f.ID)
		}
		for _, d := range f.Detectors {
			if err := validateDetector(f.ID, d); err != nil {
				return err
			}
		}
	}

	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateDispatcher(); err != nil {
		return err
	}

	s := c.Severity
	if s.GentleAt < 1 || s.SupportiveAt <= s.GentleAt || s.CrisisAt <= s.SupportiveAt {
		return invalidf("severity thresholds must be ascending and start at >=1 (gentle=%d supportive=%d crisis=%d)",
			s.GentleAt, s.SupportiveAt, s.CrisisAt)
	}

	if c.Coordinator.UnifiedThreshold <= 0 {
		return invalidf("coordinator unified_threshold must be positive")
	}
	for id, w := range c.Coordinator.Priorities {
		if w < 0 || w > 1 {
			return invalidf("coordinator priority for %s is %.2f, outside [0,1]", id, w)
		}
	}
	if c.Coordinator.MaxDetectorErrors < 1 {
		return invalidf("coordinator max_detector_errors must be >= 1")
	}

	fu := c.Fusion
	if fu.MaxAgreementBonus < 1.0 || fu.MaxAgreementBonus > 1.3 {
		return invalidf("fusion max_agreement_bonus %.2f outside [1.0, 1.3]", fu.MaxAgreementBonus)
	}
	if fu.DisagreementPenalty <= 0 || fu.DisagreementPenalty > 1.0 {
		return invalidf("fusion disagreement_penalty %.2f outside (0, 1.0]", fu.DisagreementPenalty)
	}

	if _, err := parseDuration(c.Resources.PruneInterval, 0); err != nil {
		return invalidf("resources prune_interval: %v", err)
	}

	return nil
}

func validateDetector(feature string, d DetectorConfig) error {
	if d.ID == "" || d.Key == "" {
		return invalidf("feature %s: detector needs id and key", feature)
	}
	if d.Weight < 0 || d.Weight > 1 {
		return invalidf("detector %s: weight %.2f outside [0,1]", d.ID, d.Weight)
	}
	win, err := parseDuration(d.Window, 0)
	if err != nil || win <= 0 {
		return invalidf("detector %s: window must be a positive duration", d.ID)
	}
	if d.Capacity < 0 {
		return invalidf("detector %s: capacity must be >= 0", d.ID)
	}

	switch d.Kind {
	case KindBurstCount:
		if d.Threshold < 1 {
			return invalidf("detector %s: burst_count threshold must be >= 1", d.ID)
		}
		if d.MinUniqueRatio < 0 || d.MinUniqueRatio > 1 {
			return invalidf("detector %s: min_unique_ratio %.2f outside [0,1]", d.ID, d.MinUniqueRatio)
		}
	case KindDwellTime:
		if d.EpsilonPx <= 0 {
			return invalidf("detector %s: dwell_time epsilon_px must be positive", d.ID)
		}
		dd, err := parseDuration(d.DwellDuration, 0)
		if err != nil || dd <= 0 {
			return invalidf("detector %s: dwell_duration must be a positive duration", d.ID)
		}
	case KindLexicalMarker:
		if len(d.Markers) == 0 {
			return invalidf("detector %s: lexical_marker needs a marker set", d.ID)
		}
		if d.MinScore < 0 || d.MinScore > 1 {
			return invalidf("detector %s: min_score %.2f outside [0,1]", d.ID, d.MinScore)
		}
		for m, w := range d.Markers {
			if w <= 0 || w > 1 {
				return invalidf("detector %s: marker %q weight %.2f outside (0,1]", d.ID, m, w)
			}
		}
	case KindToneMismatch:
		if d.FlatnessThreshold <= 0 || d.FlatnessThreshold > 1 {
			return invalidf("detector %s: flatness_threshold %.2f outside (0,1]", d.ID, d.FlatnessThreshold)
		}
	default:
		return invalidf("detector %s: unknown kind %q", d.ID, d.Kind)
	}

	return nil
}

func (c *Config) validateScheduler() error {
	sc := c.Scheduler
	iv, err := parseDuration(sc.BatchInterval, 0)
	if err != nil || iv <= 0 {
		return invalidf("scheduler batch_interval must be a positive duration")
	}
	if sc.MaxQueueSize < 1 {
		return invalidf("scheduler max_queue_size must be >= 1")
	}
	if sc.MaxEventsPerBatch < 1 {
		return invalidf("scheduler max_events_per_batch must be >= 1")
	}
	if _, err := parseDuration(sc.BatchBudget, 0); err != nil {
		return invalidf("scheduler batch_budget: %v", err)
	}
	if sc.MaxBackoffFactor < 1 {
		return invalidf("scheduler max_backoff_factor must be >= 1")
	}
	return nil
}

func (c *Config) validateDispatcher() error {
	dc := c.Dispatcher
	cd, err := parseDuration(dc.Cooldown, 0)
	if err != nil || cd <= 0 {
		return invalidf("dispatcher cooldown must be a positive duration")
	}
	ret, err := parseDuration(dc.CooldownRetention, 0)
	if err != nil || ret <= 0 {
		return invalidf("dispatcher cooldown_retention must be a positive duration")
	}
	if dc.HistorySize < 1 {
		return invalidf("dispatcher history_size must be >= 1")
	}
	return nil
}

// Parsed duration accessors. Validate has already run by the time these are
// called, so parse errors cannot occur and fallbacks are never hit.

// Interval returns the parsed scheduler tick period.
func (sc SchedulerConfig) Interval() time.Duration {
	d, _ := parseDuration(sc.BatchInterval, 100*time.Millisecond)
	return d
}

// Budget returns the parsed per-batch evaluation budget.
func (sc SchedulerConfig) Budget() time.Duration {
	d, _ := parseDuration(sc.BatchBudget, 100*time.Millisecond)
	return d
}

// CooldownDuration returns the parsed dispatcher cooldown.
func (dc DispatcherConfig) CooldownDuration() time.Duration {
	d, _ := parseDuration(dc.Cooldown, 30*time.Second)
	return d
}

// RetentionDuration returns the parsed cooldown-map retention.
func (dc DispatcherConfig) RetentionDuration() time.Duration {
	d, _ := parseDuration(dc.CooldownRetention, 60*time.Second)
	return d
}

// WindowDuration returns the parsed detector window.
func (d DetectorConfig) WindowDuration() time.Duration {
	w, _ := parseDuration(d.Window, time.Minute)
	return w
}

// Dwell returns the parsed dwell duration for dwell_time detectors.
func (d DetectorConfig) Dwell() time.Duration {
	w, _ := parseDuration(d.DwellDuration, 45*time.Second)
	return w
}

// CooldownDuration returns the feature cooldown, or fallback when unset.
func (f FeatureConfig) CooldownDuration(fallback time.Duration) time.Duration {
	d, _ := parseDuration(f.Cooldown, fallback)
	return d
}

// PruneIntervalDuration returns the parsed prune interval.
func (rc ResourcesConfig) PruneIntervalDuration() time.Duration {
	d, _ := parseDuration(rc.PruneInterval, 10*time.Second)
	return d
}
