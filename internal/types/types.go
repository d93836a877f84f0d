// Package types provides shared type definitions used across velvet packages.
// This package exists to break import cycles between buffer, detect, dispatch,
// and coordinator. Types in this package should be foundational data
// structures with no complex dependencies.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// SIGNAL MODEL
// =============================================================================

// Modality identifies the channel a raw signal arrived on.
type Modality string

const (
	ModalityText   Modality = "text"   // OCR'd on-screen text, typed input
	ModalityAudio  Modality = "audio"  // voice-tone features from the audio adapter
	ModalityWindow Modality = "window" // window/app focus changes
	ModalityCursor Modality = "cursor" // cursor movement / idle samples
)

// Valid reports whether m is one of the known modalities.
func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityAudio, ModalityWindow, ModalityCursor:
		return true
	}
	return false
}

// RawSignalEvent is one observation pushed by an external adapter.
// Immutable once created; the pipeline never mutates a submitted event.
type RawSignalEvent struct {
	ID            string                 // unique event ID
	Timestamp     time.Time              // capture time; zero timestamp = malformed
	Modality      Modality               // signal channel
	Key           string                 // pattern key routing the event to a buffer
	Payload       map[string]interface{} // modality-specific fields (text, app, x/y, acoustic features)
	SourceContext string                 // adapter-supplied origin (app name, device)
}

// TextPayload returns the "text" payload field, if present.
func (e RawSignalEvent) TextPayload() (string, bool) {
	return e.StringPayload("text")
}

// StringPayload returns a string payload field.
func (e RawSignalEvent) StringPayload(field string) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	s, ok := e.Payload[field].(string)
	return s, ok
}

// FloatPayload returns a numeric payload field coerced to float64.
// JSON-decoded payloads arrive as float64; adapters constructing events
// in-process may use int.
func (e RawSignalEvent) FloatPayload(field string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// BoolPayload returns a boolean payload field.
func (e RawSignalEvent) BoolPayload(field string) (bool, bool) {
	if e.Payload == nil {
		return false, false
	}
	b, ok := e.Payload[field].(bool)
	return b, ok
}

// =============================================================================
// DETECTION MODEL
// =============================================================================

// DetectionResult is the outcome of one detector evaluation. Ephemeral: it
// lives for a single batch cycle.
type DetectionResult struct {
	PatternID  string
	Modality   Modality
	Triggered  bool
	Confidence float64 // always clamped to [0,1]
	Evidence   map[string]interface{}
}

// FusedAnalysis combines detection results that refer to the same pattern.
type FusedAnalysis struct {
	PatternID              string
	OverallConfidence      float64 // clamped to [0,1]
	ContributingModalities []Modality
	AgreementScore         float64
}

// ClampConfidence bounds c to [0,1]. Every confidence that leaves a detector
// or the fusion layer passes through here.
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// =============================================================================
// SEVERITY
// =============================================================================

// SeverityLevel is the discrete escalation tier derived from the set of
// currently active patterns. Levels are ordered.
type SeverityLevel int

const (
	SeverityNormal SeverityLevel = iota
	SeverityGentle
	SeveritySupportive
	SeverityCrisis
)

// String returns the level name.
func (s SeverityLevel) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityGentle:
		return "gentle"
	case SeveritySupportive:
		return "supportive"
	case SeverityCrisis:
		return "crisis"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SeverityChanged is emitted exactly once per level transition.
type SeverityChanged struct {
	Feature string
	From    SeverityLevel
	To      SeverityLevel
	At      time.Time
}

// =============================================================================
// INTERVENTIONS
// =============================================================================

// InterventionPriority defines dispatch ordering for interventions.
type InterventionPriority int

const (
	PriorityLow InterventionPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the priority name.
func (p InterventionPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Intervention is an outbound nudge produced by the pipeline. DedupKey is
// deterministic for a given cause set, so identical causes cannot re-fire
// inside their cooldown window.
type Intervention struct {
	ID        string
	Type      string // e.g. "sarcasm_decode", "crisis_grounding", "unmask_safe"
	Feature   string // owning feature instance, or "coordinator" for unified ones
	Priority  InterventionPriority
	DedupKey  string
	Message   string
	Evidence  map[string]interface{}
	CreatedAt time.Time
}

// DedupKeyFor derives the deterministic dedup key for a combination of
// contributing pattern IDs. Input order does not matter.
func DedupKeyFor(feature string, patternIDs []string) string {
	ids := make([]string, len(patternIDs))
	copy(ids, patternIDs)
	sort.Strings(ids)
	return feature + ":" + strings.Join(ids, "+")
}
