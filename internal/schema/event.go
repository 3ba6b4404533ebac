// Package schema defines the canonical data model for the threatops pipeline:
// telemetry events, anomalies, alerts, and defensive actions.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// TelemetryEvent is a normalized observation about a request against a
// protected service. Events are immutable once created and consumed exactly
// once by the rule engine.
type TelemetryEvent struct {
	EventID   uuid.UUID      `json:"event_id" validate:"required"`
	SourceID  string         `json:"source_id" validate:"required,max=256"`
	Service   string         `json:"service,omitempty" validate:"max=256"`
	EventType string         `json:"event_type,omitempty" validate:"omitempty,identifier"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp" validate:"required"`
}

// PayloadString extracts a string field from the payload. Missing or
// mistyped fields return ok=false rather than an error so rules can degrade
// to "does not fire" on malformed input.
func (e *TelemetryEvent) PayloadString(key string) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	v, ok := e.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PayloadNumber extracts a numeric field from the payload. JSON decoding
// yields float64 but integer values are accepted too.
func (e *TelemetryEvent) PayloadNumber(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	v, ok := e.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// PayloadBool extracts a boolean field from the payload.
func (e *TelemetryEvent) PayloadBool(key string) (bool, bool) {
	if e.Payload == nil {
		return false, false
	}
	v, ok := e.Payload[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Severity classifies anomalies and alerts.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}
