package schema

import (
	"time"

	"github.com/google/uuid"
)

// Anomaly is a single rule-engine finding tied to one telemetry event.
// One event may yield zero or more anomalies; anomalies are never mutated.
type Anomaly struct {
	AnomalyID     uuid.UUID      `json:"anomaly_id" validate:"required"`
	RuleID        string         `json:"rule_id" validate:"required,identifier"`
	SourceID      string         `json:"source_id" validate:"required,max=256"`
	Severity      Severity       `json:"severity" validate:"required,oneof=critical high medium low"`
	Confidence    float64        `json:"confidence" validate:"min=0,max=1"`
	Description   string         `json:"description"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	SourceEventID uuid.UUID      `json:"source_event_id"`
	DetectedAt    time.Time      `json:"detected_at"`
}

// EvidenceString extracts a string value from the evidence bag.
func (a *Anomaly) EvidenceString(key string) (string, bool) {
	if a.Evidence == nil {
		return "", false
	}
	s, ok := a.Evidence[key].(string)
	return s, ok
}
