package schema

import (
	"time"

	"github.com/google/uuid"
)

// Alert is a correlated, deduplicated, human-facing record derived from an
// anomaly that survived suppression. Only the Acknowledged flag is mutated
// after creation.
type Alert struct {
	AlertID        uuid.UUID      `json:"alert_id" validate:"required"`
	Title          string         `json:"title" validate:"required,max=256"`
	Description    string         `json:"description"`
	Severity       Severity       `json:"severity" validate:"required,oneof=critical high medium low"`
	SourceID       string         `json:"source_id" validate:"required,max=256"`
	Service        string         `json:"service,omitempty"`
	RuleID         string         `json:"rule_id" validate:"required,identifier"`
	Evidence       map[string]any `json:"evidence,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	CreatedAt      time.Time      `json:"created_at"`
}
