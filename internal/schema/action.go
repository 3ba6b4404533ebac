package schema

import (
	"time"

	"github.com/google/uuid"
)

// ActionType identifies a defensive action.
type ActionType string

const (
	ActionBlockIP        ActionType = "block_ip"
	ActionThrottleIP     ActionType = "throttle_ip"
	ActionIsolateService ActionType = "isolate_service"
	ActionAlertOnly      ActionType = "alert_only"

	// Reversal actions. Never part of an automatic playbook.
	ActionUnblockIP      ActionType = "unblock_ip"
	ActionRemoveThrottle ActionType = "remove_throttle"
	ActionRestoreService ActionType = "restore_service"
)

// IsValid checks if the action type is a valid value.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionBlockIP, ActionThrottleIP, ActionIsolateService, ActionAlertOnly,
		ActionUnblockIP, ActionRemoveThrottle, ActionRestoreService:
		return true
	}
	return false
}

// ActionStatus records the outcome of an attempted action.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusSkipped ActionStatus = "skipped"
	StatusFailed  ActionStatus = "failed"
)

// IsValid checks if the status is a valid value.
func (s ActionStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// Action is one attempted defense-state mutation (or deliberate no-op) taken
// in response to an alert. Actions are immutable and appended to the action
// log regardless of outcome; skips are recorded, not dropped.
type Action struct {
	ActionID   uuid.UUID    `json:"action_id"`
	Type       ActionType   `json:"action_type"`
	Target     string       `json:"target"`
	Status     ActionStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	ExecutedAt time.Time    `json:"executed_at"`
	AlertID    uuid.UUID    `json:"alert_id,omitempty"`
}

// DefenseState is a read-only snapshot of the current defense posture.
type DefenseState struct {
	BlockedIPs       []string       `json:"blocked_ips"`
	ThrottledIPs     map[string]int `json:"throttled_ips"`
	IsolatedServices []string       `json:"isolated_services"`
	ActionCounts     map[string]int `json:"action_counts"`
}
