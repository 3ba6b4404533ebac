package respond

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"threatops/internal/config"
	"threatops/internal/defense"
	"threatops/internal/schema"
)

// Orchestrator executes playbooks against the defense store. Every step runs
// regardless of earlier step outcomes; a failed block must not prevent the
// throttle behind it.
type Orchestrator struct {
	store  *defense.Store
	logger *slog.Logger

	// throttleLimit is the req/min limit applied by automatic throttle steps.
	throttleLimit int

	playbooksRun  atomic.Uint64
	actionsFailed atomic.Uint64
}

// NewOrchestrator creates an orchestrator bound to the given defense store.
func NewOrchestrator(store *defense.Store, cfg config.ResponseConfig, logger *slog.Logger) *Orchestrator {
	limit := cfg.DefaultThrottleLimit
	if limit <= 0 {
		limit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:         store,
		logger:        logger,
		throttleLimit: limit,
	}
}

// Respond executes the playbook for the alert's rule and returns every
// attempted action in execution order. The returned error is nil unless the
// defense store itself is corrupted; individual step failures are reported
// through the action statuses.
func (o *Orchestrator) Respond(ctx context.Context, alert *schema.Alert) ([]schema.Action, error) {
	if err := o.store.CheckIntegrity(); err != nil {
		return nil, err
	}

	pb, dedicated := PlaybookFor(alert.RuleID)
	o.playbooksRun.Add(1)

	actions := make([]schema.Action, 0, len(pb.Steps))
	for _, step := range pb.Steps {
		if err := ctx.Err(); err != nil {
			return actions, err
		}

		action, err := o.executeStep(step, alert)
		actions = append(actions, action)
		if err != nil {
			o.actionsFailed.Add(1)
			o.logger.Warn("playbook step failed",
				"alert_id", alert.AlertID,
				"action_type", step,
				"target", action.Target,
				"error", err,
			)
		}
	}

	o.logger.Info("playbook executed",
		"alert_id", alert.AlertID,
		"rule_id", alert.RuleID,
		"playbook", pb.RuleID,
		"dedicated", dedicated,
		"steps", len(actions),
	)
	return actions, nil
}

// executeStep runs one playbook step. Block and throttle target the alert's
// source; isolation targets the service named in the alert.
func (o *Orchestrator) executeStep(step schema.ActionType, alert *schema.Alert) (schema.Action, error) {
	switch step {
	case schema.ActionBlockIP:
		return o.store.Block(alert.SourceID, alert.Title, alert.AlertID)
	case schema.ActionThrottleIP:
		return o.store.Throttle(alert.SourceID, o.throttleLimit, alert.AlertID)
	case schema.ActionIsolateService:
		return o.store.Isolate(alert.Service, alert.AlertID)
	case schema.ActionAlertOnly:
		return o.store.AlertOnly(alert.SourceID, alert.Title, alert.AlertID)
	default:
		// Unreachable with the compiled-in playbooks; recorded as a failed
		// alert_only so the log still shows the attempt.
		action, _ := o.store.AlertOnly(alert.SourceID, fmt.Sprintf("unknown action %s", step), alert.AlertID)
		return action, fmt.Errorf("unknown action type %q", step)
	}
}

// Reverse undoes a previously applied action type against a target. Reversing
// something that was never applied is a recorded skip.
func (o *Orchestrator) Reverse(actionType schema.ActionType, target string) (schema.Action, error) {
	switch actionType {
	case schema.ActionBlockIP, schema.ActionUnblockIP:
		return o.store.Unblock(target, uuid.Nil)
	case schema.ActionThrottleIP, schema.ActionRemoveThrottle:
		return o.store.RemoveThrottle(target, uuid.Nil)
	case schema.ActionIsolateService, schema.ActionRestoreService:
		return o.store.Restore(target, uuid.Nil)
	default:
		return schema.Action{}, fmt.Errorf("action type %q has no reversal", actionType)
	}
}

// Stats returns orchestrator counters.
func (o *Orchestrator) Stats() map[string]any {
	return map[string]any{
		"playbooks_run":  o.playbooksRun.Load(),
		"actions_failed": o.actionsFailed.Load(),
	}
}
