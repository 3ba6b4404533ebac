// Package detect implements the rule engine: a fixed catalogue of detection
// rules evaluated against normalized telemetry events.
package detect

import (
	"log/slog"
	"sync/atomic"

	"threatops/internal/config"
	"threatops/internal/errs"
	"threatops/internal/schema"
)

// Engine evaluates telemetry events against the rule catalogue. Stateless
// apart from the per-source sliding windows owned by the rate-based rules,
// which are internally synchronized, so Evaluate is safe for concurrent use.
type Engine struct {
	rules  []Rule
	logger *slog.Logger

	eventsEvaluated  atomic.Uint64
	anomaliesEmitted atomic.Uint64
}

// NewEngine creates a rule engine with the full built-in catalogue.
func NewEngine(cfg config.DetectionConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules: []Rule{
			SQLInjectionRule(),
			RateSpikeRule(cfg.RateWindow, cfg.RateThreshold),
			BruteForceRule(cfg.BruteWindow, cfg.BruteThreshold),
			PortScanRule(cfg.PortScanWindow, cfg.PortScanThreshold),
			HighCPURule(),
			HighMemoryRule(),
			HighNetworkRule(),
			UnauthorizedAccessRule(),
		},
		logger: logger,
	}
}

// NewEngineWithRules creates an engine with an explicit rule set.
func NewEngineWithRules(rules []Rule, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, logger: logger}
}

// Evaluate runs every rule against the event and returns the anomalies that
// fired. Rules evaluate independently; the engine does not deduplicate.
// Malformed payloads never produce an error, only fewer findings.
func (e *Engine) Evaluate(event *schema.TelemetryEvent) []*schema.Anomaly {
	e.eventsEvaluated.Add(1)

	var anomalies []*schema.Anomaly
	for _, rule := range e.rules {
		anomaly := rule.Evaluate(event)
		if anomaly == nil {
			continue
		}
		anomalies = append(anomalies, anomaly)
		e.anomaliesEmitted.Add(1)

		e.logger.Info("rule fired",
			"rule_id", anomaly.RuleID,
			"source_id", anomaly.SourceID,
			"severity", anomaly.Severity,
			"event_id", event.EventID,
			"payload", errs.MaskPayload(event.Payload),
		)
	}
	return anomalies
}

// RuleIDs returns the identifiers of the loaded rules in evaluation order.
func (e *Engine) RuleIDs() []string {
	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID()
	}
	return ids
}

// Stats returns engine counters.
func (e *Engine) Stats() map[string]any {
	return map[string]any{
		"rules_count":       len(e.rules),
		"events_evaluated":  e.eventsEvaluated.Load(),
		"anomalies_emitted": e.anomaliesEmitted.Load(),
	}
}
