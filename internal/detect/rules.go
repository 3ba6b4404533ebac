package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatops/internal/schema"
)

// Rule identifiers form a closed catalogue: every identifier is bound at
// compile time to a detection function here and a playbook in the response
// package. Unknown identifiers arriving from outside fall back to the
// generic template and playbook.
const (
	RuleSQLInjection       = "sql_injection"
	RuleRateSpike          = "rate_spike"
	RuleBruteForce         = "brute_force"
	RulePortScan           = "port_scan"
	RuleHighCPU            = "high_cpu"
	RuleHighMemory         = "high_memory"
	RuleHighNetwork        = "high_network"
	RuleUnauthorizedAccess = "unauthorized_access"
)

// Rule evaluates one telemetry event and fires at most once per event.
// A rule that cannot extract the fields it needs does not fire; rules never
// return errors on malformed payloads.
type Rule interface {
	ID() string
	Evaluate(event *schema.TelemetryEvent) *schema.Anomaly
}

// newAnomaly assembles an anomaly for a fired rule, carrying the source and
// service through the evidence so downstream stages need not re-resolve them.
func newAnomaly(ruleID string, severity schema.Severity, confidence float64, description string, evidence map[string]any, event *schema.TelemetryEvent) *schema.Anomaly {
	if evidence == nil {
		evidence = make(map[string]any)
	}
	if event.Service != "" {
		evidence["service"] = event.Service
	}
	return &schema.Anomaly{
		AnomalyID:     uuid.New(),
		RuleID:        ruleID,
		SourceID:      event.SourceID,
		Severity:      severity,
		Confidence:    confidence,
		Description:   description,
		Evidence:      evidence,
		SourceEventID: event.EventID,
		DetectedAt:    time.Now().UTC(),
	}
}

// patternRule scans designated string payload fields for case-insensitive
// attack signatures.
type patternRule struct {
	id          string
	severity    schema.Severity
	confidence  float64
	fields      []string
	signatures  []string
	description string
}

// SQLInjectionRule detects SQL injection attempts in query-bearing payload
// fields.
func SQLInjectionRule() Rule {
	return &patternRule{
		id:         RuleSQLInjection,
		severity:   schema.SeverityCritical,
		confidence: 0.85,
		fields:     []string{"query", "path", "url", "body", "input"},
		signatures: []string{
			"or 1=1",
			"union select",
			"drop table",
			"'; --",
			"' or '",
			"1=1--",
			"exec(",
			"xp_cmdshell",
		},
		description: "SQL injection signature detected in request payload",
	}
}

func (r *patternRule) ID() string { return r.id }

func (r *patternRule) Evaluate(event *schema.TelemetryEvent) *schema.Anomaly {
	for _, field := range r.fields {
		value, ok := event.PayloadString(field)
		if !ok || value == "" {
			continue
		}
		lower := strings.ToLower(value)
		for _, sig := range r.signatures {
			if strings.Contains(lower, sig) {
				return newAnomaly(r.id, r.severity, r.confidence, r.description, map[string]any{
					"field":           field,
					"matched_pattern": sig,
					"value":           value,
				}, event)
			}
		}
	}
	return nil
}

// rateSpikeRule fires once when a source's event count first exceeds the
// threshold inside the trailing window. Subsequent events in the same burst
// do not re-fire; the count must fall back below the threshold first.
type rateSpikeRule struct {
	window    *slidingWindow
	threshold int
	span      time.Duration
}

// RateSpikeRule detects request floods from a single source.
func RateSpikeRule(span time.Duration, threshold int) Rule {
	return &rateSpikeRule{
		window:    newSlidingWindow(span),
		threshold: threshold,
		span:      span,
	}
}

func (r *rateSpikeRule) ID() string { return RuleRateSpike }

func (r *rateSpikeRule) Evaluate(event *schema.TelemetryEvent) *schema.Anomaly {
	count := r.window.Add(event.SourceID, event.Timestamp)
	if count != r.threshold+1 {
		return nil
	}
	return newAnomaly(RuleRateSpike, schema.SeverityMedium, 0.75,
		fmt.Sprintf("request rate exceeded %d events per %s", r.threshold, r.span),
		map[string]any{
			"observed_count": count,
			"threshold":      r.threshold,
			"window_seconds": int(r.span.Seconds()),
		}, event)
}

// bruteForceRule fires when a source accumulates enough failed authentication
// attempts inside the trailing window.
type bruteForceRule struct {
	window    *slidingWindow
	threshold int
	span      time.Duration
}

// BruteForceRule detects repeated failed authentication attempts.
func BruteForceRule(span time.Duration, threshold int) Rule {
	return &bruteForceRule{
		window:    newSlidingWindow(span),
		threshold: threshold,
		span:      span,
	}
}

func (r *bruteForceRule) ID() string { return RuleBruteForce }

func (r *bruteForceRule) Evaluate(event *schema.TelemetryEvent) *schema.Anomaly {
	if !isFailedAuth(event) {
		return nil
	}
	count := r.window.Add(event.SourceID, event.Timestamp)
	if count != r.threshold {
		return nil
	}
	return newAnomaly(RuleBruteForce, schema.SeverityCritical, 0.90,
		fmt.Sprintf("%d failed authentication attempts within %s", count, r.span),
		map[string]any{
			"failed_attempts": count,
			"threshold":       r.threshold,
			"window_seconds":  int(r.span.Seconds()),
		}, event)
}

func isFailedAuth(event *schema.TelemetryEvent) bool {
	if event.EventType != "auth_attempt" && event.EventType != "login" {
		return false
	}
	if success, ok := event.PayloadBool("success"); ok {
		return !success
	}
	if outcome, ok := event.PayloadString("outcome"); ok {
		return outcome == "failure"
	}
	return false
}

// portScanRule fires when a source probes enough distinct ports inside the
// trailing window.
type portScanRule struct {
	window    *portWindow
	threshold int
	span      time.Duration
}

// PortScanRule detects a single source probing many distinct ports.
func PortScanRule(span time.Duration, threshold int) Rule {
	return &portScanRule{
		window:    newPortWindow(span),
		threshold: threshold,
		span:      span,
	}
}

func (r *portScanRule) ID() string { return RulePortScan }

func (r *portScanRule) Evaluate(event *schema.TelemetryEvent) *schema.Anomaly {
	port, ok := event.PayloadNumber("port")
	if !ok || port < 0 || port > 65535 {
		return nil
	}
	distinct, novel := r.window.Add(event.SourceID, int(port), event.Timestamp)
	if !novel || distinct != r.threshold {
		return nil
	}
	return newAnomaly(RulePortScan, schema.SeverityHigh, 0.80,
		fmt.Sprintf("%d distinct ports probed within %s", distinct, r.span),
		map[string]any{
			"distinct_ports": distinct,
			"threshold":      r.threshold,
			"window_seconds": int(r.span.Seconds()),
		}, event)
}

// metricRule compares a numeric payload field against fixed thresholds. The
// critical threshold, when set, escalates severity past the base level.
// Telemetry producers name metrics both bare ("cpu") and suffixed
// ("cpu_usage"); fields lists the accepted spellings, tried in order.
type metricRule struct {
	id                string
	fields            []string
	warnThreshold     float64
	criticalThreshold float64
	hasCritical       bool
	confidence        float64
	unit              string
}

// HighCPURule detects CPU exhaustion on a reporting host.
func HighCPURule() Rule {
	return &metricRule{
		id:                RuleHighCPU,
		fields:            []string{"cpu", "cpu_usage"},
		warnThreshold:     85,
		criticalThreshold: 95,
		hasCritical:       true,
		confidence:        0.95,
		unit:              "%",
	}
}

// HighMemoryRule detects memory exhaustion on a reporting host.
func HighMemoryRule() Rule {
	return &metricRule{
		id:                RuleHighMemory,
		fields:            []string{"memory", "memory_usage"},
		warnThreshold:     90,
		criticalThreshold: 90,
		hasCritical:       true,
		confidence:        0.95,
		unit:              "%",
	}
}

// HighNetworkRule detects abnormal outbound network volume.
func HighNetworkRule() Rule {
	return &metricRule{
		id:            RuleHighNetwork,
		fields:        []string{"network", "network_mbps"},
		warnThreshold: 900,
		confidence:    0.80,
		unit:          "mbps",
	}
}

func (r *metricRule) ID() string { return r.id }

func (r *metricRule) Evaluate(event *schema.TelemetryEvent) *schema.Anomaly {
	var field string
	var value float64
	found := false
	for _, f := range r.fields {
		if v, ok := event.PayloadNumber(f); ok {
			field, value, found = f, v, true
			break
		}
	}
	if !found || value <= r.warnThreshold {
		return nil
	}

	severity := schema.SeverityMedium
	threshold := r.warnThreshold
	if r.hasCritical && value > r.criticalThreshold {
		severity = schema.SeverityCritical
		threshold = r.criticalThreshold
	}

	return newAnomaly(r.id, severity, r.confidence,
		fmt.Sprintf("%s at %.1f%s exceeds threshold %.0f%s", field, value, r.unit, threshold, r.unit),
		map[string]any{
			"metric":    field,
			"value":     value,
			"threshold": threshold,
		}, event)
}

// unauthorizedAccessRule fires when a payload marks an access attempt as
// explicitly unauthorized.
type unauthorizedAccessRule struct{}

// UnauthorizedAccessRule detects access attempts lacking valid credentials.
func UnauthorizedAccessRule() Rule {
	return &unauthorizedAccessRule{}
}

func (r *unauthorizedAccessRule) ID() string { return RuleUnauthorizedAccess }

func (r *unauthorizedAccessRule) Evaluate(event *schema.TelemetryEvent) *schema.Anomaly {
	authorized, ok := event.PayloadBool("authorized")
	if !ok || authorized {
		return nil
	}
	resource, _ := event.PayloadString("resource")
	return newAnomaly(RuleUnauthorizedAccess, schema.SeverityHigh, 0.85,
		"access attempt without valid credentials",
		map[string]any{
			"resource": resource,
		}, event)
}
