package correlate

import "fmt"

// Template carries the human-facing text for an alert, keyed by rule
// identifier. Unknown identifiers fall back to the generic template so a
// manually submitted anomaly never fails template lookup.
type Template struct {
	Title          string
	Description    string // format string taking the source identifier
	Recommendation string
}

var templates = map[string]Template{
	"sql_injection": {
		Title:          "SQL Injection Detected",
		Description:    "SQL injection attempt observed from %s",
		Recommendation: "Block the source and audit the targeted query surface",
	},
	"brute_force": {
		Title:          "Brute Force Attack",
		Description:    "Repeated failed authentication attempts from %s",
		Recommendation: "Block the source and enforce credential rotation for targeted accounts",
	},
	"port_scan": {
		Title:          "Port Scan Detected",
		Description:    "Systematic port probing observed from %s",
		Recommendation: "Block the source and review exposed services",
	},
	"data_exfiltration": {
		Title:          "Data Exfiltration Suspected",
		Description:    "Abnormal outbound data volume associated with %s",
		Recommendation: "Block the source and isolate the affected service pending review",
	},
	"unauthorized_access": {
		Title:          "Unauthorized Access",
		Description:    "Access attempt without valid credentials from %s",
		Recommendation: "Block the source and verify credential issuance",
	},
	"ddos": {
		Title:          "DDoS Attack Suspected",
		Description:    "Distributed denial-of-service pattern involving %s",
		Recommendation: "Throttle the source and engage upstream filtering",
	},
	"malware": {
		Title:          "Malware Activity Detected",
		Description:    "Malware indicators associated with %s",
		Recommendation: "Isolate the affected service and run a forensic capture",
	},
	"privilege_escalation": {
		Title:          "Privilege Escalation Attempt",
		Description:    "Privilege escalation behavior observed from %s",
		Recommendation: "Block the source and audit role assignments",
	},
	"rate_spike": {
		Title:          "Request Rate Spike",
		Description:    "Request volume from %s exceeded the configured threshold",
		Recommendation: "Throttle the source and watch for escalation",
	},
	"high_cpu": {
		Title:          "High CPU Usage",
		Description:    "CPU utilization reported by %s exceeded the configured threshold",
		Recommendation: "Review workload placement; no source-level action required",
	},
	"high_memory": {
		Title:          "High Memory Usage",
		Description:    "Memory utilization reported by %s exceeded the configured threshold",
		Recommendation: "Isolate the affected service before it degrades neighbors",
	},
	"high_network": {
		Title:          "High Network Throughput",
		Description:    "Outbound network volume from %s exceeded the configured threshold",
		Recommendation: "Throttle the source and check for exfiltration",
	},
}

var genericTemplate = Template{
	Title:          "Security Alert",
	Description:    "Suspicious activity observed from %s",
	Recommendation: "Review the attached evidence",
}

// TemplateFor returns the template for a rule identifier, falling back to
// the generic template for unknown identifiers.
func TemplateFor(ruleID string) (Template, bool) {
	tpl, ok := templates[ruleID]
	if !ok {
		return genericTemplate, false
	}
	return tpl, true
}

// RenderDescription fills a template description with the source identifier.
func (t Template) RenderDescription(sourceID string) string {
	return fmt.Sprintf(t.Description, sourceID)
}
