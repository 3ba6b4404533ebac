// Package respond maps alerts to defensive playbooks and executes them
// against the defense store.
package respond

import "threatops/internal/schema"

// Playbook is an ordered list of actions executed for an alert. The mapping
// from rule identifier to playbook is fixed at compile time; response policy
// is code, not configuration.
type Playbook struct {
	RuleID string
	Steps  []schema.ActionType
}

var playbooks = map[string]Playbook{
	"sql_injection": {
		RuleID: "sql_injection",
		Steps:  []schema.ActionType{schema.ActionBlockIP, schema.ActionIsolateService, schema.ActionAlertOnly},
	},
	"brute_force": {
		RuleID: "brute_force",
		Steps:  []schema.ActionType{schema.ActionBlockIP, schema.ActionThrottleIP},
	},
	"port_scan": {
		RuleID: "port_scan",
		Steps:  []schema.ActionType{schema.ActionBlockIP},
	},
	"rate_spike": {
		RuleID: "rate_spike",
		Steps:  []schema.ActionType{schema.ActionThrottleIP},
	},
	"high_cpu": {
		RuleID: "high_cpu",
		Steps:  []schema.ActionType{schema.ActionAlertOnly},
	},
	"high_memory": {
		RuleID: "high_memory",
		Steps:  []schema.ActionType{schema.ActionIsolateService},
	},
	"high_network": {
		RuleID: "high_network",
		Steps:  []schema.ActionType{schema.ActionThrottleIP},
	},
	"unauthorized_access": {
		RuleID: "unauthorized_access",
		Steps:  []schema.ActionType{schema.ActionBlockIP, schema.ActionAlertOnly},
	},
	"data_exfiltration": {
		RuleID: "data_exfiltration",
		Steps:  []schema.ActionType{schema.ActionBlockIP, schema.ActionIsolateService},
	},
}

// genericPlaybook handles alerts from rules without a dedicated playbook.
// Notification only; an unknown threat never triggers automatic blocking.
var genericPlaybook = Playbook{
	RuleID: "generic",
	Steps:  []schema.ActionType{schema.ActionAlertOnly},
}

// PlaybookFor returns the playbook for a rule identifier, falling back to the
// generic notify-only playbook.
func PlaybookFor(ruleID string) (Playbook, bool) {
	pb, ok := playbooks[ruleID]
	if !ok {
		return genericPlaybook, false
	}
	return pb, true
}

// PlaybookRuleIDs returns the rule identifiers with dedicated playbooks.
func PlaybookRuleIDs() []string {
	ids := make([]string, 0, len(playbooks))
	for id := range playbooks {
		ids = append(ids, id)
	}
	return ids
}
