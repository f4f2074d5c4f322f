// Package resolver implements the Missing-Capability Resolver + Continuous
// Loop: when the Runtime Host fails a call with KindMissing, the resolver
// risk-assesses the capability id, walks an ordered set of discovery
// methods with capped exponential backoff, and — for High/Critical risk —
// gates progress behind a human approval queue, following the same
// explicit-state-machine discipline as the teacher's escalation.Manager
// (never derive state from wall-clock alone; the clock only guards
// transitions that are already explicit).
package resolver

import (
	"strings"

	"github.com/ccos-run/ccos/pkg/budget"
)

// riskPatterns maps each risk tier to the name-fragments that trigger it,
// checked in this declared priority order (Critical first) so a capability
// matching multiple tiers takes the highest one.
var riskPatterns = []struct {
	level    budget.RiskLevel
	fragment string
	reason   string
}{
	{budget.RiskCritical, "payment", "financial action"},
	{budget.RiskCritical, "billing", "financial action"},
	{budget.RiskCritical, "charge", "financial action"},
	{budget.RiskCritical, "transfer", "financial action"},
	{budget.RiskCritical, "refund", "financial action"},
	{budget.RiskCritical, "delete", "irreversible destructive action"},
	{budget.RiskCritical, "remove", "irreversible destructive action"},
	{budget.RiskCritical, "destroy", "irreversible destructive action"},
	{budget.RiskCritical, "drop", "irreversible destructive action"},
	{budget.RiskCritical, "truncate", "irreversible destructive action"},
	{budget.RiskHigh, "exec", "privileged execution"},
	{budget.RiskHigh, "shell", "privileged execution"},
	{budget.RiskHigh, "system", "privileged execution"},
	{budget.RiskHigh, "admin", "privileged execution"},
	{budget.RiskHigh, "root", "privileged execution"},
	{budget.RiskMedium, "write", "state mutation"},
	{budget.RiskMedium, "create", "state mutation"},
	{budget.RiskMedium, "update", "state mutation"},
	{budget.RiskMedium, "modify", "state mutation"},
	{budget.RiskMedium, "edit", "state mutation"},
}

// domainAugments adds a reason tag when a name fragment signals a regulated
// domain, independent of the base risk tier it matched.
var domainAugments = []struct {
	fragment string
	reason   string
}{
	{"financial", "PCI-DSS"},
	{"payment", "PCI-DSS"},
	{"billing", "PCI-DSS"},
	{"database", "data-protection"},
	{"db", "data-protection"},
	{"sql", "data-protection"},
}

// RiskAssessment is the output of assessing a capability id's risk tier.
type RiskAssessment struct {
	Level                 budget.RiskLevel
	Reasons                []string
	RequiresHumanApproval bool
}

// AssessRisk classifies capabilityID into a risk tier by name-pattern
// matching, per spec.md §4.H.1. requires_human_approval is true for
// High/Critical unless forcePolicy overrides it.
func AssessRisk(capabilityID string, forceApproval, forceNoApproval bool) RiskAssessment {
	lower := strings.ToLower(capabilityID)

	level := budget.RiskLow
	reasons := []string{}
	for _, p := range riskPatterns {
		if strings.Contains(lower, p.fragment) {
			level = p.level
			reasons = append(reasons, p.reason)
			break
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no elevated-risk pattern matched")
	}

	for _, a := range domainAugments {
		if strings.Contains(lower, a.fragment) {
			reasons = append(reasons, a.reason)
		}
	}

	requiresApproval := level == budget.RiskHigh || level == budget.RiskCritical
	if forceApproval {
		requiresApproval = true
	}
	if forceNoApproval {
		requiresApproval = false
	}

	return RiskAssessment{Level: level, Reasons: reasons, RequiresHumanApproval: requiresApproval}
}
