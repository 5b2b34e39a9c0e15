package facts

import (
	"fmt"
	"strings"
)

// TextSummary renders the report for logs and analyst display.
func (r *InvestigationReport) TextSummary() string {
	segment := "Unknown"
	if r.UserProfile.BehavioralSegment != nil && *r.UserProfile.BehavioralSegment != "" {
		segment = *r.UserProfile.BehavioralSegment
	}
	tenure := 0
	if r.UserProfile.AccountTenureDays != nil {
		tenure = *r.UserProfile.AccountTenureDays
	}

	var sb strings.Builder
	sb.WriteString("INVESTIGATION REPORT\n")
	sb.WriteString("====================\n")
	fmt.Fprintf(&sb, "Transaction ID: %s\n", r.TransactionID)
	fmt.Fprintf(&sb, "User Profile: %s (Tenure: %d days)\n", segment, tenure)
	fmt.Fprintf(&sb, "Previous Violations: %d\n", r.UserProfile.PreviousViolations)
	if r.TransactionAmount != nil {
		fmt.Fprintf(&sb, "Transaction Amount: $%s\n", r.TransactionAmount.StringFixed(2))
	}
	fmt.Fprintf(&sb, "Beneficiary Risk Score: %d/100\n", r.BeneficiaryAnalysis.RiskScore)
	fmt.Fprintf(&sb, "Session Flags: Call Active=%t\n", r.SessionAnalysis.IsCallActive)
	fmt.Fprintf(&sb, "Risk Score: %d/100\n", r.RiskScore)
	fmt.Fprintf(&sb, "Risk Level: %s\n", r.RiskLevel)
	fmt.Fprintf(&sb, "Reasoning: %s\n", r.Reasoning)
	fmt.Fprintf(&sb, "Recommendation: %s\n", r.Recommendation)
	return sb.String()
}

// TextSummary renders the judgment for logs and analyst display.
func (j *JudgmentDecision) TextSummary() string {
	override := "NO"
	if j.HumanOverrideAllowed {
		override = "YES"
	}

	var sb strings.Builder
	sb.WriteString("JUDGMENT\n")
	sb.WriteString("========\n")
	fmt.Fprintf(&sb, "Decision: %s\n", j.Decision)
	fmt.Fprintf(&sb, "Policy Applied: #%d\n", j.PolicyApplied)
	fmt.Fprintf(&sb, "Reasoning: %s\n", j.Reasoning)
	fmt.Fprintf(&sb, "Action Required: %s\n", j.ActionRequired)
	fmt.Fprintf(&sb, "Human Override Allowed: %s\n", override)
	fmt.Fprintf(&sb, "Confidence: %d%%\n", j.Confidence)
	return sb.String()
}
