package policy

import "github.com/streamguard/streamguard/internal/facts"

// VIPTenureDays is five years of account tenure.
const VIPTenureDays = 1825

// NewBeneficiaryHours is the age under which a beneficiary counts as new.
const NewBeneficiaryHours = 24

// DefaultRules returns the standard APP-fraud rule table in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Priority: CriticalFraud,
			Name:     "Critical Fraud",
			Label:    "CRITICAL FRAUD",
			AnyOf: []Condition{
				FlagIs(facts.FlagActiveVoiceCall),
				LevelIs(facts.RiskCritical),
			},
			Decision:             facts.DecisionBlock,
			HumanOverrideAllowed: false,
			Confidence:           ConfidenceRange{Min: 95, Max: 100},
			ActionTemplate:       "Immediately block transaction and notify fraud team for investigation",
			ReasoningTemplate: `{{if index .Flags "active_voice_call"}}Active voice call detected during transaction triggers Policy {{.Policy}} {{.Label}}. This overrides all other considerations.` +
				`{{else}}Transaction risk level is {{.RiskLevel}} ({{.RiskScore}}/100), triggering Policy {{.Policy}} {{.Label}}.{{end}}`,
		},
		{
			Priority:             RepeatOffender,
			Name:                 "Repeat Offender",
			Label:                "REPEAT OFFENDERS",
			AllOf:                []Condition{ViolationsAtLeast(1)},
			Decision:             facts.DecisionBlock,
			HumanOverrideAllowed: true,
			Confidence:           ConfidenceRange{Min: 90, Max: 95},
			ActionTemplate:       "Block transaction and flag account for closure review",
			ReasoningTemplate: "User has {{.PreviousViolations}} previous violation(s), triggering Policy {{.Policy}} {{.Label}}. " +
				"Pattern of fraudulent behavior requires immediate blocking.",
		},
		{
			Priority:             FirstTime,
			Name:                 "First-Time Safe",
			Label:                "FIRST-TIME POLICY",
			AllOf:                []Condition{ViolationsEqual(0)},
			Decision:             facts.DecisionSafe,
			HumanOverrideAllowed: true,
			Confidence:           ConfidenceRange{Min: 70, Max: 85},
			ActionTemplate:       "Allow transaction to proceed with enhanced monitoring",
			ReasoningTemplate: "First-time offender{{with .AmountLimit}} with amount under ${{.}}{{end}} triggers Policy {{.Policy}} {{.Label}}. " +
				"Using SAFE to allow transaction with enhanced monitoring.",
		},
		{
			Priority:             NewAccount,
			Name:                 "New Account",
			Label:                "NEW ACCOUNT",
			AllOf:                []Condition{BeneficiaryAgeBelow(NewBeneficiaryHours)},
			Decision:             facts.DecisionEscalate,
			HumanOverrideAllowed: true,
			Confidence:           ConfidenceRange{Min: 60, Max: 75},
			ActionTemplate:       "Escalate to fraud analyst for verification of beneficiary legitimacy",
			ReasoningTemplate: `Beneficiary account created {{printf "%.1f" .BeneficiaryAgeHours}} hours ago (< 24 hours) ` +
				"triggers Policy {{.Policy}} {{.Label}} requiring human review.",
		},
		{
			Priority:             VIPProtection,
			Name:                 "VIP Protection",
			Label:                "VIP PROTECTION",
			AllOf:                []Condition{TenureAbove(VIPTenureDays)},
			Decision:             facts.DecisionEscalate,
			HumanOverrideAllowed: true,
			Confidence:           ConfidenceRange{Min: 50, Max: 70},
			ActionTemplate:       "Contact VIP customer via verified phone number to confirm transaction intent",
			ReasoningTemplate: `User has tenure > 5 years ({{printf "%.1f" .TenureYears}} years) triggering Policy {{.Policy}} {{.Label}}. ` +
				"Escalating instead of blocking due to long-standing relationship.",
		},
	}
}
