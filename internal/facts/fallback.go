package facts

import "fmt"

// ErrorJudgment is the fail-closed judgment returned when the pipeline cannot
// reach a real decision: BLOCK, zero confidence, human override allowed.
func ErrorJudgment(transactionID string, cause error) *JudgmentDecision {
	return &JudgmentDecision{
		Decision:             DecisionBlock,
		PolicyApplied:        MinPolicyNumber,
		Reasoning:            fmt.Sprintf("Judgment failed due to error: %v. Blocking as precaution.", cause),
		ActionRequired:       "Manual review required due to system error",
		HumanOverrideAllowed: true,
		Confidence:           0,
		TransactionID:        transactionID,
		RiskScore:            100,
	}
}

// ErrorInvestigation is the placeholder report used when fact gathering
// fails outright. It is maximally severe so nothing downstream approves it.
func ErrorInvestigation(transactionID string, cause error) *InvestigationReport {
	return &InvestigationReport{
		TransactionID:       transactionID,
		BeneficiaryAnalysis: NewBeneficiaryRisk(""),
		SessionAnalysis:     SessionContext{TransactionID: transactionID, Status: StatusError},
		UserProfile:         UserProfile{Status: StatusError},
		RiskScore:           100,
		RiskLevel:           RiskCritical,
		Reasoning:           fmt.Sprintf("Investigation failed due to error: %v", cause),
		Recommendation:      RecommendBlock,
		SecurityFlags:       map[string]bool{},
	}
}
