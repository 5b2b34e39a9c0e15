package facts

import (
	"encoding/json"
	"fmt"

	"github.com/streamguard/streamguard/internal/validation"
)

const (
	minReasoningWords = 5
	minActionLength   = 5
)

func validStatus(field string, s Status) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		if !s.Valid() {
			return &validation.ValidationError{Field: field, Message: fmt.Sprintf("unknown status %q", s)}
		}
		return nil
	}
}

// Validate checks field ranges. An empty user_id is a completeness concern,
// not a schema one, and passes here.
func (u *UserProfile) Validate() validation.ValidationErrors {
	errs := validation.Validate(
		validation.NonNegative("previous_violations", u.PreviousViolations),
		validStatus("status", u.Status),
	)
	if u.AccountTenureDays != nil {
		errs = append(errs, validation.Validate(
			validation.NonNegative("account_tenure_days", *u.AccountTenureDays))...)
	}
	return errs
}

// Validate checks field ranges.
func (b *BeneficiaryRisk) Validate() validation.ValidationErrors {
	errs := validation.Validate(
		validation.IntRange("risk_score", b.RiskScore, 0, 100),
		validStatus("status", b.Status),
	)
	if b.AccountAgeHours != nil && *b.AccountAgeHours < 0 {
		errs = append(errs, validation.ValidationError{Field: "account_age_hours", Message: "must not be negative"})
	}
	return errs
}

// Validate checks field ranges.
func (s *SessionContext) Validate() validation.ValidationErrors {
	return validation.Validate(validStatus("status", s.Status))
}

// Validate checks the report and every embedded record.
func (r *InvestigationReport) Validate() error {
	errs := validation.Validate(
		validation.IntRange("risk_score", r.RiskScore, 0, 100),
		validation.Required("risk_level", string(r.RiskLevel)),
		validation.OneOf("risk_level", string(r.RiskLevel),
			string(RiskLow), string(RiskMedium), string(RiskHigh), string(RiskCritical)),
		validation.MinWords("reasoning", r.Reasoning, minReasoningWords),
		validation.Required("recommendation", string(r.Recommendation)),
		validation.OneOf("recommendation", string(r.Recommendation),
			string(RecommendApprove), string(RecommendHoldForReview), string(RecommendBlock)),
	)
	if r.TransactionAmount != nil && r.TransactionAmount.IsNegative() {
		errs = append(errs, validation.ValidationError{Field: "transaction_amount", Message: "must not be negative"})
	}
	errs = append(errs, r.UserProfile.Validate().Prefix("user_profile")...)
	errs = append(errs, r.BeneficiaryAnalysis.Validate().Prefix("beneficiary_analysis")...)
	errs = append(errs, r.SessionAnalysis.Validate().Prefix("session_analysis")...)
	return errs.Err()
}

// Validate checks the judgment's fields. The legacy APPROVE decision is
// accepted.
func (j *JudgmentDecision) Validate() error {
	return validation.Validate(
		validation.Required("decision", string(j.Decision)),
		validation.OneOf("decision", string(j.Decision),
			string(DecisionSafe), string(DecisionBlock), string(DecisionEscalate), string(DecisionApprove)),
		validation.IntRange("policy_applied", j.PolicyApplied, MinPolicyNumber, MaxPolicyNumber),
		validation.MinWords("reasoning", j.Reasoning, minReasoningWords),
		validation.MinLength("action_required", j.ActionRequired, minActionLength),
		validation.IntRange("confidence", j.Confidence, 0, 100),
		validation.IntRange("risk_score", j.RiskScore, 0, 100),
	).Err()
}

// DecodeInvestigation unmarshals and validates an investigation report.
func DecodeInvestigation(data []byte) (*InvestigationReport, error) {
	var r InvestigationReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode investigation: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// DecodeJudgment unmarshals and validates a judgment.
func DecodeJudgment(data []byte) (*JudgmentDecision, error) {
	var j JudgmentDecision
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode judgment: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// NewInvestigationReport applies defaults to r and validates it.
func NewInvestigationReport(r InvestigationReport) (*InvestigationReport, error) {
	if r.SecurityFlags == nil {
		r.SecurityFlags = map[string]bool{}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// NewJudgmentDecision validates j and returns a copy.
func NewJudgmentDecision(j JudgmentDecision) (*JudgmentDecision, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}
