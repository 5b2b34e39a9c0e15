// Package facts defines the structured records exchanged by the judgment
// core: the per-tool fact records, the synthesized InvestigationReport, and
// the JudgmentDecision produced for it.
//
// Records are built once per investigation cycle and treated as read-only
// afterwards. Nothing in this package performs I/O.
package facts

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// RiskLevel is the investigation's categorical severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether l is a known level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// LevelForScore maps a 0-100 risk score onto the level thresholds used by
// investigation synthesis: CRITICAL >80, HIGH >60, MEDIUM >40, else LOW.
func LevelForScore(score int) RiskLevel {
	switch {
	case score > 80:
		return RiskCritical
	case score > 60:
		return RiskHigh
	case score > 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Recommendation is the investigator's suggested outcome.
type Recommendation string

const (
	RecommendApprove       Recommendation = "APPROVE"
	RecommendHoldForReview Recommendation = "HOLD_FOR_REVIEW"
	RecommendBlock         Recommendation = "BLOCK"
)

// Valid reports whether r is a known recommendation.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendApprove, RecommendHoldForReview, RecommendBlock:
		return true
	}
	return false
}

// Decision is the final judgment category.
type Decision string

const (
	DecisionSafe     Decision = "SAFE"
	DecisionBlock    Decision = "BLOCK"
	DecisionEscalate Decision = "ESCALATE_TO_HUMAN"

	// DecisionApprove is the legacy spelling of DecisionSafe, still accepted
	// from older reasoning prompts.
	DecisionApprove Decision = "APPROVE"
)

// Valid reports whether d is a known decision, including the legacy alias.
func (d Decision) Valid() bool {
	switch d {
	case DecisionSafe, DecisionBlock, DecisionEscalate, DecisionApprove:
		return true
	}
	return false
}

// Normalize maps the legacy APPROVE alias onto SAFE.
func (d Decision) Normalize() Decision {
	if d == DecisionApprove {
		return DecisionSafe
	}
	return d
}

// Status tags a fact record whose lookup did not return data.
type Status string

const (
	StatusOK             Status = ""
	StatusNotFound       Status = "not_found"
	StatusNoSessionFound Status = "no_session_found"
	StatusError          Status = "error"
)

// Valid reports whether s is a known status tag.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusNotFound, StatusNoSessionFound, StatusError:
		return true
	}
	return false
}

// Security flag names carried in InvestigationReport.SecurityFlags.
const (
	FlagActiveVoiceCall = "active_voice_call"
	FlagSuspectDevice   = "suspect_device"
	FlagNewBeneficiary  = "new_beneficiary"
	FlagRushedSession   = "rushed_session"
	FlagHighVelocity    = "high_velocity"
	FlagUnusualTime     = "unusual_time"
	FlagUnusualLocation = "unusual_location"
)

// DefaultBeneficiaryRisk is the risk score assumed when the lookup omits one.
const DefaultBeneficiaryRisk = 50

// Policy numbers a judgment may cite.
const (
	MinPolicyNumber = 1
	MaxPolicyNumber = 5
)

// UserProfile is the sender's history as returned by the user-history lookup.
type UserProfile struct {
	UserID             string   `json:"user_id"`
	AgeGroup           *string  `json:"age_group,omitempty"`
	AccountTenureDays  *int     `json:"account_tenure_days,omitempty"`
	AvgTransferAmount  *float64 `json:"avg_transfer_amount,omitempty"`
	BehavioralSegment  *string  `json:"behavioral_segment,omitempty"`
	PreviousViolations int      `json:"previous_violations"`
	Status             Status   `json:"status,omitempty"`
}

// BeneficiaryRisk is the destination account's risk assessment.
type BeneficiaryRisk struct {
	AccountID             string   `json:"account_id"`
	AccountAgeHours       *float64 `json:"account_age_hours,omitempty"`
	RiskScore             int      `json:"risk_score"`
	LinkedToFlaggedDevice *bool    `json:"linked_to_flagged_device,omitempty"`
	Status                Status   `json:"status,omitempty"`
}

// NewBeneficiaryRisk returns a record with the default risk score applied.
func NewBeneficiaryRisk(accountID string) BeneficiaryRisk {
	return BeneficiaryRisk{AccountID: accountID, RiskScore: DefaultBeneficiaryRisk}
}

// UnmarshalJSON applies the default risk score when the field is absent.
func (b *BeneficiaryRisk) UnmarshalJSON(data []byte) error {
	type alias BeneficiaryRisk
	a := alias{RiskScore: DefaultBeneficiaryRisk}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = BeneficiaryRisk(a)
	return nil
}

// SessionContext is the mobile-banking session behind a transaction.
type SessionContext struct {
	TransactionID     string         `json:"transaction_id"`
	UserID            string         `json:"user_id"`
	SessionID         *string        `json:"session_id,omitempty"`
	IsCallActive      bool           `json:"is_call_active"`
	BehavioralMetrics map[string]any `json:"behavioral_metrics,omitempty"`
	DeviceContext     map[string]any `json:"device_context,omitempty"`
	RiskSignals       map[string]any `json:"risk_signals,omitempty"`
	Status            Status         `json:"status,omitempty"`
}

// InvestigationReport is the synthesized set of facts about a transaction,
// produced before any decision is made.
type InvestigationReport struct {
	TransactionID       string          `json:"transaction_id"`
	UserProfile         UserProfile     `json:"user_profile"`
	BeneficiaryAnalysis BeneficiaryRisk `json:"beneficiary_analysis"`
	SessionAnalysis     SessionContext  `json:"session_analysis"`

	RiskScore      int             `json:"risk_score"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	Reasoning      string          `json:"reasoning"`
	Recommendation Recommendation  `json:"recommendation"`
	SecurityFlags  map[string]bool `json:"security_flags"`

	// TransactionAmount is optional; only the first-time amount limit reads it.
	TransactionAmount *decimal.Decimal `json:"transaction_amount,omitempty"`
}

// Flag reports whether a security flag is set. Missing flags are false.
func (r *InvestigationReport) Flag(name string) bool {
	return r.SecurityFlags[name]
}

// JudgmentDecision is the final categorical decision plus its audit metadata.
type JudgmentDecision struct {
	Decision             Decision `json:"decision"`
	PolicyApplied        int      `json:"policy_applied"`
	Reasoning            string   `json:"reasoning"`
	ActionRequired       string   `json:"action_required"`
	HumanOverrideAllowed bool     `json:"human_override_allowed"`
	Confidence           int      `json:"confidence"`

	TransactionID string `json:"transaction_id"`
	RiskScore     int    `json:"risk_score"`
}
