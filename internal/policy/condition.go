package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/streamguard/streamguard/internal/facts"
)

// ConditionKind selects which investigation field a condition reads.
type ConditionKind string

const (
	KindSecurityFlag        ConditionKind = "security_flag"
	KindRiskLevel           ConditionKind = "risk_level"
	KindViolationsAtLeast   ConditionKind = "previous_violations_at_least"
	KindViolationsEqual     ConditionKind = "previous_violations_equal"
	KindBeneficiaryAgeBelow ConditionKind = "beneficiary_age_below_hours"
	KindTenureAbove         ConditionKind = "tenure_above_days"
	KindAmountBelow         ConditionKind = "amount_below"
)

// Condition is a single serializable predicate over an InvestigationReport.
// Only the fields relevant to Kind are read.
type Condition struct {
	Kind      ConditionKind   `json:"kind" yaml:"kind"`
	Flag      string          `json:"flag,omitempty" yaml:"flag,omitempty"`
	Level     facts.RiskLevel `json:"level,omitempty" yaml:"level,omitempty"`
	Threshold decimal.Decimal `json:"threshold" yaml:"threshold"`
}

// FlagIs matches when the named security flag is set.
func FlagIs(name string) Condition {
	return Condition{Kind: KindSecurityFlag, Flag: name}
}

// LevelIs matches an exact risk level.
func LevelIs(level facts.RiskLevel) Condition {
	return Condition{Kind: KindRiskLevel, Level: level}
}

// ViolationsAtLeast matches previous_violations >= n.
func ViolationsAtLeast(n int64) Condition {
	return Condition{Kind: KindViolationsAtLeast, Threshold: decimal.NewFromInt(n)}
}

// ViolationsEqual matches previous_violations == n.
func ViolationsEqual(n int64) Condition {
	return Condition{Kind: KindViolationsEqual, Threshold: decimal.NewFromInt(n)}
}

// BeneficiaryAgeBelow matches a known beneficiary account age under hours.
func BeneficiaryAgeBelow(hours int64) Condition {
	return Condition{Kind: KindBeneficiaryAgeBelow, Threshold: decimal.NewFromInt(hours)}
}

// TenureAbove matches a known account tenure over days.
func TenureAbove(days int64) Condition {
	return Condition{Kind: KindTenureAbove, Threshold: decimal.NewFromInt(days)}
}

// AmountBelow matches a transaction amount under limit. It errors when the
// investigation carries no amount.
func AmountBelow(limit decimal.Decimal) Condition {
	return Condition{Kind: KindAmountBelow, Threshold: limit}
}

// Validate checks that the condition is well formed.
func (c Condition) Validate() error {
	switch c.Kind {
	case KindSecurityFlag:
		if c.Flag == "" {
			return fmt.Errorf("%s: flag is required", c.Kind)
		}
	case KindRiskLevel:
		if !c.Level.Valid() {
			return fmt.Errorf("%s: invalid level %q", c.Kind, c.Level)
		}
	case KindViolationsAtLeast, KindViolationsEqual, KindBeneficiaryAgeBelow, KindTenureAbove, KindAmountBelow:
		if c.Threshold.IsNegative() {
			return fmt.Errorf("%s: threshold must not be negative", c.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCondition, c.Kind)
	}
	return nil
}

// Eval evaluates the condition. Absent optional fields (beneficiary age,
// tenure) evaluate to false; an absent amount is an error.
func (c Condition) Eval(inv *facts.InvestigationReport) (bool, error) {
	switch c.Kind {
	case KindSecurityFlag:
		return inv.Flag(c.Flag), nil
	case KindRiskLevel:
		return inv.RiskLevel == c.Level, nil
	case KindViolationsAtLeast:
		return decimal.NewFromInt(int64(inv.UserProfile.PreviousViolations)).GreaterThanOrEqual(c.Threshold), nil
	case KindViolationsEqual:
		return decimal.NewFromInt(int64(inv.UserProfile.PreviousViolations)).Equal(c.Threshold), nil
	case KindBeneficiaryAgeBelow:
		age := inv.BeneficiaryAnalysis.AccountAgeHours
		if age == nil {
			return false, nil
		}
		return decimal.NewFromFloat(*age).LessThan(c.Threshold), nil
	case KindTenureAbove:
		tenure := inv.UserProfile.AccountTenureDays
		if tenure == nil {
			return false, nil
		}
		return decimal.NewFromInt(int64(*tenure)).GreaterThan(c.Threshold), nil
	case KindAmountBelow:
		if inv.TransactionAmount == nil {
			return false, ErrMissingAmount
		}
		return inv.TransactionAmount.LessThan(c.Threshold), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCondition, c.Kind)
	}
}

// String describes the condition for logs and generated reasoning.
func (c Condition) String() string {
	switch c.Kind {
	case KindSecurityFlag:
		return fmt.Sprintf("security flag %s is set", c.Flag)
	case KindRiskLevel:
		return fmt.Sprintf("risk level is %s", c.Level)
	case KindViolationsAtLeast:
		return fmt.Sprintf("previous violations >= %s", c.Threshold)
	case KindViolationsEqual:
		return fmt.Sprintf("previous violations == %s", c.Threshold)
	case KindBeneficiaryAgeBelow:
		return fmt.Sprintf("beneficiary account age < %s hours", c.Threshold)
	case KindTenureAbove:
		return fmt.Sprintf("account tenure > %s days", c.Threshold)
	case KindAmountBelow:
		return fmt.Sprintf("amount < %s", c.Threshold.StringFixed(2))
	default:
		return string(c.Kind)
	}
}
