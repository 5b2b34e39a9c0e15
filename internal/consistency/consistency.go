// Package consistency audits judgments from the external reasoner against
// the deterministic policy engine.
//
// The validator never rejects or rewrites a judgment. It reports each
// divergence so the reasoner's output and the engine's recommendation can be
// reviewed side by side.
package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/logging"
	"github.com/streamguard/streamguard/internal/policy"
)

// Severity separates real divergences from informational diagnostics.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Kind identifies a discrepancy check.
type Kind string

const (
	KindDecisionMismatch       Kind = "decision_mismatch"
	KindPolicyMismatch         Kind = "policy_mismatch"
	KindCriticalFraudDecision  Kind = "critical_fraud_decision"
	KindCriticalFraudPolicy    Kind = "critical_fraud_policy"
	KindCriticalFraudOverride  Kind = "critical_fraud_override"
	KindRepeatOffenderDecision Kind = "repeat_offender_decision"

	KindPolicyShadowed        Kind = "policy_shadowed"
	KindRiskLevelInconsistent Kind = "risk_level_inconsistent"
)

// Discrepancy is one finding.
type Discrepancy struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report is the outcome of one check.
type Report struct {
	TransactionID string                  `json:"transaction_id"`
	External      *facts.JudgmentDecision `json:"external"`
	Expected      *facts.JudgmentDecision `json:"expected"`
	Matching      []policy.Priority       `json:"matching"`
	Discrepancies []Discrepancy           `json:"discrepancies"`
}

// Consistent reports whether the external judgment agrees with the engine.
// Informational diagnostics do not count.
func (r *Report) Consistent() bool {
	return len(r.Warnings()) == 0
}

// Warnings returns the warning-severity discrepancies.
func (r *Report) Warnings() []Discrepancy {
	var out []Discrepancy
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// Has reports whether a discrepancy of kind k was found.
func (r *Report) Has(k Kind) bool {
	for _, d := range r.Discrepancies {
		if d.Kind == k {
			return true
		}
	}
	return false
}

// Validator compares external judgments with the engine's own.
type Validator struct {
	engine *policy.Engine
	logger *slog.Logger
}

// New creates a validator. A nil logger falls back to the context logger.
func New(engine *policy.Engine, logger *slog.Logger) *Validator {
	return &Validator{engine: engine, logger: logger}
}

func (v *Validator) log(ctx context.Context) *slog.Logger {
	if v.logger != nil {
		return v.logger
	}
	return logging.L(ctx)
}

// Check runs inv through the engine and reports every way external
// diverges from it. It never fails.
func (v *Validator) Check(ctx context.Context, external *facts.JudgmentDecision, inv *facts.InvestigationReport) *Report {
	expected, matching := v.engine.DecideMatching(inv)
	report := &Report{
		TransactionID: inv.TransactionID,
		External:      external,
		Expected:      expected,
		Matching:      matching,
	}
	add := func(k Kind, sev Severity, format string, args ...any) {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Kind: k, Severity: sev, Message: fmt.Sprintf(format, args...),
		})
	}

	got := external.Decision.Normalize()
	if got != expected.Decision {
		add(KindDecisionMismatch, SeverityWarning,
			"Decision mismatch: external=%s, policy engine=%s", got, expected.Decision)
	}
	if external.PolicyApplied != expected.PolicyApplied {
		add(KindPolicyMismatch, SeverityWarning,
			"Policy mismatch: external=%d, policy engine=%d", external.PolicyApplied, expected.PolicyApplied)
	}

	critical := v.criticalHolds(inv)
	if critical {
		if got != facts.DecisionBlock {
			add(KindCriticalFraudDecision, SeverityWarning,
				"Policy 1 violation: critical fraud must be BLOCK, got %s", got)
		}
		if external.PolicyApplied != int(policy.CriticalFraud) {
			add(KindCriticalFraudPolicy, SeverityWarning,
				"Policy 1 violation: critical fraud must cite policy 1, got %d", external.PolicyApplied)
		}
		if external.HumanOverrideAllowed {
			add(KindCriticalFraudOverride, SeverityWarning,
				"Policy 1 violation: critical fraud must not allow human override")
		}
	}
	if violations := inv.UserProfile.PreviousViolations; violations >= 1 && !critical && got != facts.DecisionBlock {
		add(KindRepeatOffenderDecision, SeverityWarning,
			"Policy 2 violation: user with %d previous violation(s) must be BLOCK, got %s", violations, got)
	}

	if len(report.Matching) > 1 {
		shadowed := make([]string, 0, len(report.Matching)-1)
		for _, p := range report.Matching[1:] {
			shadowed = append(shadowed, v.describe(p))
		}
		add(KindPolicyShadowed, SeverityInfo,
			"%s pre-empts %s whose conditions also hold", v.describe(report.Matching[0]), strings.Join(shadowed, ", "))
	}
	if want := facts.LevelForScore(inv.RiskScore); inv.RiskLevel != want {
		add(KindRiskLevelInconsistent, SeverityInfo,
			"Risk level %s does not match score %d (expected %s)", inv.RiskLevel, inv.RiskScore, want)
	}

	v.record(ctx, report)
	return report
}

// criticalHolds evaluates the engine's policy 1 predicate, falling back to
// the standard one when the rule has been removed.
func (v *Validator) criticalHolds(inv *facts.InvestigationReport) bool {
	rule, ok := v.engine.Rule(policy.CriticalFraud)
	if !ok {
		rule = policy.DefaultRules()[0]
	}
	matched, err := rule.Matches(inv)
	return err == nil && matched
}

func (v *Validator) describe(p policy.Priority) string {
	if r, ok := v.engine.Rule(p); ok {
		return fmt.Sprintf("policy %d (%s)", p, r.Name)
	}
	return fmt.Sprintf("policy %d", p)
}

func (v *Validator) record(ctx context.Context, report *Report) {
	logger := v.log(ctx)
	for _, d := range report.Discrepancies {
		discrepanciesTotal.WithLabelValues(string(d.Kind)).Inc()
		if d.Severity == SeverityWarning {
			logger.Warn("judgment discrepancy", "transaction_id", report.TransactionID, "kind", d.Kind, "message", d.Message)
		} else {
			logger.Info("judgment diagnostic", "transaction_id", report.TransactionID, "kind", d.Kind, "message", d.Message)
		}
	}

	result := "consistent"
	if !report.Consistent() {
		result = "divergent"
		logger.Warn("policy engine recommendation",
			"transaction_id", report.TransactionID,
			"decision", report.Expected.Decision,
			"policy", report.Expected.PolicyApplied,
			"reasoning", report.Expected.Reasoning,
		)
	}
	checksTotal.WithLabelValues(result).Inc()
}
