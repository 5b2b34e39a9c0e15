package policy

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/streamguard/streamguard/internal/facts"
)

// templateData is the value action and reasoning templates execute against.
type templateData struct {
	Policy              int
	Label               string
	TransactionID       string
	UserID              string
	RiskScore           int
	RiskLevel           facts.RiskLevel
	PreviousViolations  int
	BeneficiaryAgeHours float64
	TenureDays          int
	TenureYears         float64
	Amount              string
	AmountLimit         string
	Flags               map[string]bool
}

func newTemplateData(r *Rule, inv *facts.InvestigationReport) templateData {
	d := templateData{
		Policy:             int(r.Priority),
		Label:              r.DisplayLabel(),
		TransactionID:      inv.TransactionID,
		UserID:             inv.UserProfile.UserID,
		RiskScore:          inv.RiskScore,
		RiskLevel:          inv.RiskLevel,
		PreviousViolations: inv.UserProfile.PreviousViolations,
		Flags:              inv.SecurityFlags,
	}
	if d.Flags == nil {
		d.Flags = map[string]bool{}
	}
	if age := inv.BeneficiaryAnalysis.AccountAgeHours; age != nil {
		d.BeneficiaryAgeHours = *age
	}
	if tenure := inv.UserProfile.AccountTenureDays; tenure != nil {
		d.TenureDays = *tenure
		d.TenureYears = float64(*tenure) / 365.25
	}
	if inv.TransactionAmount != nil {
		d.Amount = inv.TransactionAmount.StringFixed(2)
	}
	for _, c := range r.AllOf {
		if c.Kind == KindAmountBelow {
			d.AmountLimit = c.Threshold.String()
		}
	}
	return d
}

// compiledRule caches parsed templates next to the rule.
type compiledRule struct {
	rule      Rule
	action    *template.Template
	reasoning *template.Template
}

func compile(r Rule) (*compiledRule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cr := &compiledRule{rule: r.clone()}
	var err error
	if cr.action, err = parseTemplate("action", r.ActionTemplate); err != nil {
		return nil, err
	}
	if r.ReasoningTemplate != "" {
		if cr.reasoning, err = parseTemplate("reasoning", r.ReasoningTemplate); err != nil {
			return nil, err
		}
	}
	return cr, nil
}

func (cr *compiledRule) actionText(data templateData) (string, error) {
	return execute(cr.action, data)
}

func (cr *compiledRule) reasoningText(data templateData) (string, error) {
	if cr.reasoning == nil {
		return genericReasoning(&cr.rule, data), nil
	}
	return execute(cr.reasoning, data)
}

func execute(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// genericReasoning describes a rule that ships without a reasoning template.
func genericReasoning(r *Rule, data templateData) string {
	var parts []string
	if len(r.AnyOf) > 0 {
		alts := make([]string, len(r.AnyOf))
		for i, c := range r.AnyOf {
			alts[i] = c.String()
		}
		parts = append(parts, strings.Join(alts, " or "))
	}
	for _, c := range r.AllOf {
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("Transaction matched %s (risk %d/100), triggering Policy %d %s.",
		strings.Join(parts, " and "), data.RiskScore, data.Policy, data.Label)
}

// scaleConfidence returns min + round(score/100 * (max-min)) clamped to the
// range. Scores outside 0-100 are clamped first.
func scaleConfidence(c ConfidenceRange, score int) int {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	v := c.Min + int(math.Round(float64(score)/100*float64(c.Max-c.Min)))
	if v < c.Min {
		return c.Min
	}
	if v > c.Max {
		return c.Max
	}
	return v
}
