// Package policy provides the deterministic fraud policy engine.
//
// Rules are held in a set keyed by priority and evaluated in ascending
// priority order; the first rule whose conditions hold produces the
// judgment. Rules are plain data (conditions plus templates) so they can be
// loaded from YAML, stored in Postgres and edited over the API.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/streamguard/streamguard/internal/facts"
)

// Errors
var (
	ErrRuleNotFound     = errors.New("policy: rule not found")
	ErrInvalidPriority  = errors.New("policy: priority out of range")
	ErrNoConditions     = errors.New("policy: rule has no conditions")
	ErrUnknownCondition = errors.New("policy: unknown condition kind")
	ErrMissingAmount    = errors.New("policy: transaction amount not provided")
)

// Priority orders rules (lower wins) and identifies the rule in
// JudgmentDecision.PolicyApplied.
type Priority int

const (
	CriticalFraud  Priority = 1
	RepeatOffender Priority = 2
	FirstTime      Priority = 3
	NewAccount     Priority = 4
	VIPProtection  Priority = 5
)

// Valid reports whether p is a citable policy number.
func (p Priority) Valid() bool {
	return int(p) >= facts.MinPolicyNumber && int(p) <= facts.MaxPolicyNumber
}

// ConfidenceRange bounds the confidence a rule reports.
type ConfidenceRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Rule is a predicate-gated decision template.
//
// A rule matches when at least one AnyOf condition holds (or AnyOf is empty)
// and every AllOf condition holds. At least one condition is required.
type Rule struct {
	Priority             Priority        `json:"priority" yaml:"priority"`
	Name                 string          `json:"name" yaml:"name"`
	Label                string          `json:"label,omitempty" yaml:"label,omitempty"`
	AnyOf                []Condition     `json:"any_of,omitempty" yaml:"any_of,omitempty"`
	AllOf                []Condition     `json:"all_of,omitempty" yaml:"all_of,omitempty"`
	Decision             facts.Decision  `json:"decision" yaml:"decision"`
	HumanOverrideAllowed bool            `json:"human_override_allowed" yaml:"human_override_allowed"`
	Confidence           ConfidenceRange `json:"confidence" yaml:"confidence"`
	ActionTemplate       string          `json:"action_template" yaml:"action_template"`
	ReasoningTemplate    string          `json:"reasoning_template,omitempty" yaml:"reasoning_template,omitempty"`
}

// DisplayLabel is the upper-case name used in generated reasoning.
func (r *Rule) DisplayLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return strings.ToUpper(r.Name)
}

// Validate checks the rule's structure. It does not evaluate conditions.
func (r *Rule) Validate() error {
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidPriority, r.Priority,
			facts.MinPolicyNumber, facts.MaxPolicyNumber)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("policy %d: name is required", r.Priority)
	}
	if len(r.AnyOf)+len(r.AllOf) == 0 {
		return fmt.Errorf("policy %d: %w", r.Priority, ErrNoConditions)
	}
	for i, c := range r.AnyOf {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("policy %d any_of[%d]: %w", r.Priority, i, err)
		}
	}
	for i, c := range r.AllOf {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("policy %d all_of[%d]: %w", r.Priority, i, err)
		}
	}
	switch r.Decision {
	case facts.DecisionSafe, facts.DecisionBlock, facts.DecisionEscalate:
	default:
		return fmt.Errorf("policy %d: invalid decision %q", r.Priority, r.Decision)
	}
	c := r.Confidence
	if c.Min < 0 || c.Max > 100 || c.Min > c.Max {
		return fmt.Errorf("policy %d: confidence range [%d,%d] must satisfy 0 <= min <= max <= 100",
			r.Priority, c.Min, c.Max)
	}
	if len(strings.TrimSpace(r.ActionTemplate)) < 5 {
		return fmt.Errorf("policy %d: action_template must be at least 5 characters", r.Priority)
	}
	if _, err := parseTemplate("action", r.ActionTemplate); err != nil {
		return fmt.Errorf("policy %d: action_template: %w", r.Priority, err)
	}
	if r.ReasoningTemplate != "" {
		if _, err := parseTemplate("reasoning", r.ReasoningTemplate); err != nil {
			return fmt.Errorf("policy %d: reasoning_template: %w", r.Priority, err)
		}
	}
	return nil
}

// Matches evaluates the rule's conditions against inv. The first condition
// error aborts evaluation and is returned with a false result.
func (r *Rule) Matches(inv *facts.InvestigationReport) (bool, error) {
	if len(r.AnyOf)+len(r.AllOf) == 0 {
		return false, ErrNoConditions
	}
	if len(r.AnyOf) > 0 {
		matched := false
		for _, c := range r.AnyOf {
			ok, err := c.Eval(inv)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	for _, c := range r.AllOf {
		ok, err := c.Eval(inv)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ConfidenceFor scales linearly with the risk score inside the rule's range.
func (r *Rule) ConfidenceFor(riskScore int) int {
	return scaleConfidence(r.Confidence, riskScore)
}

func (r *Rule) clone() Rule {
	cp := *r
	cp.AnyOf = append([]Condition(nil), r.AnyOf...)
	cp.AllOf = append([]Condition(nil), r.AllOf...)
	return cp
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=zero").Parse(text)
}
