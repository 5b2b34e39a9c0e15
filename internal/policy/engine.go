package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/streamguard/streamguard/internal/facts"
)

// Fail-safe judgment values used when no rule matches.
const (
	NoMatchReasoning  = "No policy matched - blocking as safety measure"
	NoMatchAction     = "Manual review required"
	NoMatchConfidence = 50
)

// Engine evaluates investigations against an ordered rule set. It is
// constructed once at startup and shared; reads and rule edits are
// serialized by an RWMutex.
type Engine struct {
	mu          sync.RWMutex
	rules       []*compiledRule // ascending priority
	logger      *slog.Logger
	amountLimit *decimal.Decimal
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger      *slog.Logger
	amountLimit *decimal.Decimal
}

// WithLogger sets the logger used for predicate errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithFirstTimeAmountLimit completes the first-time rule with an
// amount_below condition. Investigations without an amount then fail that
// condition and the rule is skipped.
func WithFirstTimeAmountLimit(limit decimal.Decimal) Option {
	return func(c *engineConfig) { c.amountLimit = &limit }
}

// New creates an engine over rules. Duplicate priorities keep the last rule.
func New(rules []Rule, opts ...Option) (*Engine, error) {
	cfg := engineConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	e := &Engine{logger: cfg.logger, amountLimit: cfg.amountLimit}
	for _, r := range rules {
		cr, err := e.compile(r)
		if err != nil {
			return nil, err
		}
		e.put(cr)
	}
	return e, nil
}

// NewDefault creates an engine over DefaultRules.
func NewDefault(opts ...Option) *Engine {
	e, err := New(DefaultRules(), opts...)
	if err != nil {
		panic(fmt.Sprintf("policy: default rules invalid: %v", err))
	}
	return e
}

// compile applies the configured first-time amount limit, then compiles r.
func (e *Engine) compile(r Rule) (*compiledRule, error) {
	if e.amountLimit != nil && r.Priority == FirstTime {
		r = withAmountLimit(r, *e.amountLimit)
	}
	return compile(r)
}

func withAmountLimit(r Rule, limit decimal.Decimal) Rule {
	r = r.clone()
	for i, c := range r.AllOf {
		if c.Kind == KindAmountBelow {
			r.AllOf[i].Threshold = limit
			return r
		}
	}
	r.AllOf = append(r.AllOf, AmountBelow(limit))
	return r
}

// put inserts or replaces by priority. Caller holds the write lock or owns e.
func (e *Engine) put(cr *compiledRule) {
	for i, existing := range e.rules {
		if existing.rule.Priority == cr.rule.Priority {
			e.rules[i] = cr
			return
		}
	}
	e.rules = append(e.rules, cr)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].rule.Priority < e.rules[j].rule.Priority
	})
	rulesLoaded.Set(float64(len(e.rules)))
}

// AddRule validates r and inserts it, replacing any rule with the same
// priority. A configured first-time amount limit is applied to r as in New.
func (e *Engine) AddRule(r Rule) error {
	cr, err := e.compile(r)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.put(cr)
	e.mu.Unlock()
	return nil
}

// RemoveRule deletes the rule with priority p and reports whether one was
// present. Removing a missing priority is a no-op.
func (e *Engine) RemoveRule(p Priority) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cr := range e.rules {
		if cr.rule.Priority == p {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			rulesLoaded.Set(float64(len(e.rules)))
			return true
		}
	}
	return false
}

// Rules returns a copy of the rule set in priority order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	for i, cr := range e.rules {
		out[i] = cr.rule.clone()
	}
	return out
}

// Rule returns the rule with priority p.
func (e *Engine) Rule(p Priority) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, cr := range e.rules {
		if cr.rule.Priority == p {
			return cr.rule.clone(), true
		}
	}
	return Rule{}, false
}

// matches evaluates one rule, treating predicate errors as non-matches.
func (e *Engine) matches(cr *compiledRule, inv *facts.InvestigationReport) bool {
	ok, err := cr.rule.Matches(inv)
	if err != nil {
		predicateErrors.WithLabelValues(strconv.Itoa(int(cr.rule.Priority))).Inc()
		e.logger.Warn("policy predicate failed, treating as non-match",
			"policy", int(cr.rule.Priority),
			"transaction_id", inv.TransactionID,
			"error", err,
		)
		return false
	}
	return ok
}

func (e *Engine) first(inv *facts.InvestigationReport) *compiledRule {
	for _, cr := range e.rules {
		if e.matches(cr, inv) {
			return cr
		}
	}
	return nil
}

// Evaluate returns the first rule in priority order whose conditions hold.
func (e *Engine) Evaluate(inv *facts.InvestigationReport) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cr := e.first(inv)
	if cr == nil {
		return nil, false
	}
	r := cr.rule.clone()
	return &r, true
}

// Matching returns the priority of every rule whose conditions hold, in
// order. Only the first one decides; the rest are shadowed.
func (e *Engine) Matching(inv *facts.InvestigationReport) []Priority {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Priority
	for _, cr := range e.rules {
		if e.matches(cr, inv) {
			out = append(out, cr.rule.Priority)
		}
	}
	return out
}

// Decide produces the judgment for inv. It never fails: when no rule
// matches it returns a fail-safe BLOCK under policy 1.
func (e *Engine) Decide(inv *facts.InvestigationReport) *facts.JudgmentDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.decide(e.first(inv), inv)
}

// DecideMatching returns the judgment for inv together with every matching
// priority, both taken from the same rule set.
func (e *Engine) DecideMatching(inv *facts.InvestigationReport) (*facts.JudgmentDecision, []Priority) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var (
		first    *compiledRule
		matching []Priority
	)
	for _, cr := range e.rules {
		if e.matches(cr, inv) {
			if first == nil {
				first = cr
			}
			matching = append(matching, cr.rule.Priority)
		}
	}
	return e.decide(first, inv), matching
}

// decide renders the judgment for cr. Caller holds the read lock.
func (e *Engine) decide(cr *compiledRule, inv *facts.InvestigationReport) *facts.JudgmentDecision {
	if cr == nil {
		return NoMatchJudgment(inv)
	}

	data := newTemplateData(&cr.rule, inv)
	reasoning, err := cr.reasoningText(data)
	if err != nil {
		e.logger.Warn("policy reasoning template failed", "policy", int(cr.rule.Priority), "error", err)
		reasoning = genericReasoning(&cr.rule, data)
	}
	action, err := cr.actionText(data)
	if err != nil {
		e.logger.Warn("policy action template failed", "policy", int(cr.rule.Priority), "error", err)
		action = NoMatchAction
	}

	return &facts.JudgmentDecision{
		Decision:             cr.rule.Decision,
		PolicyApplied:        int(cr.rule.Priority),
		Reasoning:            reasoning,
		ActionRequired:       action,
		HumanOverrideAllowed: cr.rule.HumanOverrideAllowed,
		Confidence:           cr.rule.ConfidenceFor(inv.RiskScore),
		TransactionID:        inv.TransactionID,
		RiskScore:            inv.RiskScore,
	}
}

// NoMatchJudgment is the fail-safe judgment for an investigation no rule
// covers.
func NoMatchJudgment(inv *facts.InvestigationReport) *facts.JudgmentDecision {
	return &facts.JudgmentDecision{
		Decision:             facts.DecisionBlock,
		PolicyApplied:        int(CriticalFraud),
		Reasoning:            NoMatchReasoning,
		ActionRequired:       NoMatchAction,
		HumanOverrideAllowed: true,
		Confidence:           NoMatchConfidence,
		TransactionID:        inv.TransactionID,
		RiskScore:            inv.RiskScore,
	}
}
