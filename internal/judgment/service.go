// Package judgment runs the full pipeline for one transaction: gather facts,
// synthesize an investigation, gate it for completeness, decide it with the
// policy engine, and audit the outcome. It also audits judgments made by the
// external reasoner against the engine.
//
// Every path fails closed. When a judgment cannot be reached the caller still
// gets a BLOCK decision with zero confidence alongside the error.
package judgment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/streamguard/streamguard/internal/audit"
	"github.com/streamguard/streamguard/internal/completeness"
	"github.com/streamguard/streamguard/internal/consistency"
	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/investigation"
	"github.com/streamguard/streamguard/internal/logging"
	"github.com/streamguard/streamguard/internal/lookup"
	"github.com/streamguard/streamguard/internal/metrics"
	"github.com/streamguard/streamguard/internal/policy"
	"github.com/streamguard/streamguard/internal/traces"
)

var (
	// ErrGatherFailed wraps any failure to collect facts for a transaction.
	ErrGatherFailed = errors.New("judgment: fact gathering failed")

	// ErrLookupFailed means a fact lookup errored after retries or was
	// refused by an open circuit. It is always wrapped in ErrGatherFailed.
	ErrLookupFailed = errors.New("judgment: fact lookup failed")
)

// Result is the outcome of judging one transaction.
type Result struct {
	Investigation *facts.InvestigationReport `json:"investigation"`
	Judgment      *facts.JudgmentDecision    `json:"judgment"`
	Matching      []policy.Priority          `json:"matching"`
	ToolCalls     []lookup.ToolCall          `json:"tool_calls,omitempty"`
	Source        audit.Source               `json:"source"`
	AuditID       string                     `json:"audit_id,omitempty"`
}

// Validation is the outcome of auditing an external judgment.
type Validation struct {
	Report  *consistency.Report `json:"report"`
	AuditID string              `json:"audit_id,omitempty"`
}

// Service wires the pipeline stages together.
type Service struct {
	gatherer  *lookup.Gatherer
	engine    *policy.Engine
	validator *consistency.Validator
	recorder  *audit.Recorder
	feed      Feed
	logger    *slog.Logger
}

// Feed receives every judgment the service issues or validates.
type Feed interface {
	Publish(entry *audit.Entry)
}

// NewService creates a judgment service. recorder may be nil to disable
// auditing.
func NewService(gatherer *lookup.Gatherer, engine *policy.Engine, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gatherer:  gatherer,
		engine:    engine,
		validator: consistency.New(engine, logger),
		recorder:  recorder,
		logger:    logger,
	}
}

// WithFeed publishes judgments to f as they are issued.
func (s *Service) WithFeed(f Feed) *Service {
	s.feed = f
	return s
}

// Engine returns the policy engine the service decides with.
func (s *Service) Engine() *policy.Engine {
	return s.engine
}

func (s *Service) log(ctx context.Context, txID string) *slog.Logger {
	return logging.L(logging.WithTransactionID(ctx, txID)).With("component", "judgment")
}

// Gather collects the facts for req without deciding anything.
func (s *Service) Gather(ctx context.Context, req lookup.Request) (*lookup.Gathered, error) {
	ctx, span := traces.StartSpan(ctx, "judgment.Gather", traces.TransactionID(req.TransactionID))
	defer span.End()
	defer observe("gather", time.Now())

	g, err := s.gatherer.Gather(ctx, req)
	if err != nil {
		traces.Fail(span, err, "gather failed")
		return nil, err
	}
	return g, nil
}

// Judge runs the whole pipeline for req. On error the returned result, when
// non-nil, carries the fail-closed judgment.
func (s *Service) Judge(ctx context.Context, req lookup.Request) (*Result, error) {
	if req.TransactionID == "" {
		return nil, lookup.ErrNoTransaction
	}
	ctx, span := traces.StartSpan(ctx, "judgment.Judge", traces.TransactionID(req.TransactionID))
	defer span.End()
	defer observe("judge", time.Now())

	g, err := s.gatherer.Gather(ctx, req)
	if err != nil {
		traces.Fail(span, err, "gather failed")
		s.log(ctx, req.TransactionID).Error("fact gathering failed", "error", err)

		inv := facts.ErrorInvestigation(req.TransactionID, err)
		res := s.fallback(inv, facts.ErrorJudgment(req.TransactionID, err))
		return res, fmt.Errorf("%w: %w", ErrGatherFailed, err)
	}

	inv := investigation.Synthesize(g)

	// A record that stands in for a failed lookup carries default values
	// (zero violations, neutral risk) that the rules would read as facts.
	if failed := g.Errored(); len(failed) > 0 {
		err := fmt.Errorf("%w: %w: %s", ErrGatherFailed, ErrLookupFailed, strings.Join(failed, ", "))
		traces.Fail(span, err, "lookup failed")
		s.log(ctx, req.TransactionID).Error("fact lookup failed, blocking", "failed_tools", failed)

		res := s.fallback(inv, facts.ErrorJudgment(req.TransactionID, err))
		res.ToolCalls = g.ToolCalls
		return res, err
	}

	res, err := s.decide(ctx, inv)
	res.ToolCalls = g.ToolCalls
	if err != nil {
		traces.Fail(span, err, "investigation incomplete")
	}
	traces.RecordJudgment(span, res.Judgment, string(res.Source))
	return res, err
}

// Decide judges an investigation produced elsewhere. An incomplete
// investigation yields the fail-closed judgment and an error matching
// completeness.ErrToolDataMissing.
func (s *Service) Decide(ctx context.Context, inv *facts.InvestigationReport) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "judgment.Decide", traces.TransactionID(inv.TransactionID))
	defer span.End()
	defer observe("decide", time.Now())

	res, err := s.decide(ctx, inv)
	if err != nil {
		traces.Fail(span, err, "investigation incomplete")
	}
	traces.RecordJudgment(span, res.Judgment, string(res.Source))
	return res, err
}

func (s *Service) decide(ctx context.Context, inv *facts.InvestigationReport) (*Result, error) {
	logger := s.log(ctx, inv.TransactionID)

	if err := completeness.Check(inv); err != nil {
		var incomplete *completeness.IncompleteError
		if errors.As(err, &incomplete) {
			for _, f := range incomplete.Fields() {
				metrics.IncompleteInvestigationsTotal.WithLabelValues(f).Inc()
			}
		}
		logger.Warn("investigation incomplete, blocking", "error", err)
		return s.fallback(inv, facts.ErrorJudgment(inv.TransactionID, err)), err
	}

	judgment, matching := s.engine.DecideMatching(inv)
	if matching == nil {
		matching = []policy.Priority{}
	}

	logger.Info("judgment issued",
		"decision", judgment.Decision,
		"policy", judgment.PolicyApplied,
		"confidence", judgment.Confidence,
		"risk_score", inv.RiskScore,
	)
	metrics.RecordJudgment(string(judgment.Decision), judgment.PolicyApplied, string(audit.SourceEngine))

	return &Result{
		Investigation: inv,
		Judgment:      judgment,
		Matching:      matching,
		Source:        audit.SourceEngine,
		AuditID:       s.audit(audit.NewEntry(audit.SourceEngine, inv, judgment, nil)),
	}, nil
}

func (s *Service) fallback(inv *facts.InvestigationReport, judgment *facts.JudgmentDecision) *Result {
	metrics.RecordJudgment(string(judgment.Decision), judgment.PolicyApplied, string(audit.SourceFallback))
	return &Result{
		Investigation: inv,
		Judgment:      judgment,
		Matching:      []policy.Priority{},
		Source:        audit.SourceFallback,
		AuditID:       s.audit(audit.NewEntry(audit.SourceFallback, inv, judgment, nil)),
	}
}

// Validate audits an external judgment against the engine. Disagreement is
// reported, never returned as an error.
func (s *Service) Validate(ctx context.Context, inv *facts.InvestigationReport, external *facts.JudgmentDecision) *Validation {
	ctx, span := traces.StartSpan(ctx, "judgment.Validate",
		traces.TransactionID(inv.TransactionID), traces.PolicyApplied(external.PolicyApplied))
	defer span.End()
	defer observe("validate", time.Now())

	if external.TransactionID == "" {
		external.TransactionID = inv.TransactionID
	}
	report := s.validator.Check(logging.WithTransactionID(ctx, inv.TransactionID), external, inv)
	span.SetAttributes(traces.Decision(string(external.Decision.Normalize())), traces.Consistent(report.Consistent()))
	if !report.Consistent() {
		span.SetStatus(codes.Error, "judgment diverges from policy engine")
	}

	metrics.RecordJudgment(string(external.Decision.Normalize()), external.PolicyApplied, string(audit.SourceExternal))
	return &Validation{
		Report:  report,
		AuditID: s.audit(audit.NewEntry(audit.SourceExternal, inv, external, report)),
	}
}

func (s *Service) audit(entry *audit.Entry) string {
	if s.feed != nil {
		s.feed.Publish(entry)
	}
	if s.recorder == nil {
		return ""
	}
	s.recorder.Record(entry)
	return entry.ID
}

func observe(operation string, start time.Time) {
	metrics.JudgmentDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
