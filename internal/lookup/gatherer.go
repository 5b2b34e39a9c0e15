package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamguard/streamguard/internal/circuitbreaker"
	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/retry"
	"github.com/streamguard/streamguard/internal/traces"
)

// ErrNoTransaction is returned when a request carries no transaction ID.
var ErrNoTransaction = errors.New("lookup: transaction id is required")

// Gatherer runs the three fact lookups for a transaction, each through the
// retry executor, and turns exhausted or failed lookups into status-tagged
// records.
type Gatherer struct {
	users         UserHistoryStore
	beneficiaries BeneficiaryStore
	sessions      SessionStore
	exec          *retry.Executor
	breaker       *circuitbreaker.Breaker
	logger        *slog.Logger
}

// GathererOption configures a Gatherer.
type GathererOption func(*Gatherer)

// WithBreaker skips lookups whose circuit is open.
func WithBreaker(b *circuitbreaker.Breaker) GathererOption {
	return func(g *Gatherer) { g.breaker = b }
}

// WithGathererLogger sets the logger.
func WithGathererLogger(l *slog.Logger) GathererOption {
	return func(g *Gatherer) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGatherer creates a gatherer. A nil executor uses the retry defaults.
func NewGatherer(users UserHistoryStore, beneficiaries BeneficiaryStore, sessions SessionStore, exec *retry.Executor, opts ...GathererOption) *Gatherer {
	if exec == nil {
		exec = retry.NewExecutor("lookup", retry.DefaultMaxAttempts, retry.DefaultInitialDelay)
	}
	g := &Gatherer{
		users:         users,
		beneficiaries: beneficiaries,
		sessions:      sessions,
		exec:          exec,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Gather collects every fact for req. When the request omits the user or
// beneficiary, the session is looked up first and supplies them; otherwise
// all three lookups run concurrently.
//
// Lookup failures never fail Gather; they show up in Gathered.Errored. It
// only returns an error for a missing transaction ID or a cancelled context.
func (g *Gatherer) Gather(ctx context.Context, req Request) (*Gathered, error) {
	if req.TransactionID == "" {
		return nil, ErrNoTransaction
	}
	logger := g.logger.With("transaction_id", req.TransactionID)

	out := &Gathered{Request: req, Amount: req.Amount}
	calls := make([]ToolCall, 3)

	sessionFirst := req.UserID == "" || req.BeneficiaryID == ""
	if sessionFirst {
		calls[2] = g.gatherSession(ctx, out, logger)
		if out.Record != nil {
			if req.UserID == "" {
				req.UserID = out.Record.UserID
			}
			if req.BeneficiaryID == "" {
				req.BeneficiaryID = out.Record.BeneficiaryID
			}
			out.Request = req
		}
	}

	var eg errgroup.Group
	eg.Go(func() error {
		calls[0] = g.gatherUser(ctx, req.UserID, out, logger)
		return nil
	})
	eg.Go(func() error {
		calls[1] = g.gatherBeneficiary(ctx, req.BeneficiaryID, out, logger)
		return nil
	})
	if !sessionFirst {
		eg.Go(func() error {
			calls[2] = g.gatherSession(ctx, out, logger)
			return nil
		})
	}
	_ = eg.Wait()

	if out.Session.UserID == "" {
		out.Session.UserID = req.UserID
	}
	out.ToolCalls = calls
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (g *Gatherer) gatherUser(ctx context.Context, userID string, out *Gathered, logger *slog.Logger) ToolCall {
	if userID == "" {
		return skipped(ToolUserHistory, "user_id")
	}
	prof, call := run(ctx, g, ToolUserHistory, func(ctx context.Context) retry.Outcome[facts.UserProfile] {
		return g.users.UserHistory(ctx, userID)
	})
	switch {
	case !call.Success:
		prof = facts.UserProfile{UserID: userID, Status: facts.StatusError}
		logger.Warn("user history lookup failed", "user_id", userID, "error", call.Error)
	case !call.Found:
		prof = facts.UserProfile{UserID: userID, Status: facts.StatusNotFound}
		logger.Info("user not found", "user_id", userID)
	default:
		prof.UserID = userID
	}
	out.User = prof
	return call
}

func (g *Gatherer) gatherBeneficiary(ctx context.Context, accountID string, out *Gathered, logger *slog.Logger) ToolCall {
	if accountID == "" {
		return skipped(ToolBeneficiaryRisk, "beneficiary_id")
	}
	b, call := run(ctx, g, ToolBeneficiaryRisk, func(ctx context.Context) retry.Outcome[facts.BeneficiaryRisk] {
		return g.beneficiaries.BeneficiaryRisk(ctx, accountID)
	})
	switch {
	case !call.Success:
		b = facts.NewBeneficiaryRisk(accountID)
		b.Status = facts.StatusError
		logger.Warn("beneficiary lookup failed", "account_id", accountID, "error", call.Error)
	case !call.Found:
		b = facts.NewBeneficiaryRisk(accountID)
		b.Status = facts.StatusNotFound
		logger.Info("beneficiary not found", "account_id", accountID)
	default:
		b.AccountID = accountID
	}
	out.Beneficiary = b
	return call
}

func (g *Gatherer) gatherSession(ctx context.Context, out *Gathered, logger *slog.Logger) ToolCall {
	txID := out.Request.TransactionID
	rec, call := run(ctx, g, ToolSessionContext, func(ctx context.Context) retry.Outcome[*SessionRecord] {
		return g.sessions.Session(ctx, txID)
	})
	switch {
	case !call.Success:
		out.Session = facts.SessionContext{TransactionID: txID, Status: facts.StatusError}
		logger.Warn("session lookup failed", "error", call.Error)
	case !call.Found || rec == nil:
		out.Session = facts.SessionContext{TransactionID: txID, Status: facts.StatusNoSessionFound}
		logger.Info("no session found")
	default:
		out.Record = rec
		out.Session = Enrich(rec)
		if out.Amount == nil {
			out.Amount = rec.Amount
		}
	}
	return call
}

// run drives op through the executor, behind the breaker when one is set.
func run[T any](ctx context.Context, g *Gatherer, tool string, op func(ctx context.Context) retry.Outcome[T]) (T, ToolCall) {
	ctx, span := traces.StartSpan(ctx, "lookup."+tool, traces.Tool(tool))
	defer span.End()
	start := time.Now()
	exec := g.exec.WithName(tool)

	var (
		v     T
		found bool
	)
	fetch := func() error {
		var err error
		v, found, err = retry.Fetch(ctx, exec, op)
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Guard(tool, fetch)
	} else {
		err = fetch()
	}

	call := ToolCall{Name: tool, Success: err == nil, Found: found, Latency: time.Since(start)}
	result := "found"
	switch {
	case err != nil:
		call.Error = err.Error()
		result = "error"
		traces.Fail(span, err, "lookup failed")
	case !found:
		result = "not_found"
	}
	span.SetAttributes(traces.LookupResult(result))
	toolCallsTotal.WithLabelValues(tool, result).Inc()
	toolDuration.WithLabelValues(tool).Observe(call.Latency.Seconds())
	return v, call
}

func skipped(tool, field string) ToolCall {
	toolCallsTotal.WithLabelValues(tool, "skipped").Inc()
	return ToolCall{Name: tool, Skipped: true, Error: fmt.Sprintf("skipped: no %s", field)}
}
