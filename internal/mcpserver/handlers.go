package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/streamguard/streamguard/internal/audit"
	"github.com/streamguard/streamguard/internal/consistency"
	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/lookup"
	"github.com/streamguard/streamguard/internal/policy"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{client: client, logger: logger}
}

// HandleTransactionFacts gathers the facts for a transaction.
func (h *Handlers) HandleTransactionFacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txID := req.GetString("transaction_id", "")
	if txID == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	raw, err := h.client.TransactionFacts(ctx, txID, req.GetString("user_id", ""), req.GetString("beneficiary_id", ""))
	if err != nil {
		h.logger.Warn("fact lookup failed", "transaction_id", txID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to gather facts: %v", err)), nil
	}

	text, err := formatFacts(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse facts: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleJudgeTransaction runs the full judgment pipeline.
func (h *Handlers) HandleJudgeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txID := req.GetString("transaction_id", "")
	if txID == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	raw, err := h.client.Judge(ctx, txID,
		req.GetString("user_id", ""),
		req.GetString("beneficiary_id", ""),
		req.GetString("amount", ""),
	)
	if err != nil {
		// Fail-closed responses still carry the judgment to act on.
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if text, ok := formatFailClosed(apiErr); ok {
				h.logger.Warn("judgment failed closed", "transaction_id", txID, "code", apiErr.Code)
				return mcp.NewToolResultText(text), nil
			}
		}
		return mcp.NewToolResultError(fmt.Sprintf("Judgment failed: %v", err)), nil
	}

	var res struct {
		Judgment *facts.JudgmentDecision    `json:"judgment"`
		Inv      *facts.InvestigationReport `json:"investigation"`
		Matching []policy.Priority          `json:"matching"`
		AuditID  string                     `json:"audit_id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || res.Judgment == nil {
		return mcp.NewToolResultError("Failed to parse judgment"), nil
	}

	var sb strings.Builder
	writeJudgment(&sb, res.Judgment)
	if res.Inv != nil {
		fmt.Fprintf(&sb, "Risk: %d (%s)\n", res.Inv.RiskScore, res.Inv.RiskLevel)
		if flags := activeFlags(res.Inv.SecurityFlags); len(flags) > 0 {
			fmt.Fprintf(&sb, "Flags: %s\n", strings.Join(flags, ", "))
		}
	}
	if len(res.Matching) > 0 {
		fmt.Fprintf(&sb, "Matching policies: %s\n", joinPriorities(res.Matching))
	}
	if res.AuditID != "" {
		fmt.Fprintf(&sb, "Audit ID: %s\n", res.AuditID)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleEvaluatePolicy applies the policy table to a supplied investigation.
func (h *Handlers) HandleEvaluatePolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, ok := objectArg(req, "investigation")
	if !ok {
		return mcp.NewToolResultError("investigation is required"), nil
	}

	raw, err := h.client.EvaluatePolicy(ctx, inv)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Policy evaluation failed: %v", err)), nil
	}

	var res struct {
		Judgment *facts.JudgmentDecision `json:"judgment"`
		Matching []policy.Priority       `json:"matching"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || res.Judgment == nil {
		return mcp.NewToolResultError("Failed to parse policy evaluation"), nil
	}

	var sb strings.Builder
	writeJudgment(&sb, res.Judgment)
	if len(res.Matching) > 1 {
		fmt.Fprintf(&sb, "Also matched: %s\n", joinPriorities(res.Matching[1:]))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleValidateJudgment checks a judgment against the policy table.
func (h *Handlers) HandleValidateJudgment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inv, ok := objectArg(req, "investigation")
	if !ok {
		return mcp.NewToolResultError("investigation is required"), nil
	}
	judgment, ok := objectArg(req, "judgment")
	if !ok {
		return mcp.NewToolResultError("judgment is required"), nil
	}

	raw, err := h.client.ValidateJudgment(ctx, inv, judgment)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Validation failed: %v", err)), nil
	}

	var res struct {
		Consistent bool                `json:"consistent"`
		Report     *consistency.Report `json:"report"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || res.Report == nil {
		return mcp.NewToolResultError("Failed to parse validation report"), nil
	}

	var sb strings.Builder
	if res.Consistent {
		sb.WriteString("Judgment is consistent with policy.\n")
	} else {
		sb.WriteString("Judgment is NOT consistent with policy.\n")
	}
	if res.Report.Expected != nil {
		fmt.Fprintf(&sb, "Expected: %s under policy %d\n", res.Report.Expected.Decision, res.Report.Expected.PolicyApplied)
	}
	if len(res.Report.Discrepancies) > 0 {
		sb.WriteString("\nDiscrepancies:\n")
		for _, d := range res.Report.Discrepancies {
			fmt.Fprintf(&sb, "  [%s] %s: %s\n", d.Severity, d.Kind, d.Message)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListPolicies lists the active policy table.
func (h *Handlers) HandleListPolicies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPolicies(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list policies: %v", err)), nil
	}

	var res struct {
		Policies []policy.Rule `json:"policies"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse policies: %v", err)), nil
	}
	if len(res.Policies) == 0 {
		return mcp.NewToolResultText("No policies configured."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d active policies (first match wins):\n\n", len(res.Policies))
	for _, r := range res.Policies {
		label := r.Name
		if r.Label != "" {
			label = r.Label
		}
		fmt.Fprintf(&sb, "%d. %s -> %s (confidence %d-%d", r.Priority, label, r.Decision, r.Confidence.Min, r.Confidence.Max)
		if r.HumanOverrideAllowed {
			sb.WriteString(", override allowed")
		}
		sb.WriteString(")\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleJudgmentHistory lists audited judgments for a transaction.
func (h *Handlers) HandleJudgmentHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txID := req.GetString("transaction_id", "")
	if txID == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.JudgmentHistory(ctx, txID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get judgment history: %v", err)), nil
	}

	var res struct {
		Judgments []audit.Entry `json:"judgments"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}
	if len(res.Judgments) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No judgments recorded for %s.", txID)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d judgment(s) for %s:\n\n", len(res.Judgments), txID)
	for i, e := range res.Judgments {
		fmt.Fprintf(&sb, "%d. %s %s policy %d (%s)", i+1, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Decision, e.PolicyApplied, e.Source)
		if !e.Consistent {
			fmt.Fprintf(&sb, " - %d discrepancy(ies)", len(e.Discrepancies))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatFacts(raw json.RawMessage) (string, error) {
	var g lookup.Gathered
	if err := json.Unmarshal(raw, &g); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Facts for %s:\n\n", g.Request.TransactionID)

	u := g.User
	fmt.Fprintf(&sb, "User: %s", u.UserID)
	if u.Status != facts.StatusOK {
		fmt.Fprintf(&sb, " (%s)", u.Status)
	}
	sb.WriteString("\n")
	if u.AccountTenureDays != nil {
		fmt.Fprintf(&sb, "  Tenure: %d days\n", *u.AccountTenureDays)
	}
	fmt.Fprintf(&sb, "  Previous violations: %d\n", u.PreviousViolations)

	b := g.Beneficiary
	fmt.Fprintf(&sb, "Beneficiary: %s", b.AccountID)
	if b.Status != facts.StatusOK {
		fmt.Fprintf(&sb, " (%s)", b.Status)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Risk score: %d\n", b.RiskScore)
	if b.AccountAgeHours != nil {
		fmt.Fprintf(&sb, "  Account age: %.0f hours\n", *b.AccountAgeHours)
	}

	s := g.Session
	sb.WriteString("Session:")
	if s.Status != facts.StatusOK {
		fmt.Fprintf(&sb, " %s", s.Status)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Active call: %t\n", s.IsCallActive)
	if len(s.RiskSignals) > 0 {
		fmt.Fprintf(&sb, "  Risk signals: %s\n", formatJSON(mustJSON(s.RiskSignals)))
	}

	if len(g.ToolCalls) > 0 {
		sb.WriteString("\nLookups:\n")
		for _, tc := range g.ToolCalls {
			state := "ok"
			switch {
			case !tc.Success:
				state = "failed: " + tc.Error
			case !tc.Found:
				state = "not found"
			}
			fmt.Fprintf(&sb, "  %s: %s\n", tc.Name, state)
		}
	}
	return sb.String(), nil
}

func formatFailClosed(apiErr *APIError) (string, bool) {
	var body struct {
		Message  string                  `json:"message"`
		Missing  []string                `json:"missing"`
		Judgment *facts.JudgmentDecision `json:"judgment"`
		AuditID  string                  `json:"audit_id"`
	}
	if json.Unmarshal(apiErr.Body, &body) != nil || body.Judgment == nil {
		return "", false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Investigation could not be completed (%s).\n", body.Message)
	if len(body.Missing) > 0 {
		fmt.Fprintf(&sb, "Missing: %s\n", strings.Join(body.Missing, ", "))
	}
	sb.WriteString("\n")
	writeJudgment(&sb, body.Judgment)
	if body.AuditID != "" {
		fmt.Fprintf(&sb, "Audit ID: %s\n", body.AuditID)
	}
	return sb.String(), true
}

func writeJudgment(sb *strings.Builder, j *facts.JudgmentDecision) {
	fmt.Fprintf(sb, "Decision: %s (policy %d, confidence %d%%)\n", j.Decision, j.PolicyApplied, j.Confidence)
	fmt.Fprintf(sb, "Action: %s\n", j.ActionRequired)
	if j.HumanOverrideAllowed {
		sb.WriteString("Human override: allowed\n")
	} else {
		sb.WriteString("Human override: not allowed\n")
	}
	if j.Reasoning != "" {
		fmt.Fprintf(sb, "Reasoning: %s\n", j.Reasoning)
	}
}

func activeFlags(flags map[string]bool) []string {
	var out []string
	for k, v := range flags {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func joinPriorities(ps []policy.Priority) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}

// objectArg extracts an object argument as a map.
func objectArg(req mcp.CallToolRequest, name string) (map[string]any, bool) {
	raw := req.GetArguments()[name]
	if raw == nil {
		return nil, false
	}
	m, ok := raw.(map[string]any)
	return m, ok && len(m) > 0
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Compact(&pretty, raw); err != nil {
		return string(raw)
	}
	return pretty.String()
}
