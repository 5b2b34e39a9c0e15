package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the StreamGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolTransactionFacts = mcp.NewTool("get_transaction_facts",
	mcp.WithDescription(
		"Gather the facts for a transaction: the sender's history, the beneficiary's risk "+
			"assessment, and the live session context (call status, device, location). "+
			"Each lookup reports whether it succeeded and how many attempts it took. "+
			"Use this before writing an investigation report."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to investigate (e.g. 'tx_123')")),
	mcp.WithString("user_id",
		mcp.Description("Sender ID. Taken from the session when omitted.")),
	mcp.WithString("beneficiary_id",
		mcp.Description("Destination account ID. Taken from the session when omitted.")),
)

var ToolJudgeTransaction = mcp.NewTool("judge_transaction",
	mcp.WithDescription(
		"Run the full judgment pipeline for a transaction: gather facts, score risk, and apply "+
			"the first matching fraud policy. Returns SAFE, HOLD or BLOCK with the policy that applied. "+
			"If facts are missing the result is a BLOCK that a human may override."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to judge")),
	mcp.WithString("user_id",
		mcp.Description("Sender ID, if known")),
	mcp.WithString("beneficiary_id",
		mcp.Description("Destination account ID, if known")),
	mcp.WithString("amount",
		mcp.Description("Transfer amount as a decimal string (e.g. '2500.00')")),
)

var ToolEvaluatePolicy = mcp.NewTool("evaluate_policy",
	mcp.WithDescription(
		"Apply the fraud policy table to an investigation report you have written. "+
			"Returns the decision the policies require and every policy that matched. "+
			"Nothing is recorded."),
	mcp.WithObject("investigation",
		mcp.Required(),
		mcp.Description("Investigation report: transaction_id, user_profile, beneficiary_analysis, "+
			"session_analysis, risk_score (0-100), risk_level, reasoning, recommendation, security_flags")),
)

var ToolValidateJudgment = mcp.NewTool("validate_judgment",
	mcp.WithDescription(
		"Check a judgment against the policy table before acting on it. "+
			"Reports discrepancies such as a SAFE decision where policy requires BLOCK, "+
			"a wrong policy number, or a human override that should not be allowed."),
	mcp.WithObject("investigation",
		mcp.Required(),
		mcp.Description("The investigation report the judgment was based on")),
	mcp.WithObject("judgment",
		mcp.Required(),
		mcp.Description("The judgment: decision, policy_applied, reasoning, action_required, "+
			"human_override_allowed, confidence, transaction_id, risk_score")),
)

var ToolListPolicies = mcp.NewTool("list_policies",
	mcp.WithDescription(
		"List the active fraud policies in priority order. The first matching policy decides."),
)

var ToolJudgmentHistory = mcp.NewTool("get_judgment_history",
	mcp.WithDescription(
		"List previously recorded judgments for a transaction, newest first."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to look up")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of judgments to return (default 20)")),
)
