package mcpserver

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with all StreamGuard tools registered.
func NewMCPServer(cfg Config, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("streamguard", Version)
	h := NewHandlers(NewClient(cfg), logger)

	s.AddTool(ToolTransactionFacts, h.HandleTransactionFacts)
	s.AddTool(ToolJudgeTransaction, h.HandleJudgeTransaction)
	s.AddTool(ToolEvaluatePolicy, h.HandleEvaluatePolicy)
	s.AddTool(ToolValidateJudgment, h.HandleValidateJudgment)
	s.AddTool(ToolListPolicies, h.HandleListPolicies)
	s.AddTool(ToolJudgmentHistory, h.HandleJudgmentHistory)

	return s
}
