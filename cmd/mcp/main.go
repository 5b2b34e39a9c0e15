// StreamGuard MCP Server - Exposes fraud judgment tools to LLM agents
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/streamguard/streamguard/internal/logging"
	"github.com/streamguard/streamguard/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:   envOrDefault("STREAMGUARD_API_URL", "http://localhost:8080"),
		ClientID: envOrDefault("STREAMGUARD_CLIENT_ID", "mcp"),
	}

	// stdout carries the MCP protocol; logs go to stderr.
	logger := logging.NewWithWriter(os.Stderr, envOrDefault("LOG_LEVEL", "info"), "json")

	s := mcpserver.NewMCPServer(cfg, logger)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
