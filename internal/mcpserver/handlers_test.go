package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: ts.URL, ClientID: "test-agent"})
	h := NewHandlers(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var blockJudgment = map[string]any{
	"decision":               "BLOCK",
	"policy_applied":         1,
	"reasoning":              "Active voice call with a new beneficiary",
	"action_required":        "Block transaction and contact customer",
	"human_override_allowed": false,
	"confidence":             95,
	"transaction_id":         "tx_fraud",
	"risk_score":             95,
}

// ============================================================
// Client tests
// ============================================================

func TestClient_ClientIDHeader(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Client-ID")
		_, _ = w.Write([]byte(`{"policies":[]}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, ClientID: "agent-7"})
	_, err := client.ListPolicies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "agent-7", got)
}

func TestClient_APIError_WithMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":   "rate_limit_exceeded",
			"message": "Too many requests. Please slow down.",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.ListPolicies(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "rate_limit_exceeded", apiErr.Code)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestClient_APIError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.ListPolicies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListPolicies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListPolicies(ctx)
	require.Error(t, err)
}

func TestClient_TransactionFactsQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/tx_1/facts", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "b1", r.URL.Query().Get("beneficiary_id"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.TransactionFacts(context.Background(), "tx_1", "u1", "b1")
	require.NoError(t, err)
}

func TestClient_JudgeBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/judgments", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tx_1", body["transaction_id"])
		assert.Equal(t, "250.00", body["amount"])
		assert.NotContains(t, body, "user_id")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.Judge(context.Background(), "tx_1", "", "", "250.00")
	require.NoError(t, err)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleTransactionFacts(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"request":              map[string]any{"transaction_id": "tx_fraud"},
			"user_profile":         map[string]any{"user_id": "user_fraud", "account_tenure_days": 1200, "previous_violations": 0},
			"beneficiary_analysis": map[string]any{"account_id": "acc_mule", "risk_score": 95, "account_age_hours": 2},
			"session_analysis":     map[string]any{"transaction_id": "tx_fraud", "user_id": "user_fraud", "is_call_active": true},
			"tool_calls": []map[string]any{
				{"tool_name": "get_user_history", "success": true, "found": true},
				{"tool_name": "check_beneficiary_risk", "success": true, "found": true},
				{"tool_name": "get_session_context", "success": false, "error": "timeout"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleTransactionFacts(context.Background(), makeRequest(map[string]any{"transaction_id": "tx_fraud"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "User: user_fraud")
	assert.Contains(t, text, "Tenure: 1200 days")
	assert.Contains(t, text, "Beneficiary: acc_mule")
	assert.Contains(t, text, "Risk score: 95")
	assert.Contains(t, text, "Active call: true")
	assert.Contains(t, text, "get_session_context: failed: timeout")
}

func TestHandleTransactionFacts_RequiresID(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleTransactionFacts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "transaction_id is required")
}

func TestHandleJudgeTransaction(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"investigation": map[string]any{
				"transaction_id": "tx_fraud",
				"risk_score":     95,
				"risk_level":     "CRITICAL",
				"security_flags": map[string]bool{"active_voice_call": true, "new_beneficiary": true, "unusual_time": false},
			},
			"judgment": blockJudgment,
			"matching": []int{1, 2},
			"audit_id": "aud_1",
		})
	}))
	defer cleanup()

	result, err := h.HandleJudgeTransaction(context.Background(), makeRequest(map[string]any{"transaction_id": "tx_fraud"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Decision: BLOCK (policy 1, confidence 95%)")
	assert.Contains(t, text, "Human override: not allowed")
	assert.Contains(t, text, "Risk: 95 (CRITICAL)")
	assert.Contains(t, text, "Flags: active_voice_call, new_beneficiary")
	assert.NotContains(t, text, "unusual_time")
	assert.Contains(t, text, "Matching policies: 1, 2")
	assert.Contains(t, text, "Audit ID: aud_1")
}

func TestHandleJudgeTransaction_FailClosed(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		j := map[string]any{}
		for k, v := range blockJudgment {
			j[k] = v
		}
		j["policy_applied"] = 0
		j["human_override_allowed"] = true
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "incomplete_investigation",
			"message":  "investigation incomplete",
			"missing":  []string{"user_id", "account_id"},
			"judgment": j,
		})
	}))
	defer cleanup()

	result, err := h.HandleJudgeTransaction(context.Background(), makeRequest(map[string]any{"transaction_id": "tx_missing"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "could not be completed")
	assert.Contains(t, text, "Missing: user_id, account_id")
	assert.Contains(t, text, "Decision: BLOCK")
	assert.Contains(t, text, "Human override: allowed")
}

func TestHandleJudgeTransaction_PlainError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": "bad body"})
	}))
	defer cleanup()

	result, err := h.HandleJudgeTransaction(context.Background(), makeRequest(map[string]any{"transaction_id": "tx_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "bad body")
}

func TestHandleEvaluatePolicy(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/policies/evaluate", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tx_fraud", body["transaction_id"])
		writeJSON(w, http.StatusOK, map[string]any{"judgment": blockJudgment, "matching": []int{1, 4}})
	}))
	defer cleanup()

	result, err := h.HandleEvaluatePolicy(context.Background(), makeRequest(map[string]any{
		"investigation": map[string]any{"transaction_id": "tx_fraud", "risk_score": 95},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Decision: BLOCK")
	assert.Contains(t, text, "Also matched: 4")
}

func TestHandleEvaluatePolicy_RequiresInvestigation(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleEvaluatePolicy(context.Background(), makeRequest(map[string]any{"investigation": "not an object"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleValidateJudgment(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "investigation")
		assert.Contains(t, body, "judgment")
		writeJSON(w, http.StatusOK, map[string]any{
			"consistent": false,
			"report": map[string]any{
				"transaction_id": "tx_fraud",
				"expected":       blockJudgment,
				"matching":       []int{1},
				"discrepancies": []map[string]any{
					{"kind": "decision_mismatch", "severity": "warning", "message": "expected BLOCK, got SAFE"},
				},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleValidateJudgment(context.Background(), makeRequest(map[string]any{
		"investigation": map[string]any{"transaction_id": "tx_fraud"},
		"judgment":      map[string]any{"decision": "SAFE"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "NOT consistent")
	assert.Contains(t, text, "Expected: BLOCK under policy 1")
	assert.Contains(t, text, "[warning] decision_mismatch: expected BLOCK, got SAFE")
}

func TestHandleValidateJudgment_RequiresJudgment(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleValidateJudgment(context.Background(), makeRequest(map[string]any{
		"investigation": map[string]any{"transaction_id": "tx_fraud"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "judgment is required")
}

func TestHandleListPolicies(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"policies": []map[string]any{
				{"priority": 1, "name": "critical_risk", "label": "CRITICAL RISK", "decision": "BLOCK",
					"confidence": map[string]int{"min": 95, "max": 99}, "human_override_allowed": false},
				{"priority": 3, "name": "low_risk", "decision": "SAFE",
					"confidence": map[string]int{"min": 80, "max": 90}, "human_override_allowed": true},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListPolicies(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 active policies")
	assert.Contains(t, text, "1. CRITICAL RISK -> BLOCK (confidence 95-99)")
	assert.Contains(t, text, "3. low_risk -> SAFE (confidence 80-90, override allowed)")
}

func TestHandleJudgmentHistory(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/tx_fraud/judgments", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"judgments": []map[string]any{
				{"id": "aud_2", "transaction_id": "tx_fraud", "decision": "SAFE", "policy_applied": 3,
					"source": "external", "consistent": false, "created_at": "2026-01-15T12:00:00Z",
					"discrepancies": []map[string]any{{"kind": "decision_mismatch", "severity": "warning"}}},
				{"id": "aud_1", "transaction_id": "tx_fraud", "decision": "BLOCK", "policy_applied": 1,
					"source": "engine", "consistent": true, "created_at": "2026-01-15T11:59:00Z"},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleJudgmentHistory(context.Background(), makeRequest(map[string]any{
		"transaction_id": "tx_fraud",
		"limit":          float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 judgment(s) for tx_fraud")
	assert.Contains(t, text, "SAFE policy 3 (external) - 1 discrepancy(ies)")
	assert.Contains(t, text, "BLOCK policy 1 (engine)")
}

func TestHandleJudgmentHistory_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"judgments": []any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleJudgmentHistory(context.Background(), makeRequest(map[string]any{"transaction_id": "tx_none"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No judgments recorded for tx_none.")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"}, nil)
	require.NotNil(t, s)
}
