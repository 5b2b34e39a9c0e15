package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the StreamGuard API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	ClientID string // Sent as X-Client-ID; the API rate limits per client
}

// Client is a pure HTTP client for the StreamGuard judgment API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the StreamGuard API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// Fact lookups back off between attempts on the server side.
			Timeout: 60 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the API. Body keeps the raw payload
// because fail-closed responses still carry a judgment.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, string(e.Body))
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.ClientID != "" {
		req.Header.Set("X-Client-ID", c.cfg.ClientID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Body: respBody}
		var parsed struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Code = parsed.Error
			apiErr.Message = parsed.Message
		}
		return nil, apiErr
	}

	return json.RawMessage(respBody), nil
}

// TransactionFacts gathers the three fact lookups for a transaction.
func (c *Client) TransactionFacts(ctx context.Context, transactionID, userID, beneficiaryID string) (json.RawMessage, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if beneficiaryID != "" {
		q.Set("beneficiary_id", beneficiaryID)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(transactionID)+"/facts", q, nil)
}

// Judge runs the full pipeline for a transaction.
func (c *Client) Judge(ctx context.Context, transactionID, userID, beneficiaryID, amount string) (json.RawMessage, error) {
	body := map[string]any{"transaction_id": transactionID}
	if userID != "" {
		body["user_id"] = userID
	}
	if beneficiaryID != "" {
		body["beneficiary_id"] = beneficiaryID
	}
	if amount != "" {
		body["amount"] = amount
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/judgments", nil, body)
}

// EvaluatePolicy runs the policy table against a supplied investigation
// without auditing.
func (c *Client) EvaluatePolicy(ctx context.Context, investigation map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/policies/evaluate", nil, investigation)
}

// ValidateJudgment checks an externally produced judgment against the
// policy table.
func (c *Client) ValidateJudgment(ctx context.Context, investigation, judgment map[string]any) (json.RawMessage, error) {
	body := map[string]any{
		"investigation": investigation,
		"judgment":      judgment,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/judgments/validate", nil, body)
}

// ListPolicies returns the active policy table.
func (c *Client) ListPolicies(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/policies", nil, nil)
}

// JudgmentHistory lists audited judgments for a transaction.
func (c *Client) JudgmentHistory(ctx context.Context, transactionID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(transactionID)+"/judgments", q, nil)
}
