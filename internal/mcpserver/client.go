package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the scanner API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// ScannerClient is a pure HTTP client for the scanner API.
type ScannerClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewScannerClient creates a new client for the scanner API.
func NewScannerClient(cfg Config) *ScannerClient {
	return &ScannerClient{
		cfg: cfg,
		httpClient: &http.Client{
			// Scans walk large block ranges; give them room.
			Timeout: 5 * time.Minute,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *ScannerClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
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
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ScanWallet runs a scan for the owner address.
func (c *ScannerClient) ScanWallet(ctx context.Context, owner string, includeZero, force bool) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/scans", nil, map[string]any{
		"owner":                 owner,
		"includeZeroAllowances": includeZero,
		"force":                 force,
	})
}

// GetWalletReport fetches the latest stored report for an owner.
func (c *ScannerClient) GetWalletReport(ctx context.Context, owner string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(owner)+"/report", nil, nil)
}

// ListApprovals fetches the latest report's recommendations.
func (c *ScannerClient) ListApprovals(ctx context.Context, owner string, riskyOnly bool) (json.RawMessage, error) {
	q := url.Values{}
	if riskyOnly {
		q.Set("risky", "true")
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(owner)+"/approvals", q, nil)
}
