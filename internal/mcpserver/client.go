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

// Config holds the configuration for connecting to the Sentinel API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Optional; required only for pattern mutations
}

// SentinelClient is a pure HTTP client for the Sentinel API.
type SentinelClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSentinelClient creates a new client for the Sentinel API.
func NewSentinelClient(cfg Config) *SentinelClient {
	return &SentinelClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *SentinelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
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

	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
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

// AnalyzeContract submits an analysis bundle for scanning.
func (c *SentinelClient) AnalyzeContract(ctx context.Context, bundle map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/scan", nil, bundle)
}

// GetScan fetches one scan report by ID.
func (c *SentinelClient) GetScan(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/scans/"+id, nil, nil)
}

// ListScans pages the scan audit trail, optionally filtered.
func (c *SentinelClient) ListScans(ctx context.Context, address, network string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if address != "" {
		q.Set("address", address)
	}
	if network != "" {
		q.Set("network", network)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/scans", q, nil)
}

// ListPatterns lists the pattern catalog, optionally filtered.
func (c *SentinelClient) ListPatterns(ctx context.Context, category, severity string) (json.RawMessage, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if severity != "" {
		q.Set("severity", severity)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/patterns", q, nil)
}

// GetPattern fetches one pattern by ID.
func (c *SentinelClient) GetPattern(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/patterns/"+id, nil, nil)
}

// CreatePattern registers a custom pattern. Requires the admin secret
// when the API runs with one configured.
func (c *SentinelClient) CreatePattern(ctx context.Context, pattern map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/patterns", nil, pattern)
}

// GetStats returns the detection surface summary.
func (c *SentinelClient) GetStats(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/stats", nil, nil)
}
