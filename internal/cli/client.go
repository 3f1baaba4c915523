package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/pkg/model"
)

// Client reads run history from a remote tickbatch results API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a results API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Logger:     logging.Component(logger, "client"),
	}
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// Get performs a GET request and returns the parsed envelope. An error
// envelope is returned as its *model.APIError.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*apiResponse, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.Logger.Debug("HTTP request", "method", http.MethodGet, "url", u)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.Logger.Debug("HTTP response", "status", resp.StatusCode, "bytes", len(body))

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.Status == "error" && apiResp.Error != nil {
		return &apiResp, apiResp.Error
	}
	return &apiResp, nil
}

// ListRuns fetches one page of runs.
func (c *Client) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(opts.Limit))
	q.Set("offset", fmt.Sprint(opts.Offset))
	if opts.Outcome != "" {
		q.Set("outcome", opts.Outcome)
	}
	resp, err := c.Get(ctx, "/api/v1/runs", q)
	if err != nil {
		return nil, 0, err
	}
	var runs []*model.Run
	if err := json.Unmarshal(resp.Data, &runs); err != nil {
		return nil, 0, fmt.Errorf("parse runs: %w", err)
	}
	total := len(runs)
	if resp.Pagination != nil {
		total = resp.Pagination.Total
	}
	return runs, total, nil
}

// ListCaseResults fetches the case results of one run.
func (c *Client) ListCaseResults(ctx context.Context, runID string) ([]*model.CaseResult, error) {
	resp, err := c.Get(ctx, "/api/v1/runs/"+url.PathEscape(runID)+"/cases", nil)
	if err != nil {
		return nil, err
	}
	var results []*model.CaseResult
	if err := json.Unmarshal(resp.Data, &results); err != nil {
		return nil, fmt.Errorf("parse case results: %w", err)
	}
	return results, nil
}
