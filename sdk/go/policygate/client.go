package policygate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the policy gate REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Opportunity is a candidate market the caller wants evaluated.
type Opportunity struct {
	MarketID     string  `json:"market_id"`
	Title        string  `json:"title"`
	Confidence   float64 `json:"confidence"`
	RequiredUsdc float64 `json:"required_usdc"`
	Chain        string  `json:"chain"`
}

// RunRequest is the payload for starting a run.
type RunRequest struct {
	PolicyRef     string        `json:"policy_ref,omitempty"`
	Opportunities []Opportunity `json:"opportunities"`
}

// RunSummary mirrors the server side run counters.
type RunSummary struct {
	Evaluated         int `json:"evaluated"`
	Approved          int `json:"approved"`
	Refused           int `json:"refused"`
	ExecutionFailures int `json:"execution_failures"`
}

// RunResult is the complete outcome of a run.
type RunResult struct {
	RunID            string         `json:"run_id"`
	PolicyID         string         `json:"policy_id"`
	Summary          RunSummary     `json:"summary"`
	Refusals         map[string]int `json:"refusals,omitempty"`
	ConfirmationRefs []string       `json:"confirmation_refs"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}

// RunRecord wraps a run result with its stored status.
type RunRecord struct {
	RunID  string     `json:"run_id"`
	Status string     `json:"status"`
	Result *RunResult `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// AuditEntry is a read model of a committed ledger entry.
type AuditEntry struct {
	ID              string          `json:"id"`
	RunID           string          `json:"run_id"`
	Outcome         string          `json:"outcome"`
	Decision        json.RawMessage `json:"decision"`
	Execution       json.RawMessage `json:"execution,omitempty"`
	FailedStep      string          `json:"failed_step,omitempty"`
	FailureCause    string          `json:"failure_cause,omitempty"`
	ConfirmationRef string          `json:"confirmation_ref,omitempty"`
	LoggedAt        time.Time       `json:"logged_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("policygate api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the policy gate API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// StartRun submits a batch of opportunities and blocks until the run is done.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (RunRecord, error) {
	var record RunRecord
	if err := c.post(ctx, "/api/v1/runs", req, &record); err != nil {
		return RunRecord{}, err
	}
	return record, nil
}

// GetRun fetches a past run by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var record RunRecord
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), &record); err != nil {
		return RunRecord{}, err
	}
	return record, nil
}

// ListRuns returns the most recent runs.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var records []RunRecord
	endpoint := "/api/v1/runs"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListAudit returns the most recent audit ledger entries.
func (c *Client) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	endpoint := "/api/v1/audit"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.get(ctx, endpoint, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	query := ""
	if qpos := strings.IndexByte(endpoint, '?'); qpos >= 0 {
		query = endpoint[qpos+1:]
		endpoint = endpoint[:qpos]
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		// 即使状态码为 5xx，运行失败的响应体也可能携带结果。
		if out != nil && json.Valid(data) {
			if err := json.Unmarshal(data, out); err == nil {
				return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			}
		}
		message := string(bytes.TrimSpace(data))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
