// Package swappilot is a small Go client for the swappilot REST API.
package swappilot

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
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. The pipeline runs several remote stages, so it is
// longer than a typical API call.
const DefaultHTTPTimeout = 60 * time.Second

// Client wraps the HTTP interactions with the swappilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// SwapRequest is the natural-language swap query sent to the server.
type SwapRequest struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	Wallet  string `json:"wallet"`
	ChainID string `json:"chain_id,omitempty"`
}

// Token identifies a token in a confirmed intent.
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

// Intent is the parsed swap intent. Amounts are decimal strings.
type Intent struct {
	Source       Token  `json:"source"`
	Destination  Token  `json:"destination"`
	Amount       string `json:"amount"`
	Wallet       string `json:"wallet"`
	MaxSlippage  string `json:"max_slippage_pct"`
	PreferredDEX string `json:"preferred_dex,omitempty"`
}

// Quote is the selected route.
type Quote struct {
	RouteID        string    `json:"route_id"`
	Protocol       string    `json:"protocol,omitempty"`
	ExpectedOutput string    `json:"expected_output"`
	GasCost        string    `json:"gas_cost"`
	EstimatedGas   uint64    `json:"estimated_gas"`
	PriceImpact    string    `json:"price_impact_pct"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Confirmation is returned when a viable route was found.
type Confirmation struct {
	Intent           Intent          `json:"intent"`
	Quote            Quote           `json:"quote"`
	Snapshot         json.RawMessage `json:"snapshot"`
	MinReceived      string          `json:"min_received"`
	ApprovalRequired bool            `json:"approval_required"`
	Summary          string          `json:"summary"`
}

// Rejection carries a stable reason code and a human readable explanation.
type Rejection struct {
	Reason      string `json:"reason"`
	Explanation string `json:"explanation"`
}

// StageReport describes one pipeline stage.
type StageReport struct {
	Stage      string `json:"stage"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
	Code       string `json:"code,omitempty"`
}

// Metadata carries request level diagnostics.
type Metadata struct {
	RequestID   string        `json:"request_id"`
	ChainID     string        `json:"chain_id,omitempty"`
	Degraded    bool          `json:"degraded"`
	FinalState  string        `json:"final_state"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Stages      []StageReport `json:"stages,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// SwapResponse is either a confirmation or a rejection.
type SwapResponse struct {
	Outcome   string        `json:"outcome"`
	Confirmed *Confirmation `json:"confirmed,omitempty"`
	Rejected  *Rejection    `json:"rejected,omitempty"`
	Metadata  Metadata      `json:"metadata"`
}

// IsConfirmed reports whether the response carries a route.
func (r SwapResponse) IsConfirmed() bool {
	return r.Outcome == "confirmed" && r.Confirmed != nil
}

// Job is an asynchronous swap-path request.
type Job struct {
	ID          string        `json:"id"`
	Request     SwapRequest   `json:"request"`
	Status      string        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Response    *SwapResponse `json:"response,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
}

// Terminal reports whether the job will not change any more.
func (j Job) Terminal() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("swappilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("swappilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the swappilot API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// WithAPIKey returns a copy of the client that authenticates every request
// with the given key as a bearer token.
func (c *Client) WithAPIKey(key string) *Client {
	clone := *c
	clone.apiKey = key
	return &clone
}

// SwapPath runs the pipeline synchronously. Rejections are returned as a
// regular response, not as an error.
func (c *Client) SwapPath(ctx context.Context, req SwapRequest) (SwapResponse, error) {
	var resp SwapResponse
	if err := c.post(ctx, "/api/v1/swap-path", req, &resp); err != nil {
		return SwapResponse{}, err
	}
	return resp, nil
}

// SubmitJob enqueues an asynchronous swap-path job.
func (c *Client) SubmitJob(ctx context.Context, req SwapRequest) (Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/swap-jobs", req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/swap-jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WaitJob polls GetJob until the job is terminal or ctx is done.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// History lists the most recent jobs submitted for wallet.
func (c *Client) History(ctx context.Context, wallet string, limit int) ([]Job, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var body struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/v1/swap-history/"+url.PathEscape(wallet), query, &body); err != nil {
		return nil, err
	}
	return body.Jobs, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			var envelope struct {
				Error *APIError `json:"error"`
			}
			envelope.Error = &apiErr
			if err := json.Unmarshal(data, &envelope); err != nil {
				apiErr.Message = string(bytes.TrimSpace(data))
			}
		}
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
