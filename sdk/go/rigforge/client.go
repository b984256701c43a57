package rigforge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// DefaultPollInterval is the interval WaitForInvocation uses between polls.
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the HTTP interactions with the RigForge REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Submission represents the payload required to create a new invocation.
type Submission struct {
	ID        string         `json:"id,omitempty"`
	ActionID  string         `json:"action_id"`
	Preset    string         `json:"preset,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

// ExecutionResult mirrors the result block of a finished invocation.
type ExecutionResult struct {
	AffectedNodes []string       `json:"affected_nodes,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Observations  string         `json:"observations,omitempty"`
}

// Invocation is the server-side view of a queued action invocation.
type Invocation struct {
	ID         string           `json:"id"`
	ActionID   string           `json:"action_id"`
	Preset     string           `json:"preset,omitempty"`
	Overrides  map[string]any   `json:"overrides,omitempty"`
	Params     map[string]any   `json:"params,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Terminal reports whether the invocation has reached a final state.
func (i *Invocation) Terminal() bool {
	return i.Status == "succeeded" || i.Status == "failed"
}

// ActionSummary is one entry of the action listing.
type ActionSummary struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Presets     []string `json:"presets,omitempty"`
}

// ActionAttribute describes one declared parameter of an action.
type ActionAttribute struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Default     any      `json:"default,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Options     []string `json:"options,omitempty"`
	Advanced    bool     `json:"advanced,omitempty"`
	Required    bool     `json:"required,omitempty"`
}

// ActionDetail is the full definition of one action.
type ActionDetail struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Color       [3]float64        `json:"color"`
	Attributes  []ActionAttribute `json:"attributes"`
	Presets     []string          `json:"presets,omitempty"`
}

// Stats summarises invocation counts by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Validating      int   `json:"validating"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListQuery narrows down ListInvocations results. Zero values are omitted.
type ListQuery struct {
	Limit     int
	Offset    int
	ActionID  string
	Statuses  []string
	HasResult *bool
	Query     string
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
	return fmt.Sprintf("rigforge api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the RigForge API. When httpClient is
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

// SubmitInvocation queues a new action invocation.
func (c *Client) SubmitInvocation(ctx context.Context, submission Submission) (*Invocation, error) {
	var inv Invocation
	if err := c.post(ctx, "/api/v1/invocations", submission, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvocation fetches one invocation by identifier.
func (c *Client) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	if id == "" {
		return nil, errors.New("rigforge: invocation id is empty")
	}
	var inv Invocation
	if err := c.get(ctx, "/api/v1/invocations/"+url.PathEscape(id), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInvocations queries recent invocations according to the query.
func (c *Client) ListInvocations(ctx context.Context, query ListQuery) ([]*Invocation, error) {
	var invocations []*Invocation
	if err := c.get(ctx, "/api/v1/invocations", query.values(), &invocations); err != nil {
		return nil, err
	}
	return invocations, nil
}

// Stats fetches the invocation counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListActions returns the loaded action definitions in registration order.
func (c *Client) ListActions(ctx context.Context) ([]ActionSummary, error) {
	var summaries []ActionSummary
	if err := c.get(ctx, "/api/v1/actions", nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetAction returns the full definition of one action including its
// attribute metadata.
func (c *Client) GetAction(ctx context.Context, id string) (*ActionDetail, error) {
	if id == "" {
		return nil, errors.New("rigforge: action id is empty")
	}
	var detail ActionDetail
	if err := c.get(ctx, "/api/v1/actions/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// WaitForInvocation polls until the invocation reaches a terminal state or
// the context is cancelled. A non-positive interval falls back to the default.
func (c *Client) WaitForInvocation(ctx context.Context, id string, interval time.Duration) (*Invocation, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		inv, err := c.GetInvocation(ctx, id)
		if err != nil {
			return nil, err
		}
		if inv.Terminal() {
			return inv, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q ListQuery) values() url.Values {
	values := url.Values{}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.ActionID != "" {
		values.Set("action", q.ActionID)
	}
	if len(q.Statuses) > 0 {
		values.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.HasResult != nil {
		values.Set("has_result", strconv.FormatBool(*q.HasResult))
	}
	if q.Query != "" {
		values.Set("q", q.Query)
	}
	return values
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
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
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

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
