package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadboard/internal/domain"
)

// DefaultDiscoveryURL is the external endpoint that kicks off bulk lead discovery.
const DefaultDiscoveryURL = "https://mak-os.onrender.com/api/leads/discover"

// ErrNotFound matches a 404 from the remote API.
var ErrNotFound = errors.New("not found")

// Client talks to the remote lead store and agent runner.
type Client struct {
	BaseURL      string
	DiscoveryURL string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:      baseURL,
		DiscoveryURL: DefaultDiscoveryURL,
		Timeout:      10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ListLeads returns leads in remote order.
func (c *Client) ListLeads(ctx context.Context, q domain.LeadQuery) ([]domain.Lead, error) {
	params := url.Values{}
	if q.Skip > 0 {
		params.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Stage != "" {
		params.Set("status", string(q.Stage))
	}
	var resp []domain.Lead
	err := c.do(ctx, http.MethodGet, withQuery("api/leads", params), nil, &resp)
	return resp, err
}

// GetLead fetches a lead by id.
func (c *Client) GetLead(ctx context.Context, id int64) (domain.Lead, error) {
	var resp domain.Lead
	err := c.do(ctx, http.MethodGet, leadPath(id), nil, &resp)
	return resp, err
}

// CreateLead creates a lead; the remote store assigns the id.
func (c *Client) CreateLead(ctx context.Context, in domain.LeadCreate) (domain.Lead, error) {
	if err := in.Validate(); err != nil {
		return domain.Lead{}, err
	}
	var resp domain.Lead
	err := c.do(ctx, http.MethodPost, "api/leads", in, &resp)
	return resp, err
}

// UpdateLead applies a partial update.
func (c *Client) UpdateLead(ctx context.Context, id int64, upd domain.LeadUpdate) (domain.Lead, error) {
	if err := upd.Validate(); err != nil {
		return domain.Lead{}, err
	}
	var resp domain.Lead
	err := c.do(ctx, http.MethodPatch, leadPath(id), upd, &resp)
	return resp, err
}

// DeleteLead removes a lead.
func (c *Client) DeleteLead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, leadPath(id), nil, nil)
}

// ExecuteAgent asks the runner to schedule a run. Acceptance does not mean completion.
func (c *Client) ExecuteAgent(ctx context.Context, agentName string, input map[string]any) (domain.ExecuteResult, error) {
	body := map[string]any{"agent_name": agentName}
	if input != nil {
		body["context"] = input
	}
	var resp domain.ExecuteResult
	err := c.do(ctx, http.MethodPost, "api/agents/execute", body, &resp)
	return resp, err
}

// AgentLogs returns run history, most recent first.
func (c *Client) AgentLogs(ctx context.Context, q domain.RunQuery) ([]domain.AgentRun, error) {
	params := url.Values{}
	if q.Skip > 0 {
		params.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.AgentName != "" {
		params.Set("agent_name", q.AgentName)
	}
	var resp []domain.AgentRun
	err := c.do(ctx, http.MethodGet, withQuery("api/agents/logs", params), nil, &resp)
	return resp, err
}

// TriggerDiscovery posts to the discovery endpoint. A 2xx only means the job was accepted.
func (c *Client) TriggerDiscovery(ctx context.Context, targetCount int) error {
	endpoint := c.DiscoveryURL
	if endpoint == "" {
		endpoint = DefaultDiscoveryURL
	}
	var body any
	if targetCount > 0 {
		body = map[string]any{"target_count": targetCount}
	}
	return c.send(ctx, http.MethodPost, endpoint, body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.send(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), body, out)
}

func (c *Client) send(ctx context.Context, method, target string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func leadPath(id int64) string {
	return "api/leads/" + strconv.FormatInt(id, 10)
}

func withQuery(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}
