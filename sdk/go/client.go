// Package leadboardsdk is a small client for the Leadboard dashboard API.
package leadboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running `lb serve`.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Lead is the API lead model (partial). Stage is sent as "status".
type Lead struct {
	ID            int64  `json:"id"`
	CompanyName   string `json:"company_name"`
	Stage         string `json:"status"`
	VettingStatus string `json:"vetting_status"`
	Score         int    `json:"score"`
	SyncState     string `json:"sync_state,omitempty"`
}

type Column struct {
	Stage string `json:"stage"`
	Label string `json:"label"`
	Leads []Lead `json:"leads"`
}

type Board struct {
	Columns    []Column `json:"columns"`
	Total      int      `json:"total"`
	Unassigned []int64  `json:"unassigned,omitempty"`
}

type Stats struct {
	TotalLeads     int            `json:"total_leads"`
	Approved       int            `json:"approved"`
	Rejected       int            `json:"rejected"`
	PipelineValue  int            `json:"pipeline_value"`
	ConversionRate float64        `json:"conversion_rate"`
	ByStage        map[string]int `json:"by_stage"`
}

// Transition reports the sync state of one move.
type Transition struct {
	ID     string `json:"id"`
	LeadID int64  `json:"lead_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	State  string `json:"state"`
	Error  string `json:"error"`
}

type AgentRun struct {
	ID             int64   `json:"id"`
	AgentName      string  `json:"agent_name"`
	StartTime      string  `json:"start_time"`
	EndTime        *string `json:"end_time"`
	Status         string  `json:"status"`
	LeadsProcessed int     `json:"leads_processed"`
}

type ExecuteResult struct {
	Status    string `json:"status"`
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
}

// Event is a journal entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	LeadID    *int64         `json:"lead_id"`
	Ref       string         `json:"ref"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code comes from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Board(ctx context.Context) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, "board", nil, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "stats", nil, &resp)
	return resp, err
}

// Lead returns the server's cached copy of a lead.
func (c *Client) Lead(ctx context.Context, id int64) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, "leads/"+strconv.FormatInt(id, 10), nil, &resp)
	return resp, err
}

// Move asks the server to move a lead. With wait the call returns after the remote store answers.
func (c *Client) Move(ctx context.Context, id int64, stage string, wait bool) (Transition, error) {
	body := map[string]any{"stage": stage, "wait": wait}
	var resp Transition
	err := c.do(ctx, http.MethodPost, "leads/"+strconv.FormatInt(id, 10)+"/move", body, &resp)
	return resp, err
}

func (c *Client) Reload(ctx context.Context) (int, error) {
	var resp struct {
		Leads int `json:"leads"`
	}
	err := c.do(ctx, http.MethodPost, "leads/reload", nil, &resp)
	return resp.Leads, err
}

func (c *Client) DeleteLeads(ctx context.Context, ids []int64) error {
	return c.do(ctx, http.MethodPost, "leads/delete", map[string]any{"ids": ids}, nil)
}

func (c *Client) Execute(ctx context.Context, agent string) (ExecuteResult, error) {
	var resp ExecuteResult
	err := c.do(ctx, http.MethodPost, "agents/"+url.PathEscape(agent)+"/execute", map[string]any{}, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, refresh bool) ([]AgentRun, error) {
	endpoint := "agents/history"
	if refresh {
		endpoint += "?refresh=true"
	}
	var resp []AgentRun
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Discover starts bulk discovery; the server reloads its board a few seconds later.
func (c *Client) Discover(ctx context.Context, targetCount int) error {
	return c.do(ctx, http.MethodPost, "discovery", map[string]any{"target_count": targetCount}, nil)
}

// Journal returns recent journal events, newest first.
func (c *Client) Journal(ctx context.Context, limit int, evtType string) ([]Event, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if evtType != "" {
		params.Set("type", evtType)
	}
	endpoint := "journal"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
