package server

import (
	"leadboard/internal/domain"
	"leadboard/internal/engine"
	"leadboard/internal/events"
)

type MoveRequest struct {
	// Empty Stage is a drop outside every column and changes nothing.
	Stage string `json:"stage,omitempty" doc:"target stage; empty means no drop target"`
	Wait  bool   `json:"wait,omitempty" doc:"block until the remote store answers"`
}

type DeleteLeadsRequest struct {
	IDs []int64 `json:"ids" minItems:"1"`
}

type ExecuteRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

type DiscoveryRequest struct {
	TargetCount int `json:"target_count,omitempty" minimum:"0"`
}

type TransitionResponse struct {
	ID     string `json:"id,omitempty"`
	LeadID int64  `json:"lead_id"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	State  string `json:"state" enum:"idle,pending,committed,rolled_back"`
	Error  string `json:"error,omitempty"`
}

type LeadResponse struct {
	domain.Lead
	SyncState string `json:"sync_state" enum:"idle,pending,committed,rolled_back"`
}

type AgentResponse struct {
	domain.Agent
	Executing bool             `json:"executing"`
	LastRun   *domain.AgentRun `json:"last_run,omitempty"`
}

type ReloadResponse struct {
	Leads int `json:"leads"`
}

type BulkResponse struct {
	Total  int     `json:"total"`
	Failed []int64 `json:"failed"`
}

type DiscoveryResponse struct {
	Accepted    bool `json:"accepted"`
	Discovering bool `json:"discovering"`
}

type paginatedEvents struct {
	Items []events.Event `json:"items"`
}

func transitionResponse(t *engine.Transition) TransitionResponse {
	resp := TransitionResponse{
		ID:     t.ID,
		LeadID: t.LeadID,
		From:   string(t.From),
		To:     string(t.To),
		State:  t.State().String(),
	}
	if err := t.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}
