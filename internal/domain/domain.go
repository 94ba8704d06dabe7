package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Stage is the pipeline column a lead occupies.
type Stage string

const (
	StageNew       Stage = "new"
	StageVetted    Stage = "vetted"
	StageEnriching Stage = "enriching"
	StageEnriched  Stage = "enriched"
	StageContacted Stage = "contacted"
)

var stages = []Stage{StageNew, StageVetted, StageEnriching, StageEnriched, StageContacted}

var stageLabels = map[Stage]string{
	StageNew:       "New",
	StageVetted:    "Vetted",
	StageEnriching: "Enriching",
	StageEnriched:  "Enriched",
	StageContacted: "Contacted",
}

// Stages returns the fixed board column order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// Known reports whether s is one of the five board stages.
func (s Stage) Known() bool {
	_, ok := stageLabels[s]
	return ok
}

// Label is the column heading for s; unknown stages echo their raw value.
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStage accepts only the five board stages.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Known() {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}

type VettingStatus string

const (
	VettingPending  VettingStatus = "pending"
	VettingApproved VettingStatus = "approved"
	VettingRejected VettingStatus = "rejected"
)

// Lead mirrors the remote lead record. The remote API names the stage field "status".
type Lead struct {
	ID            int64           `json:"id"`
	CompanyName   string          `json:"company_name"`
	Website       *string         `json:"website"`
	Region        *string         `json:"region"`
	Stage         Stage           `json:"status"`
	VettingStatus VettingStatus   `json:"vetting_status"`
	Score         int             `json:"score"`
	PainPoints    json.RawMessage `json:"pain_points,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	UpdatedAt     *string         `json:"updated_at,omitempty"`
}

// Clone returns a copy that shares no mutable memory with l.
func (l Lead) Clone() Lead {
	out := l
	if l.PainPoints != nil {
		out.PainPoints = bytes.Clone(l.PainPoints)
	}
	out.Website = cloneString(l.Website)
	out.Region = cloneString(l.Region)
	out.UpdatedAt = cloneString(l.UpdatedAt)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

type LeadCreate struct {
	CompanyName string  `json:"company_name" validate:"required,min=1,max=255"`
	Website     *string `json:"website,omitempty" validate:"omitempty,max=500"`
	Region      *string `json:"region,omitempty" validate:"omitempty,max=100"`
}

// LeadUpdate is a partial update; nil fields are left untouched remotely.
type LeadUpdate struct {
	CompanyName   *string         `json:"company_name,omitempty" validate:"omitempty,min=1,max=255"`
	Website       *string         `json:"website,omitempty"`
	Region        *string         `json:"region,omitempty"`
	Stage         *Stage          `json:"status,omitempty"`
	VettingStatus *VettingStatus  `json:"vetting_status,omitempty" validate:"omitempty,oneof=pending approved rejected"`
	PainPoints    json.RawMessage `json:"pain_points,omitempty"`
	Score         *int            `json:"score,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// StageUpdate builds the minimal patch used by drag transitions.
func StageUpdate(s Stage) LeadUpdate {
	return LeadUpdate{Stage: &s}
}

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// AgentRun is one execution recorded by the remote agent runner.
type AgentRun struct {
	ID             int64     `json:"id"`
	AgentName      string    `json:"agent_name"`
	StartTime      string    `json:"start_time"`
	EndTime        *string   `json:"end_time"`
	Status         RunStatus `json:"status"`
	LeadsProcessed int       `json:"leads_processed"`
	ErrorMessage   *string   `json:"error_message"`
	CreatedAt      string    `json:"created_at,omitempty"`
}

func (r AgentRun) Finished() bool {
	return r.EndTime != nil && *r.EndTime != ""
}

// Started parses the start timestamp.
func (r AgentRun) Started() (time.Time, error) {
	return ParseTimestamp(r.StartTime)
}

// Duration is the wall time of a finished run.
func (r AgentRun) Duration() (time.Duration, bool) {
	if !r.Finished() {
		return 0, false
	}
	start, err := ParseTimestamp(r.StartTime)
	if err != nil {
		return 0, false
	}
	end, err := ParseTimestamp(*r.EndTime)
	if err != nil {
		return 0, false
	}
	return end.Sub(start), true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC3339 and the naive ISO forms the remote API emits.
func ParseTimestamp(v string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}

// Agent describes a job the remote runner knows how to execute.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var agents = []Agent{
	{ID: "discovery", Name: "Discovery Agent", Description: "Ingest leads from external sources"},
	{ID: "vetting", Name: "Vetting Agent", Description: "Apply business rules to filter leads"},
	{ID: "tech_debt", Name: "Tech Debt Agent", Description: "Trigger website analysis workflows"},
}

// Agents returns the agent catalog in display order.
func Agents() []Agent {
	out := make([]Agent, len(agents))
	copy(out, agents)
	return out
}

type LeadQuery struct {
	Skip  int
	Limit int
	Stage Stage
}

type RunQuery struct {
	Skip      int
	Limit     int
	AgentName string
}

// ExecuteResult is the runner's acknowledgement of a scheduled run.
type ExecuteResult struct {
	Status    string `json:"status"`
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
}
