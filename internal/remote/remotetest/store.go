// Package remotetest provides an in-memory stand-in for the remote lead store and agent runner.
package remotetest

import (
	"context"
	"net/http"
	"sync"

	"leadboard/internal/domain"
	"leadboard/internal/remote"
)

// Store is safe for concurrent use. Hooks run outside the lock so they may block.
type Store struct {
	mu     sync.Mutex
	leads  []domain.Lead
	runs   []domain.AgentRun
	calls  map[string]int
	nextID int64

	OnList      func(ctx context.Context) error
	OnUpdate    func(ctx context.Context, id int64, upd domain.LeadUpdate) error
	OnDelete    func(ctx context.Context, id int64) error
	OnExecute   func(ctx context.Context, agent string) error
	OnLogs      func(ctx context.Context) error
	OnDiscovery func(ctx context.Context, target int) error
}

func NewStore(leads ...domain.Lead) *Store {
	s := &Store{calls: map[string]int{}}
	s.SetLeads(leads)
	return s
}

// SetLeads replaces the authoritative lead list.
func (s *Store) SetLeads(leads []domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = cloneLeads(leads)
	for _, l := range leads {
		if l.ID >= s.nextID {
			s.nextID = l.ID + 1
		}
	}
}

// Leads returns the authoritative lead list.
func (s *Store) Leads() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLeads(s.leads)
}

// SetRuns replaces the run history returned by AgentLogs.
func (s *Store) SetRuns(runs []domain.AgentRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append([]domain.AgentRun(nil), runs...)
}

// Calls reports how many times op was invoked (list, get, create, update, delete, execute, logs, discovery).
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *Store) ListLeads(ctx context.Context, q domain.LeadQuery) ([]domain.Lead, error) {
	s.count("list")
	if s.OnList != nil {
		if err := s.OnList(ctx); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, l := range s.leads {
		if q.Stage != "" && l.Stage != q.Stage {
			continue
		}
		out = append(out, l.Clone())
	}
	if q.Skip > 0 {
		if q.Skip >= len(out) {
			return []domain.Lead{}, nil
		}
		out = out[q.Skip:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) GetLead(ctx context.Context, id int64) (domain.Lead, error) {
	s.count("get")
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return domain.Lead{}, notFound()
	}
	return s.leads[i].Clone(), nil
}

func (s *Store) CreateLead(ctx context.Context, in domain.LeadCreate) (domain.Lead, error) {
	s.count("create")
	if err := in.Validate(); err != nil {
		return domain.Lead{}, &remote.APIError{StatusCode: http.StatusUnprocessableEntity, Body: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextID == 0 {
		s.nextID = 1
	}
	l := domain.Lead{
		ID:            s.nextID,
		CompanyName:   in.CompanyName,
		Website:       in.Website,
		Region:        in.Region,
		Stage:         domain.StageNew,
		VettingStatus: domain.VettingPending,
	}
	s.nextID++
	s.leads = append(s.leads, l)
	return l.Clone(), nil
}

func (s *Store) UpdateLead(ctx context.Context, id int64, upd domain.LeadUpdate) (domain.Lead, error) {
	s.count("update")
	if s.OnUpdate != nil {
		if err := s.OnUpdate(ctx, id, upd); err != nil {
			return domain.Lead{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return domain.Lead{}, notFound()
	}
	l := &s.leads[i]
	if upd.Stage != nil {
		l.Stage = *upd.Stage
	}
	if upd.VettingStatus != nil {
		l.VettingStatus = *upd.VettingStatus
	}
	if upd.Score != nil {
		l.Score = *upd.Score
	}
	if upd.CompanyName != nil {
		l.CompanyName = *upd.CompanyName
	}
	return l.Clone(), nil
}

func (s *Store) DeleteLead(ctx context.Context, id int64) error {
	s.count("delete")
	if s.OnDelete != nil {
		if err := s.OnDelete(ctx, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return notFound()
	}
	s.leads = append(s.leads[:i], s.leads[i+1:]...)
	return nil
}

func (s *Store) ExecuteAgent(ctx context.Context, agent string, input map[string]any) (domain.ExecuteResult, error) {
	s.count("execute")
	if s.OnExecute != nil {
		if err := s.OnExecute(ctx, agent); err != nil {
			return domain.ExecuteResult{}, err
		}
	}
	return domain.ExecuteResult{Status: "scheduled", AgentName: agent}, nil
}

func (s *Store) AgentLogs(ctx context.Context, q domain.RunQuery) ([]domain.AgentRun, error) {
	s.count("logs")
	if s.OnLogs != nil {
		if err := s.OnLogs(ctx); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AgentRun
	for _, r := range s.runs {
		if q.AgentName != "" && r.AgentName != q.AgentName {
			continue
		}
		out = append(out, r)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) TriggerDiscovery(ctx context.Context, target int) error {
	s.count("discovery")
	if s.OnDiscovery != nil {
		return s.OnDiscovery(ctx, target)
	}
	return nil
}

func (s *Store) index(id int64) int {
	for i, l := range s.leads {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func notFound() error {
	return &remote.APIError{StatusCode: http.StatusNotFound, Body: `{"detail":"Lead not found"}`}
}

func cloneLeads(in []domain.Lead) []domain.Lead {
	out := make([]domain.Lead, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}
