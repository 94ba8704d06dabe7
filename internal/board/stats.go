package board

import "leadboard/internal/domain"

// ValuePerApprovedLead is the pipeline value credited to each approved lead.
const ValuePerApprovedLead = 5000

type Stats struct {
	TotalLeads     int            `json:"total_leads"`
	Approved       int            `json:"approved"`
	Rejected       int            `json:"rejected"`
	PipelineValue  int            `json:"pipeline_value"`
	ConversionRate float64        `json:"conversion_rate"`
	ByStage        map[string]int `json:"by_stage"`
}

func Summarize(leads []domain.Lead) Stats {
	s := Stats{TotalLeads: len(leads), ByStage: map[string]int{}}
	for _, st := range domain.Stages() {
		s.ByStage[string(st)] = 0
	}
	for _, l := range leads {
		switch l.VettingStatus {
		case domain.VettingApproved:
			s.Approved++
		case domain.VettingRejected:
			s.Rejected++
		}
		if l.Stage.Known() {
			s.ByStage[string(l.Stage)]++
		}
	}
	s.PipelineValue = s.Approved * ValuePerApprovedLead
	if s.TotalLeads > 0 {
		s.ConversionRate = float64(s.Approved) / float64(s.TotalLeads) * 100
	}
	return s
}
