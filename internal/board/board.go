// Package board derives the per-stage columns shown to the operator.
package board

import (
	"leadboard/internal/domain"
)

type Column struct {
	Stage domain.Stage  `json:"stage"`
	Label string        `json:"label"`
	Leads []domain.Lead `json:"leads"`
}

func (c Column) Count() int { return len(c.Leads) }

type Board struct {
	Columns []Column `json:"columns"`
	// Total counts every cached lead, including unassigned ones.
	Total int `json:"total"`
	// Unassigned holds ids whose stage is not a known column.
	Unassigned []int64 `json:"unassigned,omitempty"`
}

// Project groups leads into the fixed stage columns, keeping input order within each column.
// Leads with an unknown stage appear in no column.
func Project(leads []domain.Lead) Board {
	stages := domain.Stages()
	index := make(map[domain.Stage]int, len(stages))
	b := Board{Columns: make([]Column, len(stages)), Total: len(leads)}
	for i, s := range stages {
		index[s] = i
		b.Columns[i] = Column{Stage: s, Label: s.Label(), Leads: []domain.Lead{}}
	}
	for _, l := range leads {
		i, ok := index[l.Stage]
		if !ok {
			b.Unassigned = append(b.Unassigned, l.ID)
			continue
		}
		b.Columns[i].Leads = append(b.Columns[i].Leads, l)
	}
	return b
}

// Column returns the column for stage.
func (b Board) Column(stage domain.Stage) (Column, bool) {
	for _, c := range b.Columns {
		if c.Stage == stage {
			return c, true
		}
	}
	return Column{}, false
}

// Placed is the number of leads shown in some column.
func (b Board) Placed() int {
	n := 0
	for _, c := range b.Columns {
		n += len(c.Leads)
	}
	return n
}
