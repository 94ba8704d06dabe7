// Package agents tracks agent run history and triggers agent runs.
package agents

import (
	"context"
	"fmt"
	"sync"

	"leadboard/internal/domain"
)

// DefaultHistoryLimit bounds each history fetch.
const DefaultHistoryLimit = 20

type RunSource interface {
	AgentLogs(ctx context.Context, q domain.RunQuery) ([]domain.AgentRun, error)
}

// History holds the most recent runs as reported by the remote runner.
// Every refresh replaces the list wholesale.
type History struct {
	src   RunSource
	query domain.RunQuery

	mu      sync.RWMutex
	runs    []domain.AgentRun
	seq     uint64
	applied uint64
	subs    map[int]func([]domain.AgentRun)
	nextSub int
}

func NewHistory(src RunSource, q domain.RunQuery) *History {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	return &History{src: src, query: q, subs: map[int]func([]domain.AgentRun){}}
}

// Refresh fetches the latest runs. A fetch that answers after a newer one was applied is dropped.
func (h *History) Refresh(ctx context.Context) error {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	runs, err := h.src.AgentLogs(ctx, h.query)
	if err != nil {
		return fmt.Errorf("fetch agent history: %w", err)
	}

	h.mu.Lock()
	if seq < h.applied {
		h.mu.Unlock()
		return nil
	}
	h.applied = seq
	h.runs = append([]domain.AgentRun(nil), runs...)
	out := h.copyLocked()
	fns := make([]func([]domain.AgentRun), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(out)
	}
	return nil
}

// Runs returns the current list in remote order.
func (h *History) Runs() []domain.AgentRun {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.copyLocked()
}

// Latest returns the most recent run for agent, if the current list has one.
func (h *History) Latest(agent string) (domain.AgentRun, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.runs {
		if r.AgentName == agent {
			return r, true
		}
	}
	return domain.AgentRun{}, false
}

func (h *History) Subscribe(fn func([]domain.AgentRun)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *History) copyLocked() []domain.AgentRun {
	return append([]domain.AgentRun(nil), h.runs...)
}
