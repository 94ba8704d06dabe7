package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"leadboard/internal/domain"
	"leadboard/internal/events"
	"leadboard/internal/log"
)

// DefaultSettleDelay is how long an agent stays busy after its run request was accepted.
const DefaultSettleDelay = 2 * time.Second

var (
	ErrBusy            = errors.New("agent run already requested")
	ErrOperationFailed = errors.New("operation failed")
	ErrClosed          = errors.New("trigger closed")
)

type Runner interface {
	ExecuteAgent(ctx context.Context, agentName string, input map[string]any) (domain.ExecuteResult, error)
}

// Refresher re-fetches run history. poll.Poller satisfies it.
type Refresher interface {
	Refresh(ctx context.Context)
}

type Journal interface {
	Append(ctx context.Context, evtType string, leadID int64, ref string, payload events.EventPayload) error
}

type TriggerOptions struct {
	SettleDelay time.Duration
	Journal     Journal
	Logger      *slog.Logger
}

// Trigger sends run requests. An agent stays busy for the settle delay after acceptance;
// then history is refreshed once and the agent is released whatever the run's real status.
type Trigger struct {
	runner    Runner
	refresher Refresher
	opts      TriggerOptions
	log       *slog.Logger

	mu     sync.Mutex
	busy   map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

func NewTrigger(runner Runner, refresher Refresher, opts TriggerOptions) *Trigger {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithModule("agents")
	}
	return &Trigger{runner: runner, refresher: refresher, opts: opts, log: logger, busy: map[string]*time.Timer{}}
}

func (t *Trigger) Execute(ctx context.Context, agent string, input map[string]any) (domain.ExecuteResult, error) {
	if agent == "" {
		return domain.ExecuteResult{}, errors.New("agent name is required")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ExecuteResult{}, ErrClosed
	}
	if _, ok := t.busy[agent]; ok {
		t.mu.Unlock()
		return domain.ExecuteResult{}, fmt.Errorf("%s: %w", agent, ErrBusy)
	}
	// placeholder until the request is accepted
	t.busy[agent] = nil
	t.mu.Unlock()

	res, err := t.runner.ExecuteAgent(ctx, agent, input)
	if err != nil {
		t.mu.Lock()
		delete(t.busy, agent)
		t.mu.Unlock()
		t.record(ctx, events.AgentRejected, agent, events.EventPayload{"error": err.Error()})
		t.log.Warn("agent run rejected", "agent", agent, "error", err)
		return domain.ExecuteResult{}, fmt.Errorf("%w: execute %s: %w", ErrOperationFailed, agent, err)
	}
	t.record(ctx, events.AgentExecuted, agent, events.EventPayload{"status": res.Status, "message": res.Message})
	t.log.Info("agent run requested", "agent", agent, "status", res.Status)

	detached := context.WithoutCancel(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		delete(t.busy, agent)
		return res, nil
	}
	t.wg.Add(1)
	t.busy[agent] = time.AfterFunc(t.opts.SettleDelay, func() {
		defer t.wg.Done()
		if t.refresher != nil && !t.isClosed() {
			t.refresher.Refresh(detached)
		}
		t.mu.Lock()
		delete(t.busy, agent)
		t.mu.Unlock()
	})
	return res, nil
}

// Executing reports whether agent is inside its settle window.
func (t *Trigger) Executing(agent string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.busy[agent]
	return ok
}

// Close cancels pending settle timers and waits for any that already fired.
func (t *Trigger) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for agent, timer := range t.busy {
		if timer != nil && timer.Stop() {
			t.wg.Done()
		}
		delete(t.busy, agent)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Trigger) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Trigger) record(ctx context.Context, evtType, agent string, payload events.EventPayload) {
	if t.opts.Journal == nil {
		return
	}
	if err := t.opts.Journal.Append(context.WithoutCancel(ctx), evtType, 0, agent, payload); err != nil {
		t.log.Warn("journal append failed", "type", evtType, "error", err)
	}
}
