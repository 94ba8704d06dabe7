// Package engine applies stage changes to the cache before the remote store confirms them
// and reconciles the cache with the remote outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadboard/internal/cache"
	"leadboard/internal/domain"
	"leadboard/internal/events"
	"leadboard/internal/log"
)

var (
	// ErrOperationFailed is the single failure signal for remote operations.
	ErrOperationFailed = errors.New("operation failed")
	ErrUnknownStage    = errors.New("unknown stage")
	ErrNotFound        = cache.ErrNotFound
	ErrClosed          = errors.New("engine closed")
	ErrDiscovering     = errors.New("discovery already running")
)

// LeadStore is the write side of the remote lead store.
type LeadStore interface {
	UpdateLead(ctx context.Context, id int64, upd domain.LeadUpdate) (domain.Lead, error)
	DeleteLead(ctx context.Context, id int64) error
	TriggerDiscovery(ctx context.Context, targetCount int) error
}

// Journal receives one entry per engine event. Failures are logged and otherwise ignored.
type Journal interface {
	Append(ctx context.Context, evtType string, leadID int64, ref string, payload events.EventPayload) error
}

type Options struct {
	// RequestTimeout bounds each remote call. Zero means no engine-side limit.
	RequestTimeout time.Duration
	// SerializePerLead sends updates for the same lead one at a time, in the order they began.
	SerializePerLead     bool
	DiscoveryReloadDelay time.Duration
	DeleteConcurrency    int
	Journal              Journal
	Logger               *slog.Logger
}

const (
	DefaultDiscoveryReloadDelay = 3 * time.Second
	DefaultDeleteConcurrency    = 4
)

type Engine struct {
	cache *cache.Cache
	store LeadStore
	opts  Options
	log   *slog.Logger

	mu          sync.Mutex
	closed      bool
	inflight    map[int64]int
	last        map[int64]State
	tails       map[int64]chan struct{}
	discovering bool
	reloadTimer *time.Timer
	wg          sync.WaitGroup
}

func New(c *cache.Cache, store LeadStore, opts Options) *Engine {
	if opts.DiscoveryReloadDelay <= 0 {
		opts.DiscoveryReloadDelay = DefaultDiscoveryReloadDelay
	}
	if opts.DeleteConcurrency <= 0 {
		opts.DeleteConcurrency = DefaultDeleteConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithModule("engine")
	}
	return &Engine{
		cache:    c,
		store:    store,
		opts:     opts,
		log:      logger,
		inflight: map[int64]int{},
		last:     map[int64]State{},
		tails:    map[int64]chan struct{}{},
	}
}

// DragEnd is a completed drag. An empty Target means the lead was released outside every column.
type DragEnd struct {
	LeadID int64
	Target domain.Stage
}

// Begin starts a stage transition. The cache reflects the new stage before Begin returns;
// the remote update runs in the background. A drop with no target returns a nil transition.
func (e *Engine) Begin(ctx context.Context, drag DragEnd) (*Transition, error) {
	if drag.Target == "" {
		return nil, nil
	}
	if !drag.Target.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, drag.Target)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.inflight[drag.LeadID]++
	e.mu.Unlock()

	// listeners run inside SetStage, so no engine lock is held here
	from, err := e.cache.SetStage(drag.LeadID, drag.Target)
	if err != nil {
		e.mu.Lock()
		e.release(drag.LeadID)
		e.mu.Unlock()
		return nil, err
	}
	t := newTransition(drag.LeadID, from, drag.Target)
	e.record(ctx, events.TransitionPending, t.LeadID, t.ID, events.EventPayload{"from": string(from), "to": string(t.To)})
	e.log.Debug("transition pending", "transition", t.ID, "lead", t.LeadID, "from", from, "to", t.To)

	var prev chan struct{}
	sent := make(chan struct{})
	e.mu.Lock()
	if e.opts.SerializePerLead {
		prev = e.tails[drag.LeadID]
		e.tails[drag.LeadID] = sent
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(context.WithoutCancel(ctx), t, prev, sent)
	return t, nil
}

// Move begins a transition and waits for it to resolve.
func (e *Engine) Move(ctx context.Context, leadID int64, target domain.Stage) (*Transition, error) {
	t, err := e.Begin(ctx, DragEnd{LeadID: leadID, Target: target})
	if err != nil || t == nil {
		return t, err
	}
	if err := t.Wait(ctx); err != nil {
		return t, err
	}
	return t, t.Err()
}

func (e *Engine) run(ctx context.Context, t *Transition, prev, sent chan struct{}) {
	defer e.wg.Done()
	if prev != nil {
		<-prev
	}
	rctx, cancel := e.requestContext(ctx)
	_, err := e.store.UpdateLead(rctx, t.LeadID, domain.StageUpdate(t.To))
	cancel()
	close(sent)
	e.resolve(ctx, t, err)
}

func (e *Engine) resolve(ctx context.Context, t *Transition, remoteErr error) {
	state := Committed
	var err error
	if remoteErr != nil {
		state = RolledBack
		err = fmt.Errorf("%w: update lead %d: %w", ErrOperationFailed, t.LeadID, remoteErr)
	}

	e.mu.Lock()
	e.release(t.LeadID)
	e.last[t.LeadID] = state
	if tail, ok := e.tails[t.LeadID]; ok && isClosed(tail) {
		delete(e.tails, t.LeadID)
	}
	closed := e.closed
	e.mu.Unlock()

	if closed {
		// late response: resolve the handle, leave the cache alone
		t.finish(state, err)
		return
	}
	if state == Committed {
		e.record(ctx, events.TransitionCommitted, t.LeadID, t.ID, nil)
		e.log.Debug("transition committed", "transition", t.ID, "lead", t.LeadID)
		t.finish(state, nil)
		return
	}
	e.record(ctx, events.TransitionRolledBack, t.LeadID, t.ID, events.EventPayload{"error": remoteErr.Error()})
	e.log.Warn("stage update failed, reloading", "transition", t.ID, "lead", t.LeadID, "error", remoteErr)
	e.reload(ctx)
	t.finish(state, err)
}

// reload replaces the cache from the remote store unless the engine has been closed.
func (e *Engine) reload(ctx context.Context) {
	if e.isClosed() {
		return
	}
	rctx, cancel := e.requestContext(ctx)
	defer cancel()
	if err := e.cache.LoadAll(rctx); err != nil {
		e.log.Error("reload failed", "error", err)
		e.record(ctx, events.CacheReloadFailed, 0, "", events.EventPayload{"error": err.Error()})
	}
}

// LeadState is Pending while any transition for id is in flight, otherwise the outcome of the
// last response to arrive, or Idle if none has.
func (e *Engine) LeadState(id int64) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[id] > 0 {
		return Pending
	}
	if s, ok := e.last[id]; ok {
		return s
	}
	return Idle
}

// Pending reports the ids with a transition in flight.
func (e *Engine) Pending() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int64, 0, len(e.inflight))
	for id := range e.inflight {
		out = append(out, id)
	}
	return out
}

// Close stops the engine from touching the cache. In-flight requests keep running and resolve
// their transitions when they answer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.reloadTimer != nil {
		if e.reloadTimer.Stop() {
			e.wg.Done()
		}
		e.reloadTimer = nil
	}
	e.discovering = false
}

// Drain waits for background work started before the call, or for ctx.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release must be called with e.mu held.
func (e *Engine) release(id int64) {
	e.inflight[id]--
	if e.inflight[id] <= 0 {
		delete(e.inflight, id)
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) record(ctx context.Context, evtType string, leadID int64, ref string, payload events.EventPayload) {
	if e.opts.Journal == nil {
		return
	}
	if err := e.opts.Journal.Append(context.WithoutCancel(ctx), evtType, leadID, ref, payload); err != nil {
		e.log.Warn("journal append failed", "type", evtType, "error", err)
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func newID() string {
	return uuid.NewString()
}
