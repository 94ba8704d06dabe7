package engine

import (
	"context"
	"sync"

	"leadboard/internal/domain"
)

// State of one transition, or of a lead when read through LeadState.
type State int

const (
	Idle State = iota
	Pending
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Committed || s == RolledBack
}

// Transition is the handle for one in-flight stage change.
type Transition struct {
	ID     string
	LeadID int64
	From   domain.Stage
	To     domain.Stage

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newTransition(leadID int64, from, to domain.Stage) *Transition {
	return &Transition{
		ID:     newID(),
		LeadID: leadID,
		From:   from,
		To:     to,
		state:  Pending,
		done:   make(chan struct{}),
	}
}

func (t *Transition) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err is nil unless the transition rolled back, in which case it wraps ErrOperationFailed.
func (t *Transition) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the transition is terminal and any reconciling reload has finished.
func (t *Transition) Done() <-chan struct{} {
	return t.done
}

func (t *Transition) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transition) finish(state State, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	t.mu.Unlock()
	close(t.done)
}
