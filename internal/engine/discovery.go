package engine

import (
	"context"
	"fmt"
	"time"

	"leadboard/internal/events"
)

// Discover asks the external discovery job to run. Acceptance only means the job started,
// so the cache is reloaded once after the configured delay instead of waiting for completion.
func (e *Engine) Discover(ctx context.Context, targetCount int) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.discovering {
		e.mu.Unlock()
		return ErrDiscovering
	}
	e.discovering = true
	e.mu.Unlock()

	rctx, cancel := e.requestContext(context.WithoutCancel(ctx))
	err := e.store.TriggerDiscovery(rctx, targetCount)
	cancel()
	if err != nil {
		e.mu.Lock()
		e.discovering = false
		e.mu.Unlock()
		e.record(ctx, events.DiscoveryFailed, 0, "", events.EventPayload{"error": err.Error()})
		return fmt.Errorf("%w: trigger discovery: %w", ErrOperationFailed, err)
	}
	e.record(ctx, events.DiscoveryAccepted, 0, "", events.EventPayload{"target_count": targetCount})
	e.log.Info("discovery accepted", "target_count", targetCount, "reload_in", e.opts.DiscoveryReloadDelay)

	detached := context.WithoutCancel(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.discovering = false
		return nil
	}
	e.wg.Add(1)
	e.reloadTimer = time.AfterFunc(e.opts.DiscoveryReloadDelay, func() {
		defer e.wg.Done()
		e.reload(detached)
		e.mu.Lock()
		e.discovering = false
		e.reloadTimer = nil
		e.mu.Unlock()
	})
	return nil
}

// Discovering is true from an accepted Discover until its delayed reload has run.
func (e *Engine) Discovering() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discovering
}
