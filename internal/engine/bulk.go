package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"leadboard/internal/events"
)

// BulkError reports a partly or wholly failed bulk action once.
type BulkError struct {
	Op     string
	Failed []int64
	Total  int
	Err    error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("%s: %d of %d failed", e.Op, len(e.Failed), e.Total)
}

func (e *BulkError) Unwrap() []error {
	return []error{ErrOperationFailed, e.Err}
}

// DeleteLeads removes ids from the remote store, then reloads the cache once whatever the outcome.
func (e *Engine) DeleteLeads(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if e.isClosed() {
		return ErrClosed
	}
	detached := context.WithoutCancel(ctx)

	var (
		mu     sync.Mutex
		failed []int64
		errs   []error
		g      errgroup.Group
	)
	g.SetLimit(e.opts.DeleteConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			rctx, cancel := e.requestContext(detached)
			defer cancel()
			if err := e.store.DeleteLead(rctx, id); err != nil {
				mu.Lock()
				failed = append(failed, id)
				errs = append(errs, fmt.Errorf("lead %d: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(failed)

	e.record(ctx, events.BulkDelete, 0, "", events.EventPayload{"total": len(ids), "failed": len(failed)})
	e.reload(detached)

	if len(failed) > 0 {
		e.log.Warn("bulk delete failed", "failed", len(failed), "total", len(ids))
		return &BulkError{Op: "delete leads", Failed: failed, Total: len(ids), Err: errors.Join(errs...)}
	}
	e.log.Info("bulk delete done", "total", len(ids))
	return nil
}

// ClearLeads deletes every lead currently in the cache.
func (e *Engine) ClearLeads(ctx context.Context) (int, error) {
	ids := e.cache.IDs()
	return len(ids), e.DeleteLeads(ctx, ids)
}
