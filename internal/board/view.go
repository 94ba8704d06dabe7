package board

import (
	"sync"

	"leadboard/internal/cache"
)

// View keeps a Board projected from a cache, recomputed synchronously on every cache mutation.
type View struct {
	cache *cache.Cache
	unsub func()

	mu      sync.RWMutex
	current Board
	version uint64
	fns     map[int]func(Board)
	nextFn  int
}

func NewView(c *cache.Cache) *View {
	v := &View{cache: c, fns: map[int]func(Board){}}
	v.refresh()
	v.unsub = c.Subscribe(func(cache.Event) { v.refresh() })
	return v
}

// refresh may run concurrently for different mutations; an older projection never replaces a newer one.
func (v *View) refresh() {
	leads, version := v.cache.SnapshotVersion()
	b := Project(leads)
	v.mu.Lock()
	if version < v.version {
		v.mu.Unlock()
		return
	}
	v.current = b
	v.version = version
	fns := make([]func(Board), 0, len(v.fns))
	for _, fn := range v.fns {
		fns = append(fns, fn)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn(b)
	}
}

// Current returns the latest projection and the cache version it was built from.
func (v *View) Current() (Board, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.version
}

// Stats summarizes the leads currently cached.
func (v *View) Stats() Stats {
	return Summarize(v.cache.Snapshot())
}

// OnChange registers fn for every recomputed board. The returned func unregisters it.
func (v *View) OnChange(fn func(Board)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextFn
	v.nextFn++
	v.fns[id] = fn
	return func() {
		v.mu.Lock()
		delete(v.fns, id)
		v.mu.Unlock()
	}
}

// Close detaches the view from the cache.
func (v *View) Close() {
	if v.unsub != nil {
		v.unsub()
	}
}
