// Package cache holds the session's ordered mirror of the remote lead store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"leadboard/internal/domain"
)

var ErrNotFound = errors.New("lead not found")

// Loader is the read side of the remote lead store.
type Loader interface {
	ListLeads(ctx context.Context, q domain.LeadQuery) ([]domain.Lead, error)
}

type EventKind string

const (
	EventReloaded     EventKind = "reloaded"
	EventStageChanged EventKind = "stage_changed"
)

// Event describes a mutation that listeners observe.
type Event struct {
	Kind    EventKind
	LeadID  int64
	Version uint64
}

// Cache is keyed by lead id and keeps remote order. Listeners run synchronously after each mutation.
type Cache struct {
	loader Loader
	query  domain.LeadQuery

	mu         sync.RWMutex
	leads      *orderedmap.OrderedMap[int64, domain.Lead]
	version    uint64
	loadSeq    uint64
	appliedSeq uint64

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func New(loader Loader, q domain.LeadQuery) *Cache {
	return &Cache{
		loader: loader,
		query:  q,
		leads:  orderedmap.New[int64, domain.Lead](),
		subs:   map[int]func(Event){},
	}
}

// LoadAll replaces the whole cache from the remote store. It is the only way ids enter or leave.
// A load that finishes after a newer load has already been applied is dropped.
func (c *Cache) LoadAll(ctx context.Context) error {
	if c.loader == nil {
		return errors.New("cache has no loader")
	}
	seq := c.nextLoad()
	leads, err := c.loader.ListLeads(ctx, c.query)
	if err != nil {
		return fmt.Errorf("load leads: %w", err)
	}
	c.apply(seq, leads)
	return nil
}

// Replace installs leads wholesale as if they had just been loaded.
func (c *Cache) Replace(leads []domain.Lead) {
	c.apply(c.nextLoad(), leads)
}

func (c *Cache) nextLoad() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadSeq++
	return c.loadSeq
}

func (c *Cache) apply(seq uint64, leads []domain.Lead) {
	c.mu.Lock()
	if seq < c.appliedSeq {
		c.mu.Unlock()
		return
	}
	next := orderedmap.New[int64, domain.Lead]()
	for _, l := range leads {
		// duplicate ids keep their first position and the last value
		next.Set(l.ID, l.Clone())
	}
	c.leads = next
	c.appliedSeq = seq
	c.version++
	ev := Event{Kind: EventReloaded, Version: c.version}
	c.mu.Unlock()
	c.notify(ev)
}

// Get returns a copy of the cached lead.
func (c *Cache) Get(id int64) (domain.Lead, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.leads.Get(id)
	if !ok {
		return domain.Lead{}, false
	}
	return l.Clone(), true
}

// SetStage changes one lead's stage locally and returns the stage it replaced.
func (c *Cache) SetStage(id int64, stage domain.Stage) (domain.Stage, error) {
	c.mu.Lock()
	pair := c.leads.GetPair(id)
	if pair == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("lead %d: %w", id, ErrNotFound)
	}
	prev := pair.Value.Stage
	pair.Value.Stage = stage
	c.version++
	ev := Event{Kind: EventStageChanged, LeadID: id, Version: c.version}
	c.mu.Unlock()
	c.notify(ev)
	return prev, nil
}

// Snapshot returns the cached leads in order.
func (c *Cache) Snapshot() []domain.Lead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Lead, 0, c.leads.Len())
	for p := c.leads.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value.Clone())
	}
	return out
}

// SnapshotVersion returns the cached leads and the version they belong to, read under one lock.
func (c *Cache) SnapshotVersion() ([]domain.Lead, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Lead, 0, c.leads.Len())
	for p := c.leads.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value.Clone())
	}
	return out, c.version
}

// IDs returns the cached ids in order.
func (c *Cache) IDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int64, 0, c.leads.Len())
	for p := c.leads.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leads.Len()
}

// Version increases by one on every applied mutation.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Subscribe registers fn for every mutation. The returned func unregisters it.
func (c *Cache) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) notify(ev Event) {
	c.subMu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
