package fetcher

import (
	"context"
	"sync"

	"marketsync/internal/interfaces"
	"marketsync/internal/market"
)

// Pool shares one Fetcher per Key among all consumers. The fetcher starts
// with its first consumer and stops when the last one releases it.
type Pool struct {
	source interfaces.MarketDataSource
	hours  market.Hours
	opts   []Option

	mu      sync.Mutex
	entries map[Key]*poolEntry
}

type poolEntry struct {
	fetcher *Fetcher
	refs    int
}

func NewPool(source interfaces.MarketDataSource, hours market.Hours, opts ...Option) *Pool {
	return &Pool{
		source:  source,
		hours:   hours,
		opts:    opts,
		entries: make(map[Key]*poolEntry),
	}
}

// Acquire returns the shared fetcher for key and a release func. Release is
// idempotent.
func (p *Pool) Acquire(ctx context.Context, key Key) (*Fetcher, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		f, err := New(key, p.source, p.hours, p.opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := f.Start(ctx); err != nil {
			return nil, nil, err
		}
		e = &poolEntry{fetcher: f}
		p.entries[key] = e
	}
	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { p.release(key, e) })
	}
	return e.fetcher, release, nil
}

func (p *Pool) release(key Key, e *poolEntry) {
	p.mu.Lock()
	e.refs--
	last := e.refs == 0 && p.entries[key] == e
	if last {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if last {
		e.fetcher.Stop()
	}
}

// Get returns the running fetcher for key, if any consumer holds one.
func (p *Pool) Get(key Key) (*Fetcher, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	return e.fetcher, true
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close stops every fetcher regardless of outstanding references.
func (p *Pool) Close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[Key]*poolEntry)
	p.mu.Unlock()

	for _, e := range entries {
		e.fetcher.Stop()
	}
}
