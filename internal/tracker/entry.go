package tracker

import (
	"context"
	"sync"
	"time"

	"marketsync/internal/candles"
	"marketsync/internal/loader"
	"marketsync/internal/types"
)

type entry struct {
	key    Key
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	view View
	subs map[*Subscription]struct{}

	// pending is the newest tick seen while loading.
	pending   *types.SymbolPriceState
	pendingAt time.Time
}

func newEntry(ctx context.Context, key Key) *entry {
	ectx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &entry{
		key:    key,
		ctx:    ectx,
		cancel: cancel,
		view: View{
			Symbol:     key.Symbol,
			Resolution: key.Resolution,
			Candles:    []types.Candle{},
			Loading:    true,
		},
		subs: make(map[*Subscription]struct{}),
	}
}

func (e *entry) add(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[s] = struct{}{}
	s.push(e.view)
}

// remove returns how many subscriptions are left.
func (e *entry) remove(s *Subscription) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[s]; ok {
		delete(e.subs, s)
		close(s.updates)
	}
	return len(e.subs)
}

func (e *entry) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for s := range e.subs {
		delete(e.subs, s)
		close(s.updates)
	}
}

func (e *entry) snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// completeBackfill installs the loader result. A tick held while loading
// wins over the loaded quote. Otherwise, when fresh is set, live is a book
// state newer than the load and wins instead.
func (e *entry) completeBackfill(res loader.Result, err error, live types.SymbolPriceState, fresh bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.view.Loading = false
	if err != nil {
		e.view.Error = err.Error()
		if e.pending != nil {
			e.foldLocked(*e.pending, e.pendingAt)
			e.pending = nil
		}
		e.publishLocked()
		return
	}

	e.view.Candles = res.Candles
	e.view.Quote = res.Quote
	if res.Err != nil {
		e.view.Error = res.Err.Error()
	}

	switch {
	case e.pending != nil:
		e.foldLocked(*e.pending, e.pendingAt)
	case fresh:
		e.foldLocked(live, time.UnixMilli(live.Timestamp))
	}
	e.pending = nil
	e.publishLocked()
}

// applyTick is held while loading and folded in by completeBackfill.
func (e *entry) applyTick(state types.SymbolPriceState, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.Err() != nil {
		return
	}
	if e.view.Loading {
		e.pending = &state
		e.pendingAt = now
		return
	}
	e.foldLocked(state, now)
	e.publishLocked()
}

func (e *entry) foldLocked(state types.SymbolPriceState, at time.Time) {
	price := state.Price
	if series, merged := candles.Merge(e.view.Candles, price); merged {
		e.view.Candles = series
	}

	q := e.view.Quote
	prevClose := q.PreviousClose
	if prevClose == 0 {
		prevClose = state.PrevClose
		q.PreviousClose = prevClose
	}
	q.Price = price
	q.Change = price - prevClose
	q.ChangePercent = types.PercentChange(q.Change, prevClose)
	if q.High != nil && price > *q.High {
		q.High = types.Float(price)
	}
	if q.Low != nil && price < *q.Low {
		q.Low = types.Float(price)
	}
	q.UpdatedAt = at
	e.view.Quote = q
}

func (e *entry) publishLocked() {
	for s := range e.subs {
		s.push(e.view)
	}
}
