package stream

import (
	"context"
	"math"
	"sync"
	"time"

	"marketsync/internal/interfaces"
	"marketsync/internal/logger"
	"marketsync/internal/types"
)

// WatchFunc is called after every applied tick with the symbol's new state.
type WatchFunc func(symbol string, state types.SymbolPriceState)

// PriceBook holds the latest SymbolPriceState per symbol. Only the feed
// writes to it; everything else reads or watches.
type PriceBook struct {
	mu       sync.RWMutex
	states   map[string]types.SymbolPriceState
	watchers map[uint64]WatchFunc
	nextID   uint64
	now      func() time.Time
}

var _ interfaces.TickSink = (*PriceBook)(nil)

func NewPriceBook() *PriceBook {
	return &PriceBook{
		states:   make(map[string]types.SymbolPriceState),
		watchers: make(map[uint64]WatchFunc),
		now:      time.Now,
	}
}

// Apply folds a tick into the symbol's state. PrevClose is pinned on the
// first tick of a symbol (tick.Open when positive, else the tick value) and
// is left alone until Reset. Invalid ticks are rejected.
func (b *PriceBook) Apply(tick types.PriceTick) bool {
	if tick.Symbol == "" || !validPrice(tick.Value) {
		return false
	}

	b.mu.Lock()
	prev, seen := b.states[tick.Symbol]

	next := prev
	if !seen {
		next.PrevClose = tick.Value
		if tick.Open != nil && validPrice(*tick.Open) && *tick.Open > 0 {
			next.PrevClose = *tick.Open
		}
		next.Open, next.High, next.Low, next.Close = tick.Value, tick.Value, tick.Value, tick.Value
	}
	next.Price = tick.Value
	if v, ok := optional(tick.Open); ok {
		next.Open = v
	}
	if v, ok := optional(tick.High); ok {
		next.High = v
	}
	if v, ok := optional(tick.Low); ok {
		next.Low = v
	}
	if v, ok := optional(tick.Close); ok {
		next.Close = v
	}
	next.Change = next.Price - next.PrevClose
	next.ChangePercent = types.PercentChange(next.Change, next.PrevClose)
	next.Timestamp = b.now().UnixMilli()

	b.states[tick.Symbol] = next
	watchers := make([]WatchFunc, 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	b.mu.Unlock()

	for _, fn := range watchers {
		notify(fn, tick.Symbol, next)
	}
	return true
}

func notify(fn WatchFunc, symbol string, state types.SymbolPriceState) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(context.Background(), "Price watcher panicked", "symbol", symbol, "panic", r)
		}
	}()
	fn(symbol, state)
}

func (b *PriceBook) Get(symbol string) (types.SymbolPriceState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[symbol]
	return s, ok
}

// Snapshot returns a copy of every symbol's state.
func (b *PriceBook) Snapshot() map[string]types.SymbolPriceState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]types.SymbolPriceState, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out
}

// Watch registers fn for every applied tick. The returned cancel is
// idempotent.
func (b *PriceBook) Watch(fn WatchFunc) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.watchers, id)
			b.mu.Unlock()
		})
	}
}

// Reset drops every state, releasing the anchors. Watchers stay registered.
func (b *PriceBook) Reset() {
	b.mu.Lock()
	b.states = make(map[string]types.SymbolPriceState)
	b.mu.Unlock()
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func optional(p *float64) (float64, bool) {
	if p == nil || !validPrice(*p) {
		return 0, false
	}
	return *p, true
}
