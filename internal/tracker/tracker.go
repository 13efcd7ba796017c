// Package tracker owns per-subscription candle and quote state. It runs the
// backfill once per key, folds streamed ticks into the tail candle, and
// starts and stops the shared price feed with its consumers.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketsync/internal/candles"
	"marketsync/internal/fetcher"
	"marketsync/internal/interfaces"
	"marketsync/internal/loader"
	"marketsync/internal/logger"
	"marketsync/internal/metrics"
	"marketsync/internal/stream"
	"marketsync/internal/types"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("tracker closed")

type Key struct {
	Symbol     string
	Resolution string
}

// View is a point-in-time copy of one key's state.
type View struct {
	Symbol     string         `json:"symbol"`
	Resolution string         `json:"resolution"`
	Candles    []types.Candle `json:"candles"`
	Quote      types.Quote    `json:"quote"`
	Loading    bool           `json:"loading"`
	Error      string         `json:"error,omitempty"`
}

type Tracker struct {
	loader  *loader.Loader
	book    *stream.PriceBook
	feed    interfaces.PriceFeed
	pool    *fetcher.Pool
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[Key]*entry
	unwatch func()
	closed  bool
}

func New(l *loader.Loader, book *stream.PriceBook, feed interfaces.PriceFeed, pool *fetcher.Pool, m *metrics.Metrics) *Tracker {
	return &Tracker{
		loader:  l,
		book:    book,
		feed:    feed,
		pool:    pool,
		metrics: m,
		now:     time.Now,
		entries: make(map[Key]*entry),
	}
}

// Subscribe joins (or creates) the state for symbol at resolution. The
// first subscriber overall starts the feed; the first subscriber of a key
// triggers its backfill.
func (t *Tracker) Subscribe(ctx context.Context, symbol, resolution string) (*Subscription, error) {
	res, err := candles.LookupResolution(resolution)
	if err != nil {
		return nil, err
	}
	key := Key{Symbol: symbol, Resolution: res.Token}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	if len(t.entries) == 0 {
		t.unwatch = t.book.Watch(t.onTick)
		if err := t.feed.Start(ctx); err != nil {
			t.unwatch()
			t.unwatch = nil
			return nil, err
		}
	}

	e, ok := t.entries[key]
	if !ok {
		e = newEntry(ctx, key)
		t.entries[key] = e
		t.metrics.SetActiveSubscriptions(len(t.entries))
		go t.backfill(e)
	}

	sub := &Subscription{
		ID:      uuid.NewString(),
		tracker: t,
		entry:   e,
		updates: make(chan View, 1),
	}
	e.add(sub)

	logger.Debug(ctx, "Subscribed", "symbol", symbol, "resolution", res.Token, "subscription", sub.ID)
	return sub, nil
}

func (t *Tracker) backfill(e *entry) {
	started := t.now()
	res, err := t.loader.Load(e.ctx, e.key.Symbol, e.key.Resolution)
	if e.ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.ErrorWithErr(e.ctx, "Backfill failed", err, "symbol", e.key.Symbol, "resolution", e.key.Resolution)
	}

	live, haveLive := t.book.Get(e.key.Symbol)
	e.completeBackfill(res, err, live, haveLive && live.Timestamp >= started.UnixMilli())
}

func (t *Tracker) onTick(symbol string, state types.SymbolPriceState) {
	t.mu.Lock()
	targets := make([]*entry, 0, 2)
	for k, e := range t.entries {
		if k.Symbol == symbol {
			targets = append(targets, e)
		}
	}
	t.mu.Unlock()

	for _, e := range targets {
		e.applyTick(state, t.now())
	}
}

func (t *Tracker) release(sub *Subscription) {
	t.mu.Lock()
	e := sub.entry
	remaining := e.remove(sub)
	if remaining == 0 && t.entries[e.key] == e {
		delete(t.entries, e.key)
		e.cancel()
		t.metrics.SetActiveSubscriptions(len(t.entries))
	}
	stopFeed := len(t.entries) == 0 && t.unwatch != nil
	if stopFeed {
		t.unwatch()
		t.unwatch = nil
	}
	t.mu.Unlock()

	if stopFeed {
		ctx := context.Background()
		t.feed.Stop(ctx)
		t.book.Reset()
		logger.Info(ctx, "Last subscription closed, feed stopped")
	}
}

// View returns the current state for a subscribed key.
func (t *Tracker) View(symbol, resolution string) (View, bool) {
	res, err := candles.LookupResolution(resolution)
	if err != nil {
		return View{}, false
	}
	t.mu.Lock()
	e, ok := t.entries[Key{Symbol: symbol, Resolution: res.Token}]
	t.mu.Unlock()
	if !ok {
		return View{}, false
	}
	return e.snapshot(), true
}

// Prices is the point-in-time streamed price map.
func (t *Tracker) Prices() map[string]types.SymbolPriceState {
	return t.book.Snapshot()
}

func (t *Tracker) Price(symbol string) (types.SymbolPriceState, bool) {
	return t.book.Get(symbol)
}

func (t *Tracker) ConnectionState() types.ConnectionState {
	return t.feed.State()
}

// WatchSparkline keeps a polled fetcher running for key until release.
func (t *Tracker) WatchSparkline(ctx context.Context, key fetcher.Key) (release func(), err error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	_, release, err = t.pool.Acquire(ctx, key)
	return release, err
}

func (t *Tracker) Sparkline(key fetcher.Key) (fetcher.Snapshot, bool) {
	f, ok := t.pool.Get(key)
	if !ok {
		return fetcher.Snapshot{}, false
	}
	return f.Snapshot(), true
}

// Close releases every subscription and stops the feed and all fetchers.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	entries := t.entries
	t.entries = make(map[Key]*entry)
	unwatch := t.unwatch
	t.unwatch = nil
	t.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		e.closeAll()
	}
	if unwatch != nil {
		unwatch()
	}
	t.feed.Stop(ctx)
	t.book.Reset()
	t.pool.Close()
	t.metrics.SetActiveSubscriptions(0)
}
